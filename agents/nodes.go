package agents

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/corenexus/agentflow/cost"
	"github.com/corenexus/agentflow/gateway"
	"github.com/corenexus/agentflow/gateway/quota"
	"github.com/corenexus/agentflow/graph"
	"github.com/corenexus/agentflow/graph/model"
	"github.com/corenexus/agentflow/graph/tool"
)

// complexityKeywords are the signal words that force a query to COMPLEX
// regardless of length, per spec.md §8 scenario S1's classification rule.
var complexityKeywords = []string{
	"design", "architecture", "compare", "analyze", "multi-step",
	"integrate", "migrate", "optimize", "refactor", "build a",
}

// NodeDeps are the shared collaborators every agent node in this workflow
// needs: a provider gateway to call out through, the chat models it can
// route to by provider name, and a cost tracker shared across the whole run.
type NodeDeps struct {
	Gateway      *gateway.Gateway
	Models       map[string]model.ChatModel
	Tracker      *cost.Tracker
	WorkflowID   string
	PreferredAt  map[string]string // nodeID -> preferred provider name, optional
	Rand         *rand.Rand
	ResearchTool tool.Tool // optional; gathers raw material before the researcher's LLM call
}

func (d NodeDeps) preferredFor(nodeID string) string {
	if d.PreferredAt == nil {
		return ""
	}
	return d.PreferredAt[nodeID]
}

// callModel runs one LLM turn through the gateway's full quota/router/
// ratelimit/breaker/retry pipeline, recording usage against deps.Tracker.
func callModel(ctx context.Context, deps NodeDeps, nodeID, systemPrompt, userContent string) (string, error) {
	fn := func(ctx context.Context, provider string) (any, string, int, int, error) {
		m, ok := deps.Models[provider]
		if !ok {
			return nil, "", 0, 0, fmt.Errorf("agents: no chat model configured for provider %q", provider)
		}
		out, err := m.Chat(ctx, []model.Message{
			{Role: model.RoleSystem, Content: systemPrompt},
			{Role: model.RoleUser, Content: userContent},
		}, nil)
		if err != nil {
			return nil, "", 0, 0, err
		}
		promptTokens := len(strings.Fields(systemPrompt)) + len(strings.Fields(userContent))
		completionTokens := len(strings.Fields(out.Text))
		return out.Text, provider, promptTokens, completionTokens, nil
	}

	estimatedTokens := int64(len(strings.Fields(systemPrompt))+len(strings.Fields(userContent))) * 2
	scope := quota.ScopeKey{WorkflowID: deps.WorkflowID}
	result, err := deps.Gateway.Call(ctx, scope, deps.preferredFor(nodeID), estimatedTokens, deps.Tracker, nodeID, deps.Rand, fn)
	if err != nil {
		return "", err
	}
	text, _ := result.Value.(string)
	return text, nil
}

// classifyComplexity implements spec.md §8 scenario S1's heuristic: SIMPLE
// when the input is ten tokens or fewer and contains none of the signal
// words that indicate a genuinely multi-step request.
func classifyComplexity(input string) Complexity {
	tokens := strings.Fields(input)
	if len(tokens) > 10 {
		return ComplexityComplex
	}
	lower := strings.ToLower(input)
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			return ComplexityComplex
		}
	}
	return ComplexitySimple
}

// gatherRaw runs deps.ResearchTool, if one is configured, and folds its
// result into the query before the researcher's LLM call, the same
// fetch-then-summarize shape the teacher's own research pipeline example
// uses its mock research tools for.
func gatherRaw(ctx context.Context, deps NodeDeps, input string) string {
	if deps.ResearchTool == nil {
		return input
	}
	out, err := deps.ResearchTool.Call(ctx, map[string]interface{}{"query": input})
	if err != nil {
		return input
	}
	return fmt.Sprintf("%s\n\nRaw material:\n%v", input, out)
}

// NewResearcherNode classifies the query's complexity deterministically and
// gathers research_data via an LLM call through the gateway: a direct,
// concise answer for SIMPLE queries or research-only mode, and background
// for the planner otherwise.
func NewResearcherNode(deps NodeDeps) graph.Node {
	return graph.NodeFunc(func(ctx context.Context, state graph.State) graph.NodeResult {
		input, _ := state[SlotInput].(string)
		complexity := classifyComplexity(input)

		delta := graph.State{
			SlotQueryComplexity: string(complexity),
		}

		mode, _ := state[SlotMode].(string)
		if complexity == ComplexitySimple || mode == ModeResearchOnly {
			research, err := callModel(ctx, deps, "researcher",
				"You are a research agent. Answer directly and concisely.", gatherRaw(ctx, deps, input))
			if err != nil {
				return graph.NodeResult{Err: err}
			}
			delta[SlotResearchData] = research
			return graph.NodeResult{Delta: delta}
		}

		research, err := callModel(ctx, deps, "researcher",
			"You are a research agent gathering background for a complex task. Summarize the key facts a planner would need.", gatherRaw(ctx, deps, input))
		if err != nil {
			return graph.NodeResult{Err: err}
		}
		delta[SlotResearchData] = research
		return graph.NodeResult{Delta: delta}
	})
}

// NewPlannerNode turns research_data into a concrete plan_data step list.
func NewPlannerNode(deps NodeDeps) graph.Node {
	return graph.NodeFunc(func(ctx context.Context, state graph.State) graph.NodeResult {
		research, _ := state[SlotResearchData].(string)
		plan, err := callModel(ctx, deps, "planner",
			"You are a planning agent. Break the task into a short ordered list of concrete steps.", research)
		if err != nil {
			return graph.NodeResult{Err: err}
		}
		return graph.NodeResult{Delta: graph.State{SlotPlanData: plan}}
	})
}

// NewExecutorNode carries out plan_data via an LLM call through the gateway.
// It is not an interrupt-before gate in this repository's wiring.
func NewExecutorNode(deps NodeDeps) graph.Node {
	return graph.NodeFunc(func(ctx context.Context, state graph.State) graph.NodeResult {
		plan, _ := state[SlotPlanData].(string)
		execution, err := callModel(ctx, deps, "executor",
			"You are an execution agent. Carry out the plan and report what was done.", plan)
		if err != nil {
			return graph.NodeResult{Err: err}
		}
		return graph.NodeResult{Delta: graph.State{SlotExecutionData: execution}}
	})
}

// NewCoderNode produces code_data from execution_data, the step that
// follows execution in the full pipeline.
func NewCoderNode(deps NodeDeps) graph.Node {
	return graph.NodeFunc(func(ctx context.Context, state graph.State) graph.NodeResult {
		execution, _ := state[SlotExecutionData].(string)
		code, err := callModel(ctx, deps, "coder",
			"You are a coding agent. Produce the code implementing the executed plan.", execution)
		if err != nil {
			return graph.NodeResult{Err: err}
		}
		return graph.NodeResult{Delta: graph.State{SlotCodeData: code}}
	})
}

// NewFinalizerNode assembles whatever slots the run populated into a single
// final_output. It never calls out: spec.md §8 invariant 1 requires
// final_output to be non-empty on every completed run, so the synthesis
// here is a deterministic fallback rather than another LLM round trip that
// could itself fail.
func NewFinalizerNode(_ NodeDeps) graph.Node {
	return graph.NodeFunc(func(_ context.Context, state graph.State) graph.NodeResult {
		var parts []string
		for _, slot := range []string{SlotResearchData, SlotPlanData, SlotExecutionData, SlotCodeData} {
			if v, ok := state[slot].(string); ok && v != "" {
				parts = append(parts, v)
			}
		}
		output := strings.Join(parts, "\n\n")
		if output == "" {
			output = "(no output produced)"
		}
		return graph.NodeResult{Delta: graph.State{SlotFinalOutput: output}}
	})
}
