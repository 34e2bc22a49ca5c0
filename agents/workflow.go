// Package agents provides the concrete researcher/planner/executor/coder/
// finalizer workflow spec.md §4.1 names as its example conditional-routing
// graph, grounded on the teacher's own research-pipeline example.
package agents

import (
	"github.com/corenexus/agentflow/graph"
)

// Complexity is the researcher's classification of a query, per spec.md
// §4.1's query_complexity slot.
type Complexity string

const (
	ComplexitySimple  Complexity = "SIMPLE"
	ComplexityComplex Complexity = "COMPLEX"
)

// Mode selects how much of the pipeline a run is allowed to traverse, per
// spec.md §4.1's mode slot.
const (
	ModeFull         = "full"
	ModeResearchOnly = "research_only"
	ModePlanOnly     = "plan_only"
)

// Slot names this workflow reads and writes, beyond graph.DefaultSlotSchema.
const (
	SlotInput           = "input"
	SlotResearchData    = "research_data"
	SlotPlanData        = "plan_data"
	SlotExecutionData   = "execution_data"
	SlotCodeData        = "code_data"
	SlotFinalOutput     = "final_output"
	SlotQueryComplexity = "query_complexity"
	SlotMode            = "mode"
)

// BuildResearchWorkflow assembles the researcher -> (planner | finalizer)
// -> executor -> coder -> finalizer graph spec.md §4.1 names, wiring the
// two selectors explicitly: after researcher, on query_complexity/mode;
// after planner, on mode.
func BuildResearchWorkflow(deps NodeDeps) (*graph.Compiled, error) {
	g := graph.NewGraph(graph.DefaultSlotSchema())

	if err := g.Add("researcher", NewResearcherNode(deps)); err != nil {
		return nil, err
	}
	if err := g.Add("planner", NewPlannerNode(deps)); err != nil {
		return nil, err
	}
	if err := g.Add("executor", NewExecutorNode(deps)); err != nil {
		return nil, err
	}
	if err := g.Add("coder", NewCoderNode(deps)); err != nil {
		return nil, err
	}
	if err := g.Add("finalizer", NewFinalizerNode(deps)); err != nil {
		return nil, err
	}

	if err := g.AddRouter("researcher", routeAfterResearcher); err != nil {
		return nil, err
	}
	if err := g.AddRouter("planner", routeAfterPlanner); err != nil {
		return nil, err
	}
	if err := g.Connect("executor", "coder", nil); err != nil {
		return nil, err
	}
	if err := g.Connect("coder", "finalizer", nil); err != nil {
		return nil, err
	}
	if err := g.Connect("finalizer", graph.END, nil); err != nil {
		return nil, err
	}

	if err := g.StartAt("researcher"); err != nil {
		return nil, err
	}
	return g.Compile()
}

// routeAfterResearcher implements spec.md §4.1's first named selector:
// SIMPLE queries or a research_only mode short-circuit straight to the
// finalizer; everything else proceeds to planning.
func routeAfterResearcher(state graph.State) string {
	complexity, _ := state[SlotQueryComplexity].(string)
	mode, _ := state[SlotMode].(string)
	if complexity == string(ComplexitySimple) || mode == ModeResearchOnly {
		return "finalizer"
	}
	return "planner"
}

// routeAfterPlanner implements spec.md §4.1's second named selector:
// plan_only mode stops at the finalizer; otherwise the plan proceeds to
// execution.
func routeAfterPlanner(state graph.State) string {
	mode, _ := state[SlotMode].(string)
	if mode == ModePlanOnly {
		return "finalizer"
	}
	return "executor"
}
