// Command agentflowd is a wiring example, not an HTTP server: it builds
// every collaborator SPEC_FULL.md names (gateway, agents workflow,
// dispatcher, HITL coordinator, versioning stack) the way a real deployment
// would, then drives one run through CreateRun -> ExecuteRun -> GetRun, the
// same "construct the graph, then run it" shape the teacher's own
// examples/*/main.go files use.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/corenexus/agentflow/agents"
	"github.com/corenexus/agentflow/config"
	"github.com/corenexus/agentflow/cost"
	"github.com/corenexus/agentflow/dispatcher"
	"github.com/corenexus/agentflow/eventbus"
	"github.com/corenexus/agentflow/gateway"
	"github.com/corenexus/agentflow/gateway/quota"
	"github.com/corenexus/agentflow/gateway/ratelimit"
	"github.com/corenexus/agentflow/gateway/router"
	"github.com/corenexus/agentflow/graph"
	"github.com/corenexus/agentflow/graph/emit"
	"github.com/corenexus/agentflow/graph/model"
	"github.com/corenexus/agentflow/graph/store"
	"github.com/corenexus/agentflow/graph/tool"
	"github.com/corenexus/agentflow/hitl"
	"github.com/corenexus/agentflow/versioning"
)

func main() {
	fmt.Println("=== agentflow: multi-agent workflow orchestrator ===")
	fmt.Println()

	cfg := config.Default()
	if path := os.Getenv("AGENTFLOW_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	registry := router.NewRegistry()
	registry.Register(router.ProviderInfo{Name: "primary", Priority: 1, Enabled: true})
	registry.Register(router.ProviderInfo{Name: "secondary", Priority: 2, Enabled: true})

	limiter := ratelimit.New(ratelimit.NewInProcessBackend())
	for name, p := range cfg.RateLimit.Providers {
		if err := limiter.Configure(name, p.RatePerSec, p.RatePerSec); err != nil {
			log.Fatalf("ratelimit configure %s: %v", name, err)
		}
	}
	if _, ok := cfg.RateLimit.Providers["primary"]; !ok {
		_ = limiter.Configure("primary", 50, 50)
	}

	breakerRecovery, err := time.ParseDuration(cfg.Breaker.RecoveryTimeout)
	if err != nil {
		breakerRecovery = 30 * time.Second
	}
	breakers := router.NewBreakerManager(cfg.Breaker.FailureThreshold, breakerRecovery)

	enforcement := quota.EnforcementSoft
	if cfg.Quota.Enforcement == "hard" {
		enforcement = quota.EnforcementHard
	}
	quotaMgr := quota.NewManager(quota.NewMemoryStore(), cfg.Quota.DefaultLimit, enforcement)

	gwConfig := gateway.DefaultConfig()
	if d, err := time.ParseDuration(cfg.Retry.InitialDelay); err == nil {
		gwConfig.Retry.Backoff.InitialDelay = d
	}
	if d, err := time.ParseDuration(cfg.Retry.MaxDelay); err == nil {
		gwConfig.Retry.Backoff.MaxDelay = d
	}
	gwConfig.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	gwConfig.Retry.Backoff.Factor = cfg.Retry.Factor
	gwConfig.Retry.Backoff.Jitter = cfg.Retry.Jitter

	gw := gateway.New(gwConfig, quotaMgr, registry, breakers, limiter)

	bus := eventbus.NewHub(nil)

	checkpoints, err := resolveCheckpointer(cfg.Store)
	if err != nil {
		log.Fatalf("checkpointer: %v", err)
	}
	reviews := hitl.NewMemoryStore()

	workflowID := "research-pipeline"
	deps := agents.NodeDeps{
		Gateway:      gw,
		Models:       resolveModels(),
		Tracker:      cost.NewTracker("agentflowd-demo", "USD"),
		WorkflowID:   workflowID,
		ResearchTool: resolveResearchTool(),
	}

	compiled, err := agents.BuildResearchWorkflow(deps)
	if err != nil {
		log.Fatalf("BuildResearchWorkflow: %v", err)
	}

	emitter := emit.NewLogEmitter(os.Stdout, false)
	engine, err := graph.NewEngine(compiled, checkpoints, emitter)
	if err != nil {
		log.Fatalf("NewEngine: %v", err)
	}

	coord := hitl.NewCoordinator(engine, checkpoints, reviews, bus, []hitl.ApprovalGate{
		{StepName: "coder", RiskLevel: hitl.RiskHigh, TimeoutSeconds: cfg.HITL.DefaultTimeoutSeconds, OnReject: hitl.OnRejectAbort, OnTimeout: hitl.OnTimeoutReject},
	})
	sweeper := hitl.NewSweeper(coord, time.Minute)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	artifacts := versioning.NewFSArtifactStore(mustTempDir())
	snapshots := versioning.NewMemorySnapshotStore()
	deployments := versioning.NewMemoryDeploymentStore()
	audit := versioning.NewMemoryAuditLog()

	snapshotID, err := versioning.CreateSnapshot(context.Background(), artifacts, snapshots, workflowID, "v1", map[string][]byte{
		"workflow.json": []byte(`{"nodes":["researcher","planner","executor","coder","finalizer"]}`),
	}, nil)
	if err != nil {
		log.Fatalf("CreateSnapshot: %v", err)
	}
	if _, err := versioning.Deploy(context.Background(), artifacts, snapshots, deployments, audit, versioning.DeployRequest{
		WorkflowID: workflowID,
		VersionTag: "v1",
		Role:       versioning.RoleActive,
		Artifacts:  map[string][]byte{"workflow.json": []byte(`{"nodes":["researcher","planner","executor","coder","finalizer"]}`)},
	}); err != nil {
		log.Fatalf("Deploy: %v", err)
	}
	fmt.Printf("deployed snapshot %s as active\n", snapshotID)

	runs := dispatcher.NewMemoryRunStore()
	broker := dispatcher.NewInProcessBroker(32)
	svc := dispatcher.NewService(engine, checkpoints, runs, broker)

	pool := dispatcher.NewWorkerPool(svc, broker, 4)
	svc.SetLocalFallback(pool)

	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pool.Start(poolCtx)

	runID, err := svc.CreateRun(context.Background(), workflowID, graph.State{
		agents.SlotInput: "design a distributed caching layer for our API gateway",
		agents.SlotMode:  agents.ModeFull,
	})
	if err != nil {
		log.Fatalf("CreateRun: %v", err)
	}
	if err := svc.ExecuteRun(context.Background(), runID); err != nil {
		log.Fatalf("ExecuteRun: %v", err)
	}

	fmt.Printf("submitted run %s, waiting for completion...\n", runID)
	for i := 0; i < 200; i++ {
		run, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			log.Fatalf("GetRun: %v", err)
		}
		if run.Status == dispatcher.StatusCompleted || run.Status == dispatcher.StatusFailed {
			fmt.Printf("run %s finished with status %s\n", runID, run.Status)
			fmt.Printf("final_output: %v\n", run.Result())
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	history, err := svc.ListHistory(context.Background(), runID)
	if err != nil {
		log.Fatalf("ListHistory: %v", err)
	}
	fmt.Printf("checkpoint history: %d entries\n", len(history))
}

// resolveCheckpointer picks the checkpoint backend SPEC_FULL.md §4.2 names
// by config, defaulting to the in-memory store for the demo run.
func resolveCheckpointer(cfg config.StoreConfig) (store.Checkpointer, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN)
	case "mysql":
		return store.NewMySQLStore(cfg.DSN)
	default:
		return store.NewMemStore(), nil
	}
}

// resolveModels returns the chat models agents.NodeDeps routes to by
// provider name. Real provider wiring is out of scope here (spec.md §1
// specifies LLM clients only at their model.ChatModel interface), so both
// slots use the mock the interface ships with.
func resolveModels() map[string]model.ChatModel {
	return map[string]model.ChatModel{
		"primary":   &model.MockChatModel{Responses: []model.ChatOut{{Text: "demo response from primary"}}},
		"secondary": &model.MockChatModel{Responses: []model.ChatOut{{Text: "demo response from secondary"}}},
	}
}

// resolveResearchTool gives the researcher node a tool.Tool to gather raw
// material through before its LLM call. Concrete tool implementations are
// out of scope here (spec.md §1 specifies tools only at their tool.Tool
// interface), so the demo run uses the interface's own mock.
func resolveResearchTool() tool.Tool {
	return &tool.MockTool{
		ToolName:  "research_lookup",
		Responses: []map[string]interface{}{{"summary": "no external research endpoint configured"}},
	}
}

func mustTempDir() string {
	dir, err := os.MkdirTemp("", "agentflowd-artifacts-*")
	if err != nil {
		log.Fatalf("tempdir: %v", err)
	}
	return dir
}
