package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corenexus/agentflow/graph/emit"
	"github.com/corenexus/agentflow/graph/store"
)

func buildLinearEngine(t *testing.T, opts ...Option) (*Engine, store.Checkpointer) {
	t.Helper()
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("researcher", NodeFunc(func(ctx context.Context, s State) NodeResult {
		return NodeResult{Delta: State{"research_data": "facts"}}
	}))
	_ = g.Add("finalizer", NodeFunc(func(ctx context.Context, s State) NodeResult {
		return NodeResult{Delta: State{"final_output": "done"}}
	}))
	_ = g.Connect("researcher", "finalizer", nil)
	_ = g.Connect("finalizer", END, nil)
	_ = g.StartAt("researcher")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	mem := store.NewMemStore()
	engine, err := NewEngine(compiled, mem, emit.NewNullEmitter(), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine, mem
}

func TestEngine_InvokeRunsToCompletion(t *testing.T) {
	engine, _ := buildLinearEngine(t)
	ctx := context.Background()

	final, err := engine.Invoke(ctx, "thread-1", State{"input": "question"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if final["final_output"] != "done" {
		t.Errorf("expected final_output = done, got %v", final["final_output"])
	}
	if final["research_data"] != "facts" {
		t.Errorf("expected research_data = facts, got %v", final["research_data"])
	}
}

func TestEngine_InvokeRecordsPendingWritesForEachStep(t *testing.T) {
	engine, checkpoints := buildLinearEngine(t)
	ctx := context.Background()

	if _, err := engine.Invoke(ctx, "thread-1", State{"input": "question"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	history, err := checkpoints.List(ctx, "thread-1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(history) < 3 {
		t.Fatalf("expected at least 3 checkpoints (seed + 2 steps), got %d", len(history))
	}

	var sawResearcherWrite, sawFinalizerWrite bool
	for _, tuple := range history {
		_, writes, err := checkpoints.GetTuple(ctx, "thread-1", tuple.CheckpointID)
		if err != nil {
			t.Fatalf("GetTuple(%s): %v", tuple.CheckpointID, err)
		}
		for _, w := range writes {
			switch w.TaskID {
			case "researcher":
				sawResearcherWrite = true
			case "finalizer":
				sawFinalizerWrite = true
			}
		}
	}
	if !sawResearcherWrite || !sawFinalizerWrite {
		t.Errorf("expected a pending write recorded for each step, researcher=%v finalizer=%v", sawResearcherWrite, sawFinalizerWrite)
	}
}

func TestEngine_InvokeIsIdempotentOnExistingThread(t *testing.T) {
	engine, _ := buildLinearEngine(t)
	ctx := context.Background()

	first, err := engine.Invoke(ctx, "thread-1", State{"input": "question"})
	if err != nil {
		t.Fatalf("first Invoke: %v", err)
	}
	second, err := engine.Invoke(ctx, "thread-1", State{"input": "ignored on replay"})
	if err != nil {
		t.Fatalf("second Invoke: %v", err)
	}
	if first["final_output"] != second["final_output"] {
		t.Errorf("expected re-invoking a completed thread to return the same final state")
	}
}

func TestEngine_InterruptBeforeAndResume(t *testing.T) {
	engine, _ := buildLinearEngine(t, WithInterruptBefore("finalizer"))
	ctx := context.Background()

	_, err := engine.Invoke(ctx, "thread-1", State{"input": "question"})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted before finalizer, got %v", err)
	}

	snapshot, err := engine.GetState(ctx, "thread-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(snapshot.NextNodes) != 1 || snapshot.NextNodes[0] != "finalizer" {
		t.Fatalf("expected pending next node = finalizer, got %v", snapshot.NextNodes)
	}

	final, err := engine.Resume(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if final["final_output"] != "done" {
		t.Errorf("expected run to complete after Resume, got %v", final["final_output"])
	}
}

func TestEngine_Fork(t *testing.T) {
	engine, _ := buildLinearEngine(t, WithInterruptBefore("finalizer"))
	ctx := context.Background()

	_, err := engine.Invoke(ctx, "thread-1", State{"input": "question"})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}

	forkedThread, err := engine.Fork(ctx, "thread-1", "")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if forkedThread == "thread-1" || forkedThread == "" {
		t.Fatalf("expected a distinct non-empty forked thread id, got %q", forkedThread)
	}

	forkedFinal, err := engine.Resume(ctx, forkedThread)
	if err != nil {
		t.Fatalf("Resume forked thread: %v", err)
	}
	if forkedFinal["final_output"] != "done" {
		t.Errorf("expected forked thread to run to completion, got %v", forkedFinal["final_output"])
	}

	// The original thread is untouched by resuming the fork.
	original, err := engine.GetState(ctx, "thread-1")
	if err != nil {
		t.Fatalf("GetState original: %v", err)
	}
	if len(original.NextNodes) != 1 || original.NextNodes[0] != "finalizer" {
		t.Errorf("expected original thread to remain paused at finalizer, got %v", original.NextNodes)
	}
}

func TestEngine_NodeErrorStopsRun(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("failing", NodeFunc(func(ctx context.Context, s State) NodeResult {
		return NodeResult{Err: &NodeError{Message: "boom", Code: "BOOM"}}
	}))
	_ = g.Connect("failing", END, nil)
	_ = g.StartAt("failing")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine, err := NewEngine(compiled, store.NewMemStore(), emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = engine.Invoke(context.Background(), "thread-1", State{})
	var nerr *NodeError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected NodeError, got %v", err)
	}
}

func TestEngine_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	g := NewGraph(DefaultSlotSchema())
	_ = g.AddWithPolicy("flaky", NodeFunc(func(ctx context.Context, s State) NodeResult {
		attempts++
		if attempts < 3 {
			return NodeResult{Err: errors.New("transient")}
		}
		return NodeResult{Delta: State{"final_output": "recovered"}}
	}), NodePolicy{
		RetryPolicy: &RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			Retryable:   func(error) bool { return true },
		},
	}, SideEffectPolicy{})
	_ = g.Connect("flaky", END, nil)
	_ = g.StartAt("flaky")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine, err := NewEngine(compiled, store.NewMemStore(), emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	final, err := engine.Invoke(context.Background(), "thread-1", State{})
	if err != nil {
		t.Fatalf("expected eventual success after retries, got %v", err)
	}
	if final["final_output"] != "recovered" {
		t.Errorf("expected final_output = recovered, got %v", final["final_output"])
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestEngine_NonRetryableErrorFailsImmediately(t *testing.T) {
	attempts := 0
	g := NewGraph(DefaultSlotSchema())
	_ = g.AddWithPolicy("flaky", NodeFunc(func(ctx context.Context, s State) NodeResult {
		attempts++
		return NodeResult{Err: errors.New("fatal")}
	}), NodePolicy{
		RetryPolicy: &RetryPolicy{
			MaxAttempts: 5,
			BaseDelay:   time.Millisecond,
			Retryable:   func(error) bool { return false },
		},
	}, SideEffectPolicy{})
	_ = g.Connect("flaky", END, nil)
	_ = g.StartAt("flaky")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine, err := NewEngine(compiled, store.NewMemStore(), emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = engine.Invoke(context.Background(), "thread-1", State{})
	if err == nil {
		t.Fatal("expected failure for non-retryable error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestEngine_MaxStepsExceeded(t *testing.T) {
	// Static Edges are checked for cycles at Compile time, but a Router's
	// targets are opaque until runtime, so a router-induced cycle only
	// surfaces as ErrMaxStepsExceeded once the engine actually runs it.
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", NodeFunc(func(ctx context.Context, s State) NodeResult {
		return NodeResult{Delta: State{}}
	}))
	_ = g.Add("b", NodeFunc(func(ctx context.Context, s State) NodeResult {
		return NodeResult{Delta: State{}}
	}))
	_ = g.AddRouter("a", func(s State) string { return "b" })
	_ = g.AddRouter("b", func(s State) string { return "a" })
	_ = g.StartAt("a")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine, err := NewEngine(compiled, store.NewMemStore(), emit.NewNullEmitter(), WithMaxSteps(4))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	_, err = engine.Invoke(context.Background(), "thread-1", State{})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("expected ErrMaxStepsExceeded from a router-induced cycle, got %v", err)
	}
}

func TestEngine_IdempotencyKeyExposedToNode(t *testing.T) {
	var seenKey string
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", NodeFunc(func(ctx context.Context, s State) NodeResult {
		key, ok := IdempotencyKeyFromContext(ctx)
		if !ok {
			t.Error("expected an idempotency key in context")
		}
		seenKey = key
		return NodeResult{Delta: State{}}
	}))
	_ = g.Connect("a", END, nil)
	_ = g.StartAt("a")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine, err := NewEngine(compiled, store.NewMemStore(), emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := engine.Invoke(context.Background(), "thread-1", State{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if seenKey == "" {
		t.Error("expected node to observe a non-empty idempotency key")
	}
}

func TestThreadSeed_DeterministicAndNonNegative(t *testing.T) {
	s1 := threadSeed("thread-abc")
	s2 := threadSeed("thread-abc")
	if s1 != s2 {
		t.Error("expected threadSeed to be deterministic for the same thread id")
	}
	if s1 < 0 {
		t.Errorf("expected a non-negative seed, got %d", s1)
	}
	if threadSeed("thread-xyz") == s1 {
		t.Error("expected different thread ids to produce different seeds (with overwhelming probability)")
	}
}
