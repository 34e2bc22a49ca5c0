package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/corenexus/agentflow/graph"
)

// fullBroker always reports itself full, forcing ExecuteRun onto the local
// fallback path.
type fullBroker struct {
	dequeued chan Task
}

func (b *fullBroker) Enqueue(_ context.Context, _ Task) error {
	return errFull
}

func (b *fullBroker) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t := <-b.dequeued:
		return t, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

var errFull = &brokerFullError{}

type brokerFullError struct{}

func (e *brokerFullError) Error() string { return "broker: full" }

func TestExecuteRun_FallsBackToLocalExecutionWhenBrokerUnavailable(t *testing.T) {
	ctx := context.Background()
	engine, checkpoints := buildEchoEngine(t)
	broker := &fullBroker{dequeued: make(chan Task)}
	svc := NewService(engine, checkpoints, NewMemoryRunStore(), broker)
	pool := NewWorkerPool(svc, broker, 1)
	svc.SetLocalFallback(pool)

	runID, err := svc.CreateRun(ctx, "wf-echo", graph.State{"input": "fallback"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := svc.ExecuteRun(ctx, runID); err != nil {
		t.Fatalf("ExecuteRun should not surface the broker error once a fallback is attached: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(ctx, runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status == StatusCompleted {
			if run.Result() != "fallback" {
				t.Errorf("expected result %q, got %v", "fallback", run.Result())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("local fallback did not complete the run within the deadline")
}
