package dispatcher

import (
	"context"
	"testing"
)

func TestInProcessBroker_EnqueueDequeueRoundTrips(t *testing.T) {
	ctx := context.Background()
	b := NewInProcessBroker(2)

	if err := b.Enqueue(ctx, Task{RunID: "r1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, err := b.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if task.RunID != "r1" {
		t.Errorf("expected r1, got %s", task.RunID)
	}
}

func TestInProcessBroker_EnqueueFailsWhenFull(t *testing.T) {
	ctx := context.Background()
	b := NewInProcessBroker(1)

	if err := b.Enqueue(ctx, Task{RunID: "r1"}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := b.Enqueue(ctx, Task{RunID: "r2"}); err == nil {
		t.Error("expected second Enqueue on a full queue to fail")
	}
}

func TestInProcessBroker_DequeueRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewInProcessBroker(1)
	cancel()

	if _, err := b.Dequeue(ctx); err == nil {
		t.Error("expected Dequeue to return an error on a cancelled context")
	}
}
