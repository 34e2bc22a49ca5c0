package dispatcher

import (
	"context"

	"github.com/corenexus/agentflow/agentflowerr"
)

// InProcessBroker is a buffered-channel queue, the "in-process fallback"
// spec.md §6 names when no external broker is configured.
type InProcessBroker struct {
	tasks chan Task
}

// NewInProcessBroker returns a broker backed by a channel with room for
// capacity pending tasks. When it is full, Enqueue does not block; it
// returns a Transient error.
func NewInProcessBroker(capacity int) *InProcessBroker {
	if capacity <= 0 {
		capacity = 1
	}
	return &InProcessBroker{tasks: make(chan Task, capacity)}
}

func (b *InProcessBroker) Enqueue(ctx context.Context, task Task) error {
	select {
	case b.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return agentflowerr.Transient("dispatcher: in-process queue is full", nil)
	}
}

func (b *InProcessBroker) Dequeue(ctx context.Context) (Task, error) {
	select {
	case t := <-b.tasks:
		return t, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}
