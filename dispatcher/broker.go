package dispatcher

import "context"

// Task is the message spec.md §6 describes as {task_id = run_id,
// payload:{workflow_config, input_data}}; the workflow_config/input_data
// payload itself lives on the Run row the worker loads by RunID.
type Task struct {
	RunID string
}

// Broker decouples ExecuteRun's enqueue from however work actually gets
// delivered to a worker: an in-process channel, or a real queue.
type Broker interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or ctx is cancelled.
	Dequeue(ctx context.Context) (Task, error)
}
