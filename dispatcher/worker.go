package dispatcher

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/corenexus/agentflow/graph"
)

// defaultRunDeadline is the per-run wall-clock budget the local-execution
// fallback enforces, per spec.md §5.
const defaultRunDeadline = 300 * time.Second

// fallbackStartDelay is how long the submission path waits before running
// a task locally when the broker itself is unavailable, per spec.md §6.
const fallbackStartDelay = 2 * time.Second

// WorkerPool drains tasks from a Broker and drives each one through the
// engine to completion or failure, updating the Run row as it goes. A
// task for an already-completed run is acknowledged without re-executing,
// per spec.md §5's idempotency requirement.
type WorkerPool struct {
	service *Service
	broker  Broker
	n       int

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewWorkerPool returns a pool of n workers pulling tasks from broker and
// executing them against service's engine.
func NewWorkerPool(service *Service, broker Broker, n int) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	return &WorkerPool{service: service, broker: broker, n: n, stop: make(chan struct{})}
}

// Start launches the pool's worker goroutines. Call Stop to shut them down.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.loop(ctx)
	}
}

// Stop signals every worker to exit and waits for them to drain.
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *WorkerPool) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := p.broker.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("dispatcher: dequeue failed: %v", err)
			continue
		}
		p.execute(ctx, task)
	}
}

// execute runs one task to a terminal Run status. It is also the entry
// point the 2s-delayed local-execution fallback calls directly when the
// broker was unavailable at submission time.
func (p *WorkerPool) execute(ctx context.Context, task Task) {
	run, err := p.service.runs.Get(ctx, task.RunID)
	if err != nil {
		log.Printf("dispatcher: run %s not found: %v", task.RunID, err)
		return
	}
	if run.Status == StatusCompleted {
		return
	}

	run.Status = StatusRunning
	run.StartedAt = time.Now()
	if err := p.service.runs.Update(ctx, run); err != nil {
		log.Printf("dispatcher: failed to mark run %s running: %v", task.RunID, err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, defaultRunDeadline)
	defer cancel()

	output, err := p.service.engine.Invoke(runCtx, run.RunID, run.Input)
	run.CompletedAt = time.Now()
	if err != nil {
		if err == graph.ErrInterrupted {
			run.Status = StatusAwaitingApproval
		} else {
			run.Status = StatusFailed
			run.Err = err.Error()
		}
	} else {
		run.Status = StatusCompleted
		run.Output = output
	}

	if err := p.service.runs.Update(ctx, run); err != nil {
		log.Printf("dispatcher: failed to persist run %s outcome: %v", task.RunID, err)
	}
}

// ScheduleLocalFallback runs task.RunID directly, without a broker, after
// fallbackStartDelay, for the "broker unavailable" submission path spec.md
// §6 describes. It does not block the caller.
func (p *WorkerPool) ScheduleLocalFallback(ctx context.Context, task Task) {
	go func() {
		select {
		case <-time.After(fallbackStartDelay):
		case <-ctx.Done():
			return
		}
		p.execute(ctx, task)
	}()
}
