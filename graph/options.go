package graph

import "time"

// Option configures an Engine at construction time.
//
//	engine, err := graph.NewEngine(compiled, checkpointer, emitter,
//	    graph.WithMaxSteps(100),
//	    graph.WithDefaultNodeTimeout(30*time.Second),
//	    graph.WithInterruptBefore("review_gate"),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they're applied to an Engine.
type engineConfig struct {
	maxSteps           int
	defaultNodeTimeout time.Duration
	runWallClockBudget time.Duration
	interruptBefore    map[string]bool
	metrics            *PrometheusMetrics
}

func newEngineConfig() *engineConfig {
	return &engineConfig{
		maxSteps:           200,
		defaultNodeTimeout: 30 * time.Second,
		runWallClockBudget: 10 * time.Minute,
		interruptBefore:    map[string]bool{},
	}
}

// WithMaxSteps caps the number of node executions in a single Invoke/Resume
// call. Compile rejects cycles among static edges only, so this guards both
// against a legitimately long workflow outrunning its budget and against a
// Router that loops back to an earlier node. Default 200.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		cfg.maxSteps = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout applied to nodes that don't
// declare their own NodePolicy.Timeout. Default 30s.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.defaultNodeTimeout = d
		return nil
	}
}

// WithRunWallClockBudget bounds the total duration of one Invoke/Resume
// call. Zero disables the budget. Default 10m.
func WithRunWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.runWallClockBudget = d
		return nil
	}
}

// WithInterruptBefore marks node ids as human-in-the-loop gates: the first
// time execution would enter one of these nodes, Invoke returns
// ErrInterrupted instead of running it, leaving the checkpoint's Next field
// pointing at the gated node. A subsequent Resume call executes exactly that
// node before resuming normal interrupt-checking for whatever follows.
func WithInterruptBefore(nodeIDs ...string) Option {
	return func(cfg *engineConfig) error {
		for _, id := range nodeIDs {
			cfg.interruptBefore[id] = true
		}
		return nil
	}
}

// WithMetrics attaches a PrometheusMetrics collector; step latency, retries,
// checkpoints, and interrupts are recorded automatically during execution.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}
