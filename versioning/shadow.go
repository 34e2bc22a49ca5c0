package versioning

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/corenexus/agentflow/graph"
)

// ShadowRunner executes a compiled workflow for comparison purposes. It is
// satisfied by *graph.Engine in production; tests can substitute a fake.
type ShadowRunner interface {
	Invoke(ctx context.Context, threadID string, initial graph.State) (graph.State, error)
}

// ShadowConfig controls whether and how often a baseline run also gets a
// shadow comparison run, per spec.md §4.6's sampled shadow execution.
type ShadowConfig struct {
	Runner     ShadowRunner
	SampleRate float64
	Timeout    time.Duration
	Monitor    *Monitor
	Rand       *rand.Rand // nil uses a fresh time-seeded source
}

// MaybeShadow samples whether this run gets a shadow comparison and, if so,
// launches it in a detached goroutine with its own bounded context. It
// never blocks the caller and the shadow's outcome never reaches the
// baseline path: the only effect it has is a later Monitor.Record call and,
// through that, a possible ALERT audit entry. This is spec.md §8 invariant
// 7, "the shadow run has no causal effect on baseline status or output."
func MaybeShadow(ctx context.Context, cfg ShadowConfig, workflowID, threadID string, baselineInitial graph.State, baselineOutput graph.State) {
	if cfg.Runner == nil || cfg.SampleRate <= 0 {
		return
	}
	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if r.Float64() >= cfg.SampleRate {
		return
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	go runShadow(cfg, workflowID, threadID, baselineInitial, baselineOutput, timeout)
}

func runShadow(cfg ShadowConfig, workflowID, threadID string, initial, baselineOutput graph.State, timeout time.Duration) {
	shadowCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shadowThread := threadID + "-shadow"
	shadowOutput, err := cfg.Runner.Invoke(shadowCtx, shadowThread, initial)
	if err != nil {
		log.Printf("versioning: shadow run %s failed, discarding: %v", shadowThread, err)
		return
	}

	score, err := Similarity(map[string]any(baselineOutput), map[string]any(shadowOutput))
	if err != nil {
		log.Printf("versioning: shadow run %s comparison failed: %v", shadowThread, err)
		return
	}

	if cfg.Monitor != nil {
		cfg.Monitor.Record(ComparisonResult{
			RunID:           threadID,
			WorkflowID:      workflowID,
			SimilarityScore: score,
			BaselineOutput:  baselineOutput,
			ShadowOutput:    shadowOutput,
		})
	}
}
