package versioning

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/corenexus/agentflow/graph"
)

func TestSimilarity_IdenticalOutputsScoreOne(t *testing.T) {
	out := map[string]any{"final_output": "the answer is 42"}
	score, err := Similarity(out, out)
	if err != nil {
		t.Fatalf("Similarity: %v", err)
	}
	if score != 1.0 {
		t.Errorf("expected identical outputs to score 1.0, got %f", score)
	}
}

func TestSimilarity_DivergentOutputsScoreLower(t *testing.T) {
	a := map[string]any{"final_output": "the answer is 42"}
	b := map[string]any{"final_output": "completely unrelated text about weather patterns"}
	score, err := Similarity(a, b)
	if err != nil {
		t.Fatalf("Similarity: %v", err)
	}
	if score >= 1.0 {
		t.Errorf("expected divergent outputs to score below 1.0, got %f", score)
	}
}

func TestMonitor_AlertsWhenDivergedFractionExceedsRate(t *testing.T) {
	audit := NewMemoryAuditLog()
	m := NewMonitor(5, audit)

	for i := 0; i < 4; i++ {
		m.Record(ComparisonResult{WorkflowID: "wf-1", SimilarityScore: 0.99})
	}
	m.Record(ComparisonResult{WorkflowID: "wf-1", SimilarityScore: 0.1})
	m.Record(ComparisonResult{WorkflowID: "wf-1", SimilarityScore: 0.1})

	found := false
	for _, e := range audit.Entries() {
		if e.Action == AuditAlert {
			found = true
		}
	}
	if !found {
		t.Error("expected an ALERT entry once the diverged fraction crossed AlertRate")
	}
}

func TestMonitor_NoAlertBelowWindowSize(t *testing.T) {
	audit := NewMemoryAuditLog()
	m := NewMonitor(10, audit)

	m.Record(ComparisonResult{WorkflowID: "wf-2", SimilarityScore: 0.0})

	if len(audit.Entries()) != 0 {
		t.Errorf("expected no alert before the window fills, got %+v", audit.Entries())
	}
}

type fakeShadowRunner struct {
	output graph.State
	delay  time.Duration
}

func (f fakeShadowRunner) Invoke(ctx context.Context, threadID string, initial graph.State) (graph.State, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.output, nil
}

func TestMaybeShadow_RecordsComparisonWithoutAffectingCaller(t *testing.T) {
	audit := NewMemoryAuditLog()
	monitor := NewMonitor(1, audit)
	runner := fakeShadowRunner{output: graph.State{"final_output": "shadow answer"}}

	cfg := ShadowConfig{
		Runner:     runner,
		SampleRate: 1.0,
		Monitor:    monitor,
		Rand:       rand.New(rand.NewSource(1)),
	}

	done := make(chan struct{})
	go func() {
		MaybeShadow(context.Background(), cfg, "wf-3", "run-1", graph.State{"input": "hi"}, graph.State{"final_output": "baseline answer"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("MaybeShadow should return immediately without waiting on the shadow run")
	}
}
