package cost

import (
	"sync"
	"testing"
)

func TestTracker_RecordAccumulatesCost(t *testing.T) {
	tr := NewTracker("thread-1", "USD")
	tr.Record("openai", "gpt-4o-mini", 1_000_000, 1_000_000, "researcher")

	want := DefaultPricing["gpt-4o-mini"].InputPer1M + DefaultPricing["gpt-4o-mini"].OutputPer1M
	if got := tr.TotalCost(); got != want {
		t.Errorf("expected total cost %v, got %v", want, got)
	}

	in, out := tr.TokenUsage()
	if in != 1_000_000 || out != 1_000_000 {
		t.Errorf("expected 1M in/out tokens tracked, got in=%d out=%d", in, out)
	}
}

func TestTracker_UnpricedModelRecordsAtZeroCost(t *testing.T) {
	tr := NewTracker("thread-1", "USD")
	tr.Record("custom", "unlisted-model", 1000, 1000, "coder")

	if got := tr.TotalCost(); got != 0 {
		t.Errorf("expected zero cost for unpriced model, got %v", got)
	}
	history := tr.CallHistory()
	if len(history) != 1 {
		t.Fatalf("expected the unpriced call to still be recorded, got %d calls", len(history))
	}
	if history[0].Model != "unlisted-model" {
		t.Errorf("expected recorded call for unlisted-model, got %q", history[0].Model)
	}
}

func TestTracker_CostByModel(t *testing.T) {
	tr := NewTracker("thread-1", "USD")
	tr.Record("openai", "gpt-4o-mini", 1_000_000, 0, "researcher")
	tr.Record("anthropic", "claude-3-haiku", 1_000_000, 0, "planner")

	byModel := tr.CostByModel()
	if len(byModel) != 2 {
		t.Fatalf("expected 2 priced models, got %d", len(byModel))
	}
	if byModel["gpt-4o-mini"] != DefaultPricing["gpt-4o-mini"].InputPer1M {
		t.Errorf("expected gpt-4o-mini cost = %v, got %v", DefaultPricing["gpt-4o-mini"].InputPer1M, byModel["gpt-4o-mini"])
	}
}

func TestTracker_SetPricingOverridesWithoutMutatingDefault(t *testing.T) {
	tr := NewTracker("thread-1", "USD")
	tr.SetPricing("gpt-4o-mini", 99.0, 199.0)
	tr.Record("openai", "gpt-4o-mini", 1_000_000, 1_000_000, "researcher")

	if got := tr.TotalCost(); got != 298.0 {
		t.Errorf("expected overridden pricing to apply, got %v", got)
	}
	if DefaultPricing["gpt-4o-mini"].InputPer1M == 99.0 {
		t.Error("SetPricing must not mutate the shared DefaultPricing table")
	}

	other := NewTracker("thread-2", "USD")
	other.Record("openai", "gpt-4o-mini", 1_000_000, 1_000_000, "researcher")
	if other.TotalCost() == tr.TotalCost() {
		t.Error("expected a fresh Tracker to use unmodified DefaultPricing")
	}
}

func TestTracker_DisableStopsRecording(t *testing.T) {
	tr := NewTracker("thread-1", "USD")
	tr.Disable()
	tr.Record("openai", "gpt-4o-mini", 1000, 1000, "researcher")

	if len(tr.CallHistory()) != 0 {
		t.Error("expected no calls recorded while disabled")
	}

	tr.Enable()
	tr.Record("openai", "gpt-4o-mini", 1000, 1000, "researcher")
	if len(tr.CallHistory()) != 1 {
		t.Error("expected recording to resume after Enable")
	}
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := NewTracker("thread-1", "USD")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("openai", "gpt-4o-mini", 1000, 1000, "researcher")
		}()
	}
	wg.Wait()

	if len(tr.CallHistory()) != 20 {
		t.Errorf("expected 20 concurrently recorded calls, got %d", len(tr.CallHistory()))
	}
}

func TestTracker_String(t *testing.T) {
	tr := NewTracker("thread-1", "USD")
	tr.Record("openai", "gpt-4o-mini", 1000, 1000, "researcher")
	s := tr.String()
	if s == "" {
		t.Error("expected a non-empty summary string")
	}
}
