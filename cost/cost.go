// Package cost tracks per-thread LLM spend against a static per-model
// pricing table, giving the dispatcher and gateway a shared place to attach
// budget enforcement (spec §4.6 cost tracking).
package cost

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing is USD cost per 1M tokens, input and output priced separately.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing is a static snapshot of major-provider list pricing. Callers
// running against enterprise or negotiated rates should override entries via
// Tracker.SetPricing rather than editing this table.
var DefaultPricing = map[string]ModelPricing{
	"gpt-4o":                 {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-2024-08-06":      {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":            {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":            {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4-turbo-2024-04-09": {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":          {InputPer1M: 0.50, OutputPer1M: 1.50},

	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3.5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-opus":              {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet-20240229":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-sonnet":            {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"claude-3-haiku":             {InputPer1M: 0.25, OutputPer1M: 1.25},

	"gemini-1.5-pro":       {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-pro-001":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":     {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.5-flash-001": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.0-pro":       {InputPer1M: 0.50, OutputPer1M: 1.50},
}

// Call records one priced provider invocation.
type Call struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// Tracker accumulates cost across a thread's provider calls. One Tracker is
// created per workflow thread and shared by every gateway call the thread's
// nodes make.
type Tracker struct {
	ThreadID string
	Currency string

	mu         sync.RWMutex
	pricing    map[string]ModelPricing
	calls      []Call
	totalCost  float64
	modelCosts map[string]float64
	inTokens   int64
	outTokens  int64
	enabled    bool
}

// NewTracker returns a Tracker seeded with DefaultPricing.
func NewTracker(threadID, currency string) *Tracker {
	return &Tracker{
		ThreadID:   threadID,
		Currency:   currency,
		pricing:    DefaultPricing,
		calls:      make([]Call, 0, 16),
		modelCosts: make(map[string]float64),
		enabled:    true,
	}
}

// Record prices and appends one provider call. Models absent from the
// pricing table are recorded at zero cost rather than rejected — an unpriced
// model shouldn't block a workflow, but its spend won't silently vanish from
// CallHistory.
func (t *Tracker) Record(provider, model string, inputTokens, outputTokens int, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	pricing := t.pricing[model]
	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	totalCost := inputCost + outputCost

	t.calls = append(t.calls, Call{
		Provider:     provider,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      totalCost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})
	t.totalCost += totalCost
	t.modelCosts[model] += totalCost
	t.inTokens += int64(inputTokens)
	t.outTokens += int64(outputTokens)
}

// TotalCost returns cumulative spend across every recorded call.
func (t *Tracker) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

// CostByModel returns a copy of the per-model cost breakdown.
func (t *Tracker) CostByModel() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.modelCosts))
	for k, v := range t.modelCosts {
		out[k] = v
	}
	return out
}

// CallHistory returns a copy of every recorded call, in call order.
func (t *Tracker) CallHistory() []Call {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// TokenUsage returns cumulative input and output token counts.
func (t *Tracker) TokenUsage() (input, output int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inTokens, t.outTokens
}

// SetPricing overrides the pricing entry for one model.
func (t *Tracker) SetPricing(model string, inputPer1M, outputPer1M float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pricing == nil || sameMap(t.pricing, DefaultPricing) {
		t.pricing = cloneMap(t.pricing)
	}
	t.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

func sameMap(a, b map[string]ModelPricing) bool {
	// Pricing starts out aliased to the shared DefaultPricing table; copy on
	// first write so overrides never mutate the package-level default.
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]ModelPricing) map[string]ModelPricing {
	out := make(map[string]ModelPricing, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Disable stops further Record calls from being accounted (useful for tests
// that want to exercise a node without polluting a shared tracker).
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Enable re-enables recording after Disable.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

func (t *Tracker) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("cost.Tracker{ThreadID: %s, Calls: %d, TotalCost: $%.4f %s}",
		t.ThreadID, len(t.calls), t.totalCost, t.Currency)
}
