// Package router implements the provider gateway's selection policy and
// circuit breaker (spec.md §4.3.3): a process-wide registry of providers,
// a pluggable selection Policy, and a per-provider gobreaker-backed circuit
// breaker with a thin snapshot type for observability.
package router

import (
	"errors"
	"sync"
	"time"
)

// Policy is a provider selection strategy, named exactly as spec.md §4.3.3
// enumerates.
type Policy string

const (
	PolicyPrimary         Policy = "primary"
	PolicyCostWeighted    Policy = "cost_weighted"
	PolicyLatencyWeighted Policy = "latency_weighted"
)

// ProviderInfo describes one provider's registry entry.
type ProviderInfo struct {
	Name         string
	Priority     int     // lower is better for PolicyPrimary
	CostPer1K    float64 // lower is better for PolicyCostWeighted
	AvgLatencyMs float64 // lower is better for PolicyLatencyWeighted
	Enabled      bool
}

// ErrNoProviderAvailable is returned by Select when every registered
// provider is either disabled or currently degraded.
var ErrNoProviderAvailable = errors.New("router: no non-degraded provider available")

// Registry tracks provider metadata and the process-wide "degraded until"
// cooldown timestamps spec.md §4.3.3 describes.
type Registry struct {
	mu            sync.RWMutex
	providers     map[string]ProviderInfo
	order         []string // registration order, for deterministic iteration
	degradedUntil map[string]time.Time
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:     make(map[string]ProviderInfo),
		degradedUntil: make(map[string]time.Time),
	}
}

// Register adds or replaces a provider's metadata.
func (r *Registry) Register(p ProviderInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name]; !exists {
		r.order = append(r.order, p.Name)
	}
	r.providers[p.Name] = p
}

// MarkDegraded marks provider unavailable for cooldown, per spec.md
// §4.3.3's failover loop step 3.
func (r *Registry) MarkDegraded(provider string, cooldown time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.degradedUntil[provider] = time.Now().Add(cooldown)
}

// IsDegraded reports whether provider is currently within its cooldown.
func (r *Registry) IsDegraded(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.degradedUntil[provider]
	return ok && time.Now().Before(until)
}

// Select picks the best non-degraded, enabled provider per policy.
// preferred, if non-empty and itself eligible, is honored ahead of policy.
func (r *Registry) Select(policy Policy, preferred string, excluded map[string]bool) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if preferred != "" && r.eligibleLocked(preferred, excluded) {
		return preferred, nil
	}

	var best string
	var bestScore float64
	found := false
	for _, name := range r.order {
		if !r.eligibleLocked(name, excluded) {
			continue
		}
		p := r.providers[name]
		score := scoreFor(policy, p)
		if !found || score < bestScore {
			best, bestScore, found = name, score, true
		}
	}
	if !found {
		return "", ErrNoProviderAvailable
	}
	return best, nil
}

func (r *Registry) eligibleLocked(name string, excluded map[string]bool) bool {
	if excluded != nil && excluded[name] {
		return false
	}
	p, ok := r.providers[name]
	if !ok || !p.Enabled {
		return false
	}
	until, degraded := r.degradedUntil[name]
	if degraded && time.Now().Before(until) {
		return false
	}
	return true
}

func scoreFor(policy Policy, p ProviderInfo) float64 {
	switch policy {
	case PolicyCostWeighted:
		return p.CostPer1K
	case PolicyLatencyWeighted:
		return p.AvgLatencyMs
	default: // PolicyPrimary
		return float64(p.Priority)
	}
}
