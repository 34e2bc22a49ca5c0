package router

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State mirrors gobreaker's three-state machine under this package's own
// name, so callers don't need to import gobreaker directly.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// CircuitBreakerState is the observability snapshot spec.md §4.3.3
// requires. gobreaker does not expose a consecutive-failure counter
// directly on its State() accessor, so BreakerManager mirrors it here from
// the Counts its ReadyToTrip callback already observes, updated on every
// state-change callback.
type CircuitBreakerState struct {
	State         State
	FailureCount  uint32
	LastFailureAt time.Time
}

// BreakerManager holds one gobreaker.CircuitBreaker per provider/tool name,
// each configured with MaxRequests: 1 (spec.md's "allow exactly one probe"
// half-open rule).
type BreakerManager struct {
	failureThreshold uint32
	recoveryTimeout  time.Duration

	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	snapshots map[string]*CircuitBreakerState
}

// NewBreakerManager configures every breaker it lazily creates with the
// given failure threshold and recovery timeout.
func NewBreakerManager(failureThreshold uint32, recoveryTimeout time.Duration) *BreakerManager {
	return &BreakerManager{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
		snapshots:        make(map[string]*CircuitBreakerState),
	}
}

func (m *BreakerManager) breakerFor(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	snap := &CircuitBreakerState{}
	m.snapshots[name] = snap

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     m.recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			m.mu.Lock()
			snap.FailureCount = counts.ConsecutiveFailures
			m.mu.Unlock()
			return counts.ConsecutiveFailures >= m.failureThreshold
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			m.mu.Lock()
			defer m.mu.Unlock()
			snap.State = fromGobreakerState(to)
			if to == gobreaker.StateOpen {
				snap.LastFailureAt = time.Now()
			}
			if to == gobreaker.StateClosed {
				snap.FailureCount = 0
			}
		},
	})
	m.breakers[name] = cb
	return cb
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Execute runs fn through provider's breaker, per spec.md §4.3.3: in the
// open state it rejects immediately without invoking fn; in half_open it
// allows exactly one probe.
func (m *BreakerManager) Execute(provider string, fn func() (any, error)) (any, error) {
	return m.breakerFor(provider).Execute(fn)
}

// Snapshot returns the observable breaker state for provider, per spec.md
// §4.3.3's CircuitBreakerState.
func (m *BreakerManager) Snapshot(provider string) CircuitBreakerState {
	m.breakerFor(provider) // ensure it exists so an unused provider reports closed/zero
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.snapshots[provider]
}
