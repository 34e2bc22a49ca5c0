// Package quota implements the provider gateway's per-(workflow,tenant)
// windowed token quota, the layer outermost of the gateway pipeline
// (quota -> router -> rate limiter -> circuit breaker -> retry -> call).
//
// Shaped after the Scope/TimeWindow/Usage vocabulary of a fixed-window rate
// limiter from the retrieval pack, renamed to this domain: a ScopeKey
// replaces that package's (scope, identifier) pair, and Window replaces its
// TimeWindow enum with the three window kinds spec.md names explicitly.
package quota

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/corenexus/agentflow/agentflowerr"
)

// Window names the three quota window kinds spec.md §4.3.2 enumerates.
type Window string

const (
	WindowDaily   Window = "daily"   // calendar day, UTC
	WindowMonthly Window = "monthly" // calendar month, UTC
	WindowRolling Window = "rolling" // now - N days
)

// Enforcement selects what happens when a reservation would exceed the
// window's limit.
type Enforcement string

const (
	// EnforcementSoft logs and continues: the reservation still counts
	// against the window, and CheckAndReserve still returns a reservation
	// with no error.
	EnforcementSoft Enforcement = "soft"
	// EnforcementHard rejects the reservation with agentflowerr.QuotaExceeded
	// and does not increment usage.
	EnforcementHard Enforcement = "hard"
)

// ScopeKey identifies a quota scope. Either field may be empty, meaning
// "global for that axis" per spec.md §4.3.2.
type ScopeKey struct {
	WorkflowID string
	TenantID   string
}

func (s ScopeKey) key() string {
	wf, tn := s.WorkflowID, s.TenantID
	if wf == "" {
		wf = "*"
	}
	if tn == "" {
		tn = "*"
	}
	return wf + "|" + tn
}

// ErrUnconfiguredWindow is returned when a Window value outside the three
// named constants is used.
var ErrUnconfiguredWindow = errors.New("quota: unrecognized window kind")

// windowStart returns the start of the current window for w, evaluated at
// now. Rolling windows additionally need rollingDays.
func windowStart(w Window, now time.Time, rollingDays int) (time.Time, error) {
	now = now.UTC()
	switch w {
	case WindowDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	case WindowMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case WindowRolling:
		if rollingDays <= 0 {
			rollingDays = 1
		}
		return now.Add(-time.Duration(rollingDays) * 24 * time.Hour), nil
	default:
		return time.Time{}, ErrUnconfiguredWindow
	}
}

// Reservation is the opaque handle CheckAndReserve returns, carried back
// into RecordUsage so the manager can reconcile actual vs reserved tokens
// without re-deriving the scope key or window boundary (see spec.md §9's
// open question — resolved as "reconcile the actual/reserved delta").
type Reservation struct {
	scope          ScopeKey
	window         Window
	windowStart    time.Time
	tokensReserved int64
}

// Manager enforces per-scope, per-window token quotas on top of a Store.
type Manager struct {
	Store       Store
	DefaultLimit int64
	Enforcement Enforcement
	RollingDays int
	// Now is the clock used to evaluate window boundaries; defaults to
	// time.Now when nil, overridable in tests.
	Now func() time.Time
}

// NewManager constructs a Manager with the given store, default per-window
// token limit, and enforcement mode.
func NewManager(store Store, defaultLimit int64, enforcement Enforcement) *Manager {
	return &Manager{Store: store, DefaultLimit: defaultLimit, Enforcement: enforcement, RollingDays: 1}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// CheckAndReserve implements spec.md §4.3.2's check_and_reserve: load (or
// implicitly create, via the store's zero value) the window's used total,
// and either admit or reject the reservation per Enforcement.
func (m *Manager) CheckAndReserve(ctx context.Context, scope ScopeKey, tokens int64) (*Reservation, error) {
	return m.checkAndReserveWindow(ctx, scope, WindowDaily, tokens)
}

// CheckAndReserveWindow is CheckAndReserve parameterized by window kind;
// CheckAndReserve is the daily-window convenience form, and the one the
// gateway calls; the monthly and rolling windows are checked only by callers
// that use CheckAndReserveWindow directly.
func (m *Manager) CheckAndReserveWindow(ctx context.Context, scope ScopeKey, window Window, tokens int64) (*Reservation, error) {
	return m.checkAndReserveWindow(ctx, scope, window, tokens)
}

func (m *Manager) checkAndReserveWindow(ctx context.Context, scope ScopeKey, window Window, tokens int64) (*Reservation, error) {
	start, err := windowStart(window, m.now(), m.RollingDays)
	if err != nil {
		return nil, err
	}
	key := scope.key()

	limit, err := m.Store.Limit(ctx, key, window)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = m.DefaultLimit
	}

	used, err := m.Store.Sum(ctx, key, window, start)
	if err != nil {
		return nil, err
	}

	if used+tokens > limit {
		if m.Enforcement == EnforcementHard {
			return nil, agentflowerr.QuotaExceeded("quota exceeded for scope")
		}
		// soft: log and continue; we still reserve.
		log.Printf("quota: soft limit exceeded for scope %s (%s window): %d used + %d requested > %d limit",
			key, window, used, tokens, limit)
	}

	if err := m.Store.Append(ctx, key, window, tokens, m.now()); err != nil {
		return nil, err
	}
	return &Reservation{scope: scope, window: window, windowStart: start, tokensReserved: tokens}, nil
}

// RecordUsage adjusts the window's used total by tokensActual -
// tokensReserved (spec.md §9's resolved open question), which may be
// negative if the call used fewer tokens than reserved.
func (m *Manager) RecordUsage(ctx context.Context, res *Reservation, tokensActual int64) error {
	if res == nil {
		return errors.New("quota: nil reservation")
	}
	delta := tokensActual - res.tokensReserved
	if delta == 0 {
		return nil
	}
	return m.Store.Append(ctx, res.scope.key(), res.window, delta, m.now())
}
