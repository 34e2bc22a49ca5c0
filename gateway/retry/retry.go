// Package retry implements the gateway's innermost layer (spec.md §4.3.4):
// exponential backoff over the classified-retryable error set only,
// adapted nearly verbatim from the graph engine's own node retry policy so
// both layers share one backoff formula (internal/backoff).
package retry

import (
	"context"
	"math/rand"

	"github.com/corenexus/agentflow/agentflowerr"
	"github.com/corenexus/agentflow/internal/backoff"
)

// Policy configures a retry loop: how many attempts total, and the backoff
// schedule between them.
type Policy struct {
	MaxAttempts int
	Backoff     backoff.Policy
}

// IsRetryable reports whether err belongs to spec.md §7's retryable set:
// ProviderTransient only. ValidationError, ProviderPermanent, QuotaExceeded,
// CircuitOpen and the rest escape on first occurrence — CircuitOpen and
// RateLimitTimeout are handled by the router's failover loop, not by
// retrying the same provider.
func IsRetryable(err error) bool {
	return agentflowerr.Is(err, agentflowerr.KindTransient)
}

// Do runs fn, retrying while its error is retryable and attempts remain.
// fn receives the 1-indexed attempt number. rng seeds jitter; pass the
// caller's deterministic per-thread source for reproducible replay, or nil
// to use the package-level source.
//
// Do does not itself count attempts against a circuit breaker: the caller
// must wrap the whole Do call in the breaker's Execute so a retry-exhausted
// failure counts as exactly one circuit failure, per spec.md §4.3.4.
func Do(ctx context.Context, policy Policy, rng *rand.Rand, fn func(attempt int) error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		delay := policy.Backoff.Delay(attempt, rng)
		if !backoff.Sleep(delay, ctx.Done()) {
			return ctx.Err()
		}
	}
	return lastErr
}
