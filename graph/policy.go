package graph

import (
	"math/rand"
	"time"

	"github.com/corenexus/agentflow/internal/backoff"
)

// NodePolicy configures the execution behavior for a specific node: timeout,
// retry, and idempotency-key generation. Policies are attached to nodes at
// Add time and enforced by the engine's step loop. Unset fields fall back to
// the engine's defaults (WithDefaultNodeTimeout, etc).
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node. If zero,
	// the engine's default node timeout applies.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient failures.
	// If nil, a node failure fails the run on the first attempt.
	RetryPolicy *RetryPolicy

	// IdempotencyKeyFunc generates a custom idempotency key from committed
	// state ahead of this node's execution. If nil, the engine derives a key
	// from (thread id, checkpoint id, node id, state) — sufficient for pure nodes,
	// but a side-effecting node with RequiresIdempotency should supply one
	// that's stable across retries of the *same* logical attempt only.
	IdempotencyKeyFunc func(state State) string
}

// RetryPolicy defines automatic retry configuration for transient node
// failures, per the gateway's "Retryable error taxonomy" (spec §4.3): a node
// retries only errors its Retryable predicate accepts, using the shared
// exponential-backoff-with-jitter formula in internal/backoff.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts including the
	// initial one. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay and MaxDelay parameterize internal/backoff.Policy.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Retryable decides whether a node error should be retried. If nil, no
	// error is retried regardless of MaxAttempts.
	Retryable func(error) bool
}

// backoffPolicy adapts a RetryPolicy to the shared backoff formula.
func (rp *RetryPolicy) backoffPolicy() backoff.Policy {
	return backoff.Policy{
		InitialDelay: rp.BaseDelay,
		MaxDelay:     rp.MaxDelay,
		Factor:       2,
		Jitter:       true,
	}
}

// delay returns the wait before retry attempt k (1-indexed), drawing jitter
// from rng for deterministic replay when rng is the thread's seeded source.
func (rp *RetryPolicy) delay(k int, rng *rand.Rand) time.Duration {
	return rp.backoffPolicy().Delay(k, rng)
}

// SideEffectPolicy declares the external I/O characteristics of a node.
// RequiresIdempotency marks a node whose side effects (a tool call, a
// provider request charged against quota) must not be repeated on replay of
// an already-committed step; the engine enforces this via the checkpointer's
// idempotency-key ledger rather than by skipping the node outright.
type SideEffectPolicy struct {
	// RequiresIdempotency indicates this node's effects must be deduplicated
	// by idempotency key across re-delivery of the same step.
	RequiresIdempotency bool
}

// Validate reports whether the RetryPolicy is internally consistent:
// MaxAttempts >= 1, and MaxDelay >= BaseDelay whenever both are set.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}
