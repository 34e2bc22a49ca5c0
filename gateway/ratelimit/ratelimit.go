// Package ratelimit implements the provider gateway's token-bucket rate
// limiter: one bucket per provider name, refilled continuously at
// rate_per_sec up to a capacity of max_tokens, with two interchangeable
// backends (in-process, shared Redis store) behind a common interface.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownProvider is returned by Acquire/Release/Status when the caller
// has not first registered the provider's bucket parameters via Configure.
var ErrUnknownProvider = errors.New("ratelimit: unknown provider")

// Status is the observable snapshot of a provider's bucket, queryable per
// spec §4.3.1.
type Status struct {
	AvailableTokens float64
	RatePerSec      float64
	MaxTokens       float64
}

// Backend is the pluggable storage/synchronization layer behind the token
// bucket. Both implementations must perform the refill-then-acquire step as
// a single atomic operation: an in-process mutex critical section, or one
// atomic script round-trip against a shared store.
type Backend interface {
	// Configure registers (or updates) the bucket parameters for a
	// provider. Idempotent; safe to call repeatedly with the same values.
	Configure(provider string, ratePerSec, maxTokens float64) error

	// Acquire attempts to withdraw k tokens from provider's bucket,
	// refilling first based on elapsed time. It retries until either the
	// withdrawal succeeds or timeout elapses, returning (false, nil) on
	// timeout and (false, err) only for a backend-level failure.
	Acquire(ctx context.Context, provider string, k float64, timeout time.Duration) (bool, error)

	// Release returns up to k tokens to provider's bucket, capped at
	// capacity. Used only to cancel a reservation when the inner call could
	// not be attempted (spec §4.3.1).
	Release(ctx context.Context, provider string, k float64) error

	// Status reports the current observable bucket state.
	Status(ctx context.Context, provider string) (Status, error)
}

// pollInterval bounds how often Acquire retries a failed withdrawal while
// waiting for a refill, so waiters don't spin the CPU.
const pollInterval = 10 * time.Millisecond

// Limiter is the gateway-facing entry point: a thin wrapper over a Backend
// that the router/breaker/retry layers call directly by provider name.
type Limiter struct {
	backend Backend
}

// New wraps backend as the gateway's rate limiter.
func New(backend Backend) *Limiter {
	return &Limiter{backend: backend}
}

func (l *Limiter) Configure(provider string, ratePerSec, maxTokens float64) error {
	return l.backend.Configure(provider, ratePerSec, maxTokens)
}

func (l *Limiter) Acquire(ctx context.Context, provider string, k float64, timeout time.Duration) (bool, error) {
	return l.backend.Acquire(ctx, provider, k, timeout)
}

func (l *Limiter) Release(ctx context.Context, provider string, k float64) error {
	return l.backend.Release(ctx, provider, k)
}

func (l *Limiter) Status(ctx context.Context, provider string) (Status, error) {
	return l.backend.Status(ctx, provider)
}
