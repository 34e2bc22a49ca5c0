package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is the mutable state of one provider's token bucket.
type bucket struct {
	tokens     float64
	maxTokens  float64
	ratePerSec float64
	lastRefill time.Time
}

// refill recomputes tokens based on elapsed time since lastRefill, capped at
// maxTokens, per spec §4.3.1's refill formula. Caller must hold the mutex.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.maxTokens, b.tokens+elapsed*b.ratePerSec)
	b.lastRefill = now
}

// InProcessBackend is a mutex-protected map of provider buckets, the
// default backend for single-process deployments and tests.
type InProcessBackend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewInProcessBackend returns an empty in-process backend. Providers must
// be registered with Configure before Acquire/Release/Status are called.
func NewInProcessBackend() *InProcessBackend {
	return &InProcessBackend{buckets: make(map[string]*bucket)}
}

func (b *InProcessBackend) Configure(provider string, ratePerSec, maxTokens float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.buckets[provider]
	if !ok {
		b.buckets[provider] = &bucket{
			tokens:     maxTokens,
			maxTokens:  maxTokens,
			ratePerSec: ratePerSec,
			lastRefill: time.Now(),
		}
		return nil
	}
	existing.ratePerSec = ratePerSec
	existing.maxTokens = maxTokens
	if existing.tokens > maxTokens {
		existing.tokens = maxTokens
	}
	return nil
}

func (b *InProcessBackend) Acquire(ctx context.Context, provider string, k float64, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := b.tryAcquire(provider, k)
		if err != nil || ok {
			return ok, err
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (b *InProcessBackend) tryAcquire(provider string, k float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[provider]
	if !ok {
		return false, ErrUnknownProvider
	}
	bk.refill(time.Now())
	if bk.tokens < k {
		return false, nil
	}
	bk.tokens -= k
	return true, nil
}

func (b *InProcessBackend) Release(ctx context.Context, provider string, k float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[provider]
	if !ok {
		return ErrUnknownProvider
	}
	bk.refill(time.Now())
	bk.tokens = min(bk.maxTokens, bk.tokens+k)
	return nil
}

func (b *InProcessBackend) Status(ctx context.Context, provider string) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[provider]
	if !ok {
		return Status{}, ErrUnknownProvider
	}
	bk.refill(time.Now())
	return Status{AvailableTokens: bk.tokens, RatePerSec: bk.ratePerSec, MaxTokens: bk.maxTokens}, nil
}
