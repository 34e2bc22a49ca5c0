// Package gateway sits in front of every outbound model call an agent node
// makes, layering quota -> router -> rate limiter -> circuit breaker ->
// retry -> call exactly as spec.md §4.3 orders it.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corenexus/agentflow/agentflowerr"
	"github.com/corenexus/agentflow/cost"
	"github.com/corenexus/agentflow/gateway/quota"
	"github.com/corenexus/agentflow/gateway/ratelimit"
	"github.com/corenexus/agentflow/gateway/retry"
	"github.com/corenexus/agentflow/gateway/router"
	"github.com/corenexus/agentflow/internal/backoff"
)

// CallFunc is the function an agent node supplies to make the actual
// provider request. Out of scope per spec.md §1 (language-model clients
// and their prompting logic are external collaborators): the gateway only
// requires that errors escaping fn are already classified via agentflowerr
// (Transient for 429/5xx/timeout, Permanent for other 4xx, Validation for
// input schema mismatches) so the failover/retry layers can interpret them
// without protocol-specific knowledge.
type CallFunc func(ctx context.Context, provider string) (result any, model string, promptTokens, completionTokens int, err error)

// Config parameterizes a Gateway per spec.md §6's configuration surface.
type Config struct {
	Policy              router.Policy
	MaxProviderAttempts int
	ProviderCooldown    time.Duration
	RateLimitTimeout    time.Duration
	Retry               retry.Policy
}

// DefaultConfig returns the gateway's documented defaults.
func DefaultConfig() Config {
	return Config{
		Policy:              router.PolicyPrimary,
		MaxProviderAttempts: 3,
		ProviderCooldown:    30 * time.Second,
		RateLimitTimeout:    5 * time.Second,
		Retry: retry.Policy{
			MaxAttempts: 3,
			Backoff: backoff.Policy{
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Factor:       2,
				Jitter:       true,
			},
		},
	}
}

// Gateway wires the five sub-layers behind one Call entry point.
type Gateway struct {
	cfg      Config
	quota    *quota.Manager
	registry *router.Registry
	breakers *router.BreakerManager
	limiter  *ratelimit.Limiter
	tracer   trace.Tracer
}

// New constructs a Gateway from its layers. Any of quotaMgr, breakers may
// be nil to disable that layer (spec.md §6 "rate_limit.enabled" etc. are
// realized by the caller simply not wiring that sub-layer in).
func New(cfg Config, quotaMgr *quota.Manager, registry *router.Registry, breakers *router.BreakerManager, limiter *ratelimit.Limiter) *Gateway {
	return &Gateway{
		cfg:      cfg,
		quota:    quotaMgr,
		registry: registry,
		breakers: breakers,
		limiter:  limiter,
		tracer:   otel.Tracer("agentflow/gateway"),
	}
}

// Result carries the outcome of a successful Call: the value, which
// provider actually served it (may differ from the caller's preference
// after failover), and the number of provider attempts. Usage is recorded
// on the tracker passed to Call, not returned here.
type Result struct {
	Value    any
	Provider string
	Attempts int
}

// Call runs the full quota/router/ratelimit/breaker/retry/call pipeline
// for one logical provider request, per spec.md §4.3's five sub-layers.
//
// scope and estimatedTokens drive the quota reservation; preferred, if
// non-empty, is honored by the router when eligible. tracker, if non-nil,
// records exactly one usage row per successful call (spec.md §4.3's
// end-to-end invariant); rng seeds the retry backoff's jitter
// deterministically when the caller supplies the thread's seeded source.
func (g *Gateway) Call(ctx context.Context, scope quota.ScopeKey, preferred string, estimatedTokens int64, tracker *cost.Tracker, nodeID string, rng *rand.Rand, fn CallFunc) (Result, error) {
	var reservation *quota.Reservation
	if g.quota != nil {
		res, err := g.quota.CheckAndReserve(ctx, scope, estimatedTokens)
		if err != nil {
			return Result{}, err
		}
		reservation = res
	}

	excluded := make(map[string]bool)
	var lastErr error

	maxAttempts := g.cfg.MaxProviderAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		provider, err := g.registry.Select(g.cfg.Policy, preferred, excluded)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		value, model, promptTokens, completionTokens, callErr := g.attemptProvider(ctx, provider, rng, fn)
		if callErr == nil {
			if tracker != nil {
				tracker.Record(provider, model, promptTokens, completionTokens, nodeID)
			}
			if g.quota != nil && reservation != nil {
				_ = g.quota.RecordUsage(ctx, reservation, int64(promptTokens+completionTokens))
			}
			return Result{Value: value, Provider: provider, Attempts: attempt}, nil
		}

		lastErr = callErr
		if g.limiter != nil {
			_ = g.limiter.Release(ctx, provider, float64(estimatedTokens))
		}

		if !shouldFailover(callErr) {
			return Result{}, callErr
		}
		g.registry.MarkDegraded(provider, g.cfg.ProviderCooldown)
		excluded[provider] = true
	}

	return Result{}, lastErr
}

// shouldFailover reports whether callErr should advance the failover loop
// to the next provider (rate_limited, timeout, server_error per spec.md
// §4.3.3 step 3) versus surfacing immediately (everything else).
func shouldFailover(err error) bool {
	return agentflowerr.Is(err, agentflowerr.KindTransient) ||
		agentflowerr.Is(err, agentflowerr.KindRateLimit) ||
		agentflowerr.Is(err, agentflowerr.KindCircuitOpen)
}

// attemptProvider runs the circuit breaker, rate limiter, and retry layers
// around one provider's fn invocation, emitting one OTel span for the
// attempt per spec.md §4.3's end-to-end invariant.
func (g *Gateway) attemptProvider(ctx context.Context, provider string, rng *rand.Rand, fn CallFunc) (value any, model string, promptTokens, completionTokens int, err error) {
	ctx, span := g.tracer.Start(ctx, "gateway.call")
	defer span.End()
	start := time.Now()

	span.SetAttributes(
		attribute.String("agentflow.gateway.provider", provider),
		attribute.String("agentflow.gateway.policy", string(g.cfg.Policy)),
	)

	type outcome struct {
		value        any
		model        string
		promptTokens int
		compTokens   int
	}

	run := func() (any, error) {
		if g.limiter != nil {
			ok, acquireErr := g.limiter.Acquire(ctx, provider, 1, g.cfg.RateLimitTimeout)
			if acquireErr != nil {
				return nil, acquireErr
			}
			if !ok {
				return nil, agentflowerr.RateLimitTimeout("rate limiter acquire timed out for provider " + provider)
			}
		}

		var out outcome
		retryErr := retry.Do(ctx, g.cfg.Retry, rng, func(int) error {
			v, mdl, pt, ct, callErr := fn(ctx, provider)
			if callErr != nil {
				return callErr
			}
			out = outcome{value: v, model: mdl, promptTokens: pt, compTokens: ct}
			return nil
		})
		if retryErr != nil {
			return nil, retryErr
		}
		return out, nil
	}

	var res any
	if g.breakers != nil {
		res, err = g.breakers.Execute(provider, run)
	} else {
		res, err = run()
	}

	latency := time.Since(start)
	span.SetAttributes(attribute.Int64("agentflow.gateway.latency_ms", latency.Milliseconds()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, "", 0, 0, translateBreakerError(err)
	}
	span.SetStatus(codes.Ok, "")

	out, ok := res.(outcome)
	if !ok {
		return nil, "", 0, 0, errors.New("gateway: unexpected call result type")
	}
	return out.value, out.model, out.promptTokens, out.compTokens, nil
}

// translateBreakerError maps gobreaker's own "circuit breaker is open"
// sentinel to agentflowerr.CircuitOpen so the failover loop's error
// classification stays in one taxonomy.
func translateBreakerError(err error) error {
	if agentflowerr.Is(err, agentflowerr.KindTransient) ||
		agentflowerr.Is(err, agentflowerr.KindPermanent) ||
		agentflowerr.Is(err, agentflowerr.KindRateLimit) ||
		agentflowerr.Is(err, agentflowerr.KindCircuitOpen) ||
		agentflowerr.Is(err, agentflowerr.KindValidation) {
		return err
	}
	if err.Error() == "circuit breaker is open" {
		return agentflowerr.CircuitOpen(err.Error())
	}
	return err
}
