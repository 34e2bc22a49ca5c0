package hitl

import (
	"context"
	"errors"
	"time"

	"github.com/corenexus/agentflow/graph"
)

// Sweeper periodically moves pending reviews past their expiry to expired
// and resumes the affected run per the gate's OnTimeout policy, per spec.md
// §4.5 step 5. Grounded in the same long-lived-background-task shape
// spec.md §5 names for the divergence monitor and shadow runner.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
}

// NewSweeper returns a Sweeper that checks for expired reviews every
// interval.
func NewSweeper(coord *Coordinator, interval time.Duration) *Sweeper {
	return &Sweeper{coord: coord, interval: interval}
}

// Run blocks, sweeping on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// sweepOnce runs a single sweep pass. It is unexported; in-package tests
// call it for one deterministic pass without waiting on the ticker.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	expirable, err := s.coord.reviews.ListExpirable(ctx, s.coord.now())
	if err != nil {
		return
	}
	for _, review := range expirable {
		s.expireOne(ctx, review)
	}
}

func (s *Sweeper) expireOne(ctx context.Context, review ReviewRequest) {
	expired, err := s.coord.reviews.Decide(ctx, review.ID, StatusExpired, s.coord.now())
	if err != nil {
		// Already decided by a human between ListExpirable and here; the
		// human's decision wins.
		return
	}

	gate, ok := s.coord.gates[expired.StepName]
	if !ok {
		return
	}

	switch gate.OnTimeout {
	case OnTimeoutApprove:
		_, err := s.coord.engine.Resume(ctx, expired.ThreadID)
		if err != nil && !errors.Is(err, graph.ErrInterrupted) {
			return
		}
		s.coord.emit(ctx, expired.ThreadID, "agent_completed", expired.StepName, "expired_approved")
	default: // OnTimeoutReject
		switch gate.OnReject {
		case OnRejectFallback:
			_ = s.coord.routeToFallback(ctx, expired, gate)
		default:
			s.coord.emit(ctx, expired.ThreadID, "failed", expired.StepName, "expired_rejected")
		}
	}
}
