// Package hitl implements the human-in-the-loop approval coordinator:
// approval gates declared per workflow, the review lifecycle (pending ->
// approved/rejected/expired, exactly once), and a periodic sweeper for
// timed-out reviews, per spec.md §4.5. Built on graph.Engine's
// interrupt_before mechanism and the eventbus for presence-aware
// notification of pending reviews.
package hitl

import "time"

// RiskLevel classifies how sensitive a gated step is. Informational only:
// the coordinator itself treats every gate the same regardless of level,
// but it is carried on ReviewRequest so a reviewing UI can prioritize.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// OnReject selects what happens to a run when a gated review is rejected.
type OnReject string

const (
	OnRejectAbort    OnReject = "abort"
	OnRejectFallback OnReject = "fallback"
)

// OnTimeout selects what happens when a review expires unanswered.
type OnTimeout string

const (
	OnTimeoutReject  OnTimeout = "reject"
	OnTimeoutApprove OnTimeout = "approve"
)

// ApprovalGate is one workflow's declared HITL gate, per spec.md §4.5.
// FallbackNode is consulted only when OnReject == OnRejectFallback.
type ApprovalGate struct {
	StepName       string
	RiskLevel      RiskLevel
	TimeoutSeconds int
	OnReject       OnReject
	OnTimeout      OnTimeout
	FallbackNode   string
}

func (g ApprovalGate) timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// Status is a ReviewRequest's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// ReviewRequest is created when the executor pauses before a gated node.
// ProposedAction holds the paused thread's committed state values, as
// GetState returns them, for the human reviewer.
type ReviewRequest struct {
	ID             string
	ThreadID       string
	CheckpointID   string
	StepName       string
	ProposedAction any
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time
	DecidedAt      time.Time
}
