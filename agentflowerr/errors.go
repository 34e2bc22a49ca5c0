// Package agentflowerr defines the error taxonomy shared by every component
// of the orchestration substrate: the graph executor, the dispatcher, the
// provider gateway, and the HITL coordinator all fail through these types so
// that a run's terminal error can be classified without inspecting strings.
package agentflowerr

import "errors"

// Kind classifies an error by its recovery policy. It is carried on every
// typed error below so the graph executor and gateway can decide whether to
// retry, fail over, or surface the error to the caller without a type switch
// over every concrete error type.
type Kind string

const (
	KindValidation    Kind = "validation_error"
	KindQuota         Kind = "quota_exceeded"
	KindRateLimit     Kind = "rate_limit_timeout"
	KindCircuitOpen   Kind = "circuit_open"
	KindTransient     Kind = "provider_transient"
	KindPermanent     Kind = "provider_permanent"
	KindCheckpoint    Kind = "checkpoint_conflict"
	KindHITLConflict  Kind = "hitl_decision_conflict"
	KindWorkflowTimeo Kind = "workflow_timeout"
	KindInternal      Kind = "internal_error"
)

// Error is the common shape for every taxonomy member: a kind, a one-line
// message safe to surface to a caller, and an optional wrapped cause for
// %w-style unwrapping and errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, target) match when target is an *Error of the
// same Kind, in addition to the usual identity/Unwrap chain comparison. A
// bare Kind is not an error value; use the package-level Is(err, kind) for
// that check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Validation wraps a pre-call input schema mismatch. Never retried.
func Validation(msg string) *Error { return newf(KindValidation, msg, nil) }

// QuotaExceeded is raised in hard enforcement mode when a reservation would
// push tokens_used past the scope's window limit.
func QuotaExceeded(msg string) *Error { return newf(KindQuota, msg, nil) }

// RateLimitTimeout is raised when a token-bucket Acquire does not obtain its
// tokens before the caller's deadline. The gateway treats this as a signal
// to fail over to the next provider.
func RateLimitTimeout(msg string) *Error { return newf(KindRateLimit, msg, nil) }

// CircuitOpen is raised by the gateway when the selected provider's breaker
// is open and the recovery timeout has not yet elapsed.
func CircuitOpen(msg string) *Error { return newf(KindCircuitOpen, msg, nil) }

// Transient wraps a retryable remote failure (429, 5xx, timeout).
func Transient(msg string, cause error) *Error { return newf(KindTransient, msg, cause) }

// Permanent wraps a non-retryable remote failure (4xx other than 429).
func Permanent(msg string, cause error) *Error { return newf(KindPermanent, msg, cause) }

// Checkpoint wraps a failed checkpoint commit, such as an upsert conflict on
// (thread_id, checkpoint_id). The engine retries the commit exactly once
// before failing the run with this error.
func Checkpoint(msg string, cause error) *Error { return newf(KindCheckpoint, msg, cause) }

// HITLConflict is raised when a review is decided twice.
func HITLConflict(msg string) *Error { return newf(KindHITLConflict, msg, nil) }

// WorkflowTimeout is raised when a run exceeds its wall-clock deadline.
func WorkflowTimeout(msg string) *Error { return newf(KindWorkflowTimeo, msg, nil) }

// Internal wraps an unexpected error. Always audit-logged by the caller.
func Internal(msg string, cause error) *Error { return newf(KindInternal, msg, cause) }

// Is reports whether err carries the given Kind, looking through Unwrap.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Cancelled is a sentinel cause for a run cancelled between steps. Nothing
// in this module wraps or returns it: the graph engine returns ctx.Err()
// unchanged when a run's context ends.
var Cancelled = errors.New("cancelled")
