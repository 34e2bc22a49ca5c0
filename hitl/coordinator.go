package hitl

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/corenexus/agentflow/eventbus"
	"github.com/corenexus/agentflow/graph"
	"github.com/corenexus/agentflow/graph/store"
)

// ErrNoFallbackDeclared is returned when a gate's OnReject is
// OnRejectFallback but no FallbackNode was configured for it.
var ErrNoFallbackDeclared = errors.New("hitl: on_reject=fallback but no fallback node declared")

// Coordinator drives the review lifecycle on top of a graph.Engine and its
// checkpointer, following spec.md §4.5's five-step flow.
type Coordinator struct {
	engine      *graph.Engine
	checkpoints store.Checkpointer
	reviews     ReviewStore
	bus         *eventbus.Hub
	gates       map[string]ApprovalGate
	// now is the clock used to stamp CreatedAt/ExpiresAt; overridable in
	// tests.
	now func() time.Time
}

// NewCoordinator builds a Coordinator. gates is keyed by StepName.
func NewCoordinator(engine *graph.Engine, checkpoints store.Checkpointer, reviews ReviewStore, bus *eventbus.Hub, gates []ApprovalGate) *Coordinator {
	byName := make(map[string]ApprovalGate, len(gates))
	for _, g := range gates {
		byName[g.StepName] = g
	}
	return &Coordinator{engine: engine, checkpoints: checkpoints, reviews: reviews, bus: bus, gates: byName, now: time.Now}
}

// OnInterrupt is called by the run worker after an Invoke/Resume call
// returns graph.ErrInterrupted: it loads the paused thread's pending node,
// creates a pending ReviewRequest, and notifies subscribers.
func (c *Coordinator) OnInterrupt(ctx context.Context, threadID string) (ReviewRequest, error) {
	snap, err := c.engine.GetState(ctx, threadID)
	if err != nil {
		return ReviewRequest{}, err
	}
	if len(snap.NextNodes) == 0 {
		return ReviewRequest{}, errors.New("hitl: no pending node to gate")
	}
	stepName := snap.NextNodes[0]
	gate, ok := c.gates[stepName]
	if !ok {
		return ReviewRequest{}, errors.New("hitl: no approval gate declared for step " + stepName)
	}

	now := c.now()
	review := ReviewRequest{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ThreadID:       threadID,
		CheckpointID:   snap.CheckpointID,
		StepName:       stepName,
		ProposedAction: snap.Values,
		Status:         StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(gate.timeout()),
	}
	if err := c.reviews.Create(ctx, review); err != nil {
		return ReviewRequest{}, err
	}

	if c.bus != nil {
		c.bus.Publish(ctx, eventbus.Event{
			TimestampUTC: now.UTC(),
			RunID:        threadID,
			EventType:    eventbus.TypeAgentStarted,
			AgentName:    stepName,
			Payload:      map[string]string{"review_id": review.ID, "status": string(StatusPending)},
		})
	}
	return review, nil
}

// Decide submits a human decision for reviewID. approve=true moves the
// review to approved and resumes the run; approve=false moves it to
// rejected and applies the gate's OnReject policy. A review already
// decided returns agentflowerr.HITLConflict (via the store), surfaced to
// the caller unchanged.
func (c *Coordinator) Decide(ctx context.Context, reviewID string, approve bool) error {
	status := StatusRejected
	if approve {
		status = StatusApproved
	}
	review, err := c.reviews.Decide(ctx, reviewID, status, c.now())
	if err != nil {
		return err
	}
	if approve {
		return c.approve(ctx, review)
	}
	return c.reject(ctx, review)
}

func (c *Coordinator) approve(ctx context.Context, review ReviewRequest) error {
	_, err := c.engine.Resume(ctx, review.ThreadID)
	if err != nil && !errors.Is(err, graph.ErrInterrupted) {
		return err
	}
	c.emit(ctx, review.ThreadID, eventbus.TypeAgentCompleted, review.StepName, "approved")
	return nil
}

func (c *Coordinator) reject(ctx context.Context, review ReviewRequest) error {
	gate, ok := c.gates[review.StepName]
	if !ok {
		return errors.New("hitl: no approval gate declared for step " + review.StepName)
	}
	switch gate.OnReject {
	case OnRejectFallback:
		return c.routeToFallback(ctx, review, gate)
	default: // OnRejectAbort
		c.emit(ctx, review.ThreadID, eventbus.TypeRunFailed, review.StepName, "rejected")
		return nil
	}
}

// routeToFallback writes a new checkpoint whose Next is the gate's declared
// fallback node, branching off the gated checkpoint, then resumes the run.
// Because the fallback node is (by workflow design) not itself an
// interrupt-before gate, Resume proceeds past it without pausing again.
func (c *Coordinator) routeToFallback(ctx context.Context, review ReviewRequest, gate ApprovalGate) error {
	if gate.FallbackNode == "" {
		return ErrNoFallbackDeclared
	}
	tuple, _, err := c.checkpoints.GetTuple(ctx, review.ThreadID, review.CheckpointID)
	if err != nil {
		return err
	}
	fallback := store.CheckpointTuple{
		ThreadID:           review.ThreadID,
		CheckpointID:       uuid.Must(uuid.NewV7()).String(),
		ParentCheckpointID: tuple.CheckpointID,
		State:              tuple.State,
		Next:               gate.FallbackNode,
		CreatedAt:          c.now(),
		Label:              "hitl-fallback-from:" + review.ID,
	}
	if err := c.checkpoints.Put(ctx, fallback); err != nil {
		return err
	}
	_, err = c.engine.Resume(ctx, review.ThreadID)
	if err != nil && !errors.Is(err, graph.ErrInterrupted) {
		return err
	}
	c.emit(ctx, review.ThreadID, eventbus.TypeAgentCompleted, review.StepName, "rejected_fallback")
	return nil
}

func (c *Coordinator) emit(ctx context.Context, threadID string, t eventbus.Type, stepName, outcome string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, eventbus.Event{
		TimestampUTC: c.now().UTC(),
		RunID:        threadID,
		EventType:    t,
		AgentName:    stepName,
		Payload:      map[string]string{"outcome": outcome},
	})
}

// Gate returns the configured ApprovalGate for stepName, if any.
func (c *Coordinator) Gate(stepName string) (ApprovalGate, bool) {
	g, ok := c.gates[stepName]
	return g, ok
}
