// Package store provides durable persistence for graph checkpoints: the
// (thread, checkpoint) tuples the engine reads on Resume/Fork/GetState and
// the pending-writes ledger that makes step commits idempotent under
// at-least-once re-delivery.
//
// State is carried as map[string]any rather than graph.State to avoid a
// store<->graph import cycle; the two are structurally identical and
// assignable in either direction without a conversion.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/corenexus/agentflow/graph/emit"
)

// ErrNotFound is returned when a requested thread or checkpoint does not exist.
var ErrNotFound = errors.New("store: not found")

// CheckpointTuple is a durable snapshot of one committed step: the state
// after the step, which node(s) run next, and a parent pointer that threads
// checkpoints into a history per thread. A nil ParentCheckpointID marks
// either the first checkpoint of a thread or the root of a fork.
type CheckpointTuple struct {
	ThreadID           string         `json:"thread_id"`
	CheckpointID       string         `json:"checkpoint_id"`
	ParentCheckpointID string         `json:"parent_checkpoint_id,omitempty"`
	State              map[string]any `json:"state"`
	Next               string         `json:"next"`
	CreatedAt          time.Time      `json:"created_at"`
	Label              string         `json:"label,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// PendingWrite records one node's output for a step before it is folded into
// the next CheckpointTuple's State. Keeping writes separate from the
// checkpoint they'll merge into lets the engine commit a step in two
// idempotent phases: write the node's output, then advance the checkpoint —
// a crash between the two is safe to resume because PutWrites is itself
// idempotent per (ThreadID, CheckpointID, TaskID, Idx).
type PendingWrite struct {
	ThreadID     string    `json:"thread_id"`
	CheckpointID string    `json:"checkpoint_id"`
	TaskID       string    `json:"task_id"`
	Idx          int       `json:"idx"`
	Channel      string    `json:"channel"`
	Value        any       `json:"value"`
	CreatedAt    time.Time `json:"created_at"`
}

// Checkpointer persists the checkpoint history for every thread the engine
// runs. Implementations must make Put and PutWrites safe to call twice with
// the same CheckpointID / (TaskID, Idx): the second call is a no-op, which is
// what lets Invoke/Resume recover from a crash between commit and ack by
// simply re-executing the step.
type Checkpointer interface {
	// Put durably commits a checkpoint. Idempotent on CheckpointID.
	Put(ctx context.Context, tuple CheckpointTuple) error

	// PutWrites durably records pending writes for a not-yet-committed step.
	// Idempotent per (ThreadID, CheckpointID, TaskID, Idx).
	PutWrites(ctx context.Context, writes []PendingWrite) error

	// GetTuple loads a checkpoint tuple and its pending writes. checkpointID
	// = "" loads the latest checkpoint for the thread.
	GetTuple(ctx context.Context, threadID, checkpointID string) (CheckpointTuple, []PendingWrite, error)

	// List returns checkpoints for a thread, most recent first, capped at
	// limit (0 means no cap).
	List(ctx context.Context, threadID string, limit int) ([]CheckpointTuple, error)

	// CheckIdempotency reports whether key has already been committed.
	CheckIdempotency(ctx context.Context, key string) (bool, error)

	// MarkIdempotent records key as committed. Called in the same logical
	// transaction as the Put it guards.
	MarkIdempotent(ctx context.Context, key string) error

	// PendingEvents returns outbox events not yet marked emitted, oldest
	// first, capped at limit.
	PendingEvents(ctx context.Context, limit int) ([]emit.Event, error)

	// MarkEventsEmitted marks events as delivered so PendingEvents stops
	// returning them.
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error
}
