package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/corenexus/agentflow/graph/emit"
)

// MemStore is an in-memory Checkpointer: every thread's checkpoint history
// and pending-writes ledger live in process memory. Suitable for tests,
// single-process demos, and the in-process dispatcher fallback; state is
// lost on process exit.
type MemStore struct {
	mu             sync.RWMutex
	byThread       map[string][]CheckpointTuple          // thread_id -> checkpoints, oldest first
	writes         map[string]map[string][]PendingWrite // thread_id -> checkpoint_id -> writes
	idempotencyMap map[string]bool
	pendingEvents  []emit.Event
	eventSeq       int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		byThread:       make(map[string][]CheckpointTuple),
		writes:         make(map[string]map[string][]PendingWrite),
		idempotencyMap: make(map[string]bool),
		pendingEvents:  make([]emit.Event, 0),
	}
}

func (m *MemStore) Put(_ context.Context, tuple CheckpointTuple) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byThread[tuple.ThreadID] {
		if existing.CheckpointID == tuple.CheckpointID {
			return nil // idempotent: already committed
		}
	}
	m.byThread[tuple.ThreadID] = append(m.byThread[tuple.ThreadID], tuple)
	return nil
}

func (m *MemStore) PutWrites(_ context.Context, writes []PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		byCheckpoint, ok := m.writes[w.ThreadID]
		if !ok {
			byCheckpoint = make(map[string][]PendingWrite)
			m.writes[w.ThreadID] = byCheckpoint
		}
		existing := byCheckpoint[w.CheckpointID]
		dup := false
		for _, e := range existing {
			if e.TaskID == w.TaskID && e.Idx == w.Idx {
				dup = true
				break
			}
		}
		if !dup {
			byCheckpoint[w.CheckpointID] = append(existing, w)
		}
	}
	return nil
}

func (m *MemStore) GetTuple(_ context.Context, threadID, checkpointID string) (CheckpointTuple, []PendingWrite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.byThread[threadID]
	if len(history) == 0 {
		return CheckpointTuple{}, nil, ErrNotFound
	}

	var tuple CheckpointTuple
	if checkpointID == "" {
		tuple = history[len(history)-1]
	} else {
		found := false
		for _, t := range history {
			if t.CheckpointID == checkpointID {
				tuple = t
				found = true
				break
			}
		}
		if !found {
			return CheckpointTuple{}, nil, ErrNotFound
		}
	}

	writes := m.writes[threadID][tuple.CheckpointID]
	out := make([]PendingWrite, len(writes))
	copy(out, writes)
	return tuple, out, nil
}

func (m *MemStore) List(_ context.Context, threadID string, limit int) ([]CheckpointTuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.byThread[threadID]
	out := make([]CheckpointTuple, len(history))
	for i, t := range history {
		out[len(history)-1-i] = t // most recent first
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) CheckIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotencyMap[key], nil
}

func (m *MemStore) MarkIdempotent(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotencyMap[key] = true
	return nil
}

func (m *MemStore) PendingEvents(_ context.Context, limit int) ([]emit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.pendingEvents
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	cp := make([]emit.Event, len(out))
	copy(cp, out)
	return cp, nil
}

func (m *MemStore) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		ids[id] = true
	}
	remaining := m.pendingEvents[:0]
	for _, e := range m.pendingEvents {
		if !ids[e.ID] {
			remaining = append(remaining, e)
		}
	}
	m.pendingEvents = remaining
	return nil
}

// Enqueue appends an event to the transactional outbox, assigning it an ID
// if it doesn't already have one. The engine does not call it; events the
// engine emits go to its Emitter.
func (m *MemStore) Enqueue(e emit.Event) emit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		m.eventSeq++
		e.ID = fmt.Sprintf("evt-%d", m.eventSeq)
	}
	m.pendingEvents = append(m.pendingEvents, e)
	return e
}

var _ Checkpointer = (*MemStore)(nil)
