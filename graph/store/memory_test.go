package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/corenexus/agentflow/graph/emit"
)

func TestMemStore_Construction(t *testing.T) {
	t.Run("construct with NewMemStore", func(t *testing.T) {
		s := NewMemStore()
		if s == nil {
			t.Fatal("NewMemStore returned nil")
		}
		var _ Checkpointer = s
	})

	t.Run("new store has no checkpoints", func(t *testing.T) {
		s := NewMemStore()
		ctx := context.Background()
		_, _, err := s.GetTuple(ctx, "nonexistent-thread", "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for empty store, got %v", err)
		}
	})

	t.Run("multiple stores are independent", func(t *testing.T) {
		s1, s2 := NewMemStore(), NewMemStore()
		ctx := context.Background()

		_ = s1.Put(ctx, CheckpointTuple{ThreadID: "thread-1", CheckpointID: "cp-1", Next: "a"})

		if _, _, err := s2.GetTuple(ctx, "thread-1", ""); !errors.Is(err, ErrNotFound) {
			t.Error("s2 should not see data written to s1")
		}
	})
}

func TestMemStore_PutIsIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	tuple := CheckpointTuple{ThreadID: "t1", CheckpointID: "cp-1", Next: "node-a", State: map[string]any{"x": 1.0}}
	if err := s.Put(ctx, tuple); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := s.Put(ctx, tuple); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	history, err := s.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one checkpoint after duplicate Put, got %d", len(history))
	}
}

func TestMemStore_GetTuple_LatestAndByID(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.Put(ctx, CheckpointTuple{ThreadID: "t1", CheckpointID: "cp-1", Next: "node-a"})
	_ = s.Put(ctx, CheckpointTuple{ThreadID: "t1", CheckpointID: "cp-2", ParentCheckpointID: "cp-1", Next: "node-b"})

	latest, _, err := s.GetTuple(ctx, "t1", "")
	if err != nil {
		t.Fatalf("GetTuple latest: %v", err)
	}
	if latest.CheckpointID != "cp-2" {
		t.Errorf("expected latest checkpoint cp-2, got %s", latest.CheckpointID)
	}

	byID, _, err := s.GetTuple(ctx, "t1", "cp-1")
	if err != nil {
		t.Fatalf("GetTuple by id: %v", err)
	}
	if byID.Next != "node-a" {
		t.Errorf("expected node-a, got %s", byID.Next)
	}

	if _, _, err := s.GetTuple(ctx, "t1", "cp-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing checkpoint id, got %v", err)
	}
}

func TestMemStore_PutWritesIdempotent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Put(ctx, CheckpointTuple{ThreadID: "t1", CheckpointID: "cp-1", Next: "node-a"})

	writes := []PendingWrite{
		{ThreadID: "t1", CheckpointID: "cp-1", TaskID: "task-1", Idx: 0, Channel: "out", Value: "v1"},
	}
	if err := s.PutWrites(ctx, writes); err != nil {
		t.Fatalf("first PutWrites: %v", err)
	}
	if err := s.PutWrites(ctx, writes); err != nil {
		t.Fatalf("second PutWrites: %v", err)
	}

	_, got, err := s.GetTuple(ctx, "t1", "cp-1")
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one pending write, got %d", len(got))
	}
}

func TestMemStore_List_MostRecentFirst(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Put(ctx, CheckpointTuple{ThreadID: "t1", CheckpointID: "cp-1", Next: "a"})
	_ = s.Put(ctx, CheckpointTuple{ThreadID: "t1", CheckpointID: "cp-2", Next: "b"})
	_ = s.Put(ctx, CheckpointTuple{ThreadID: "t1", CheckpointID: "cp-3", Next: "c"})

	out, err := s.List(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected limit to cap at 2, got %d", len(out))
	}
	if out[0].CheckpointID != "cp-3" {
		t.Errorf("expected most recent checkpoint first, got %s", out[0].CheckpointID)
	}
}

func TestMemStore_Idempotency(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	committed, err := s.CheckIdempotency(ctx, "key-1")
	if err != nil {
		t.Fatalf("CheckIdempotency: %v", err)
	}
	if committed {
		t.Error("unused key should not be committed")
	}

	if err := s.MarkIdempotent(ctx, "key-1"); err != nil {
		t.Fatalf("MarkIdempotent: %v", err)
	}

	committed, err = s.CheckIdempotency(ctx, "key-1")
	if err != nil {
		t.Fatalf("CheckIdempotency after mark: %v", err)
	}
	if !committed {
		t.Error("key-1 should be committed after MarkIdempotent")
	}
}

func TestMemStore_EventOutbox(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	e1 := s.Enqueue(emit.Event{RunID: "t1", Msg: "step_committed"})
	e2 := s.Enqueue(emit.Event{RunID: "t1", Msg: "step_committed"})
	if e1.ID == "" || e2.ID == "" || e1.ID == e2.ID {
		t.Fatalf("expected distinct assigned event ids, got %q and %q", e1.ID, e2.ID)
	}

	pending, err := s.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}

	if err := s.MarkEventsEmitted(ctx, []string{e1.ID}); err != nil {
		t.Fatalf("MarkEventsEmitted: %v", err)
	}

	pending, err = s.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PendingEvents after mark: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != e2.ID {
		t.Fatalf("expected only e2 still pending, got %+v", pending)
	}
}

func TestMemStore_ConcurrentPut(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := s.Put(ctx, CheckpointTuple{
				ThreadID:     "t1",
				CheckpointID: "cp-" + string(rune('a'+n)),
				Next:         "node",
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Put failed: %v", err)
	}

	history, err := s.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(history) != 10 {
		t.Errorf("expected 10 checkpoints from concurrent writers, got %d", len(history))
	}
}

var _ Checkpointer = (*MemStore)(nil)
