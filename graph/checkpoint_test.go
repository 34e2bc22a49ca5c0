package graph

import "testing"

func TestIdempotencyKey_StableForSameInputs(t *testing.T) {
	state := State{"input": "hello"}
	k1, err := idempotencyKey("thread-1", "cp-1", "researcher", state)
	if err != nil {
		t.Fatalf("idempotencyKey: %v", err)
	}
	k2, err := idempotencyKey("thread-1", "cp-1", "researcher", state)
	if err != nil {
		t.Fatalf("idempotencyKey: %v", err)
	}
	if k1 != k2 {
		t.Errorf("expected identical key for identical inputs, got %q and %q", k1, k2)
	}
}

func TestIdempotencyKey_ChangesWithState(t *testing.T) {
	k1, err := idempotencyKey("thread-1", "cp-1", "researcher", State{"input": "hello"})
	if err != nil {
		t.Fatalf("idempotencyKey: %v", err)
	}
	k2, err := idempotencyKey("thread-1", "cp-1", "researcher", State{"input": "world"})
	if err != nil {
		t.Fatalf("idempotencyKey: %v", err)
	}
	if k1 == k2 {
		t.Error("expected key to change when committed state differs")
	}
}

func TestIdempotencyKey_ChangesWithNodeID(t *testing.T) {
	state := State{"input": "hello"}
	k1, err := idempotencyKey("thread-1", "cp-1", "researcher", state)
	if err != nil {
		t.Fatalf("idempotencyKey: %v", err)
	}
	k2, err := idempotencyKey("thread-1", "cp-1", "planner", state)
	if err != nil {
		t.Fatalf("idempotencyKey: %v", err)
	}
	if k1 == k2 {
		t.Error("expected key to change when node id differs")
	}
}
