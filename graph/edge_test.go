package graph

import "testing"

func TestEdge_PredicateGating(t *testing.T) {
	e := Edge{From: "a", To: "b", When: func(s State) bool {
		return s["mode"] == "deep"
	}}

	if e.When(State{"mode": "shallow"}) {
		t.Error("predicate should reject non-matching state")
	}
	if !e.When(State{"mode": "deep"}) {
		t.Error("predicate should accept matching state")
	}
}

func TestRouter_ReturnsEnd(t *testing.T) {
	router := Router(func(s State) string {
		if s["query_complexity"] == "simple" {
			return END
		}
		return "planner"
	})

	if got := router(State{"query_complexity": "simple"}); got != END {
		t.Errorf("expected END, got %q", got)
	}
	if got := router(State{"query_complexity": "complex"}); got != "planner" {
		t.Errorf("expected planner, got %q", got)
	}
}
