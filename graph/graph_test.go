package graph

import (
	"context"
	"errors"
	"testing"
)

func noopNode(s string) Node {
	return NodeFunc(func(ctx context.Context, state State) NodeResult {
		return NodeResult{Delta: State{"input": s}}
	})
}

func TestGraph_AddDuplicateNode(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	if err := g.Add("a", noopNode("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Add("a", noopNode("a")); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("expected ErrDuplicateNode, got %v", err)
	}
}

func TestGraph_ConnectUnknownNode(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", noopNode("a"))

	if err := g.Connect("a", "missing", nil); !errors.Is(err, ErrNoSuchNode) {
		t.Errorf("expected ErrNoSuchNode for missing target, got %v", err)
	}
	if err := g.Connect("missing", "a", nil); !errors.Is(err, ErrNoSuchNode) {
		t.Errorf("expected ErrNoSuchNode for missing source, got %v", err)
	}
}

func TestGraph_ConnectToEnd(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", noopNode("a"))
	if err := g.Connect("a", END, nil); err != nil {
		t.Fatalf("Connect to END should succeed: %v", err)
	}
}

func TestGraph_CompileRequiresStart(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", noopNode("a"))
	_ = g.Connect("a", END, nil)

	if _, err := g.Compile(); !errors.Is(err, ErrNotCompiled) {
		t.Errorf("expected ErrNotCompiled without StartAt, got %v", err)
	}
}

func TestGraph_CompileDetectsCycle(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", noopNode("a"))
	_ = g.Add("b", noopNode("b"))
	_ = g.Connect("a", "b", nil)
	_ = g.Connect("b", "a", nil)
	_ = g.StartAt("a")

	if _, err := g.Compile(); !errors.Is(err, ErrCyclicGraph) {
		t.Errorf("expected ErrCyclicGraph, got %v", err)
	}
}

func TestGraph_CompileLinearChain(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", noopNode("a"))
	_ = g.Add("b", noopNode("b"))
	_ = g.Connect("a", "b", nil)
	_ = g.Connect("b", END, nil)
	_ = g.StartAt("a")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if compiled.start != "a" {
		t.Errorf("expected start = a, got %q", compiled.start)
	}
}

func TestCompiled_Successor_RouterTakesPrecedence(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("researcher", noopNode("r"))
	_ = g.Add("planner", noopNode("p"))
	_ = g.Connect("researcher", "planner", nil) // would always match if routers didn't win
	_ = g.AddRouter("researcher", func(s State) string { return END })
	_ = g.StartAt("researcher")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	next, err := compiled.successor("researcher", State{})
	if err != nil {
		t.Fatalf("successor: %v", err)
	}
	if next != END {
		t.Errorf("expected router to take precedence and return END, got %q", next)
	}
}

func TestCompiled_Successor_PredicateEdges(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", noopNode("a"))
	_ = g.Add("b", noopNode("b"))
	_ = g.Add("c", noopNode("c"))
	_ = g.Connect("a", "b", func(s State) bool { return s["mode"] == "fast" })
	_ = g.Connect("a", "c", func(s State) bool { return s["mode"] == "slow" })
	_ = g.StartAt("a")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	next, err := compiled.successor("a", State{"mode": "slow"})
	if err != nil {
		t.Fatalf("successor: %v", err)
	}
	if next != "c" {
		t.Errorf("expected edge to c for mode=slow, got %q", next)
	}
}

func TestCompiled_Successor_NoMatchingRoute(t *testing.T) {
	g := NewGraph(DefaultSlotSchema())
	_ = g.Add("a", noopNode("a"))
	_ = g.Add("b", noopNode("b"))
	_ = g.Connect("a", "b", func(s State) bool { return false })
	_ = g.StartAt("a")

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := compiled.successor("a", State{}); !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
}
