package graph

// END is the sentinel destination that terminates a run.
const END = "__end__"

// Edge is an unconditional or conditional transition between two nodes.
// Unconditional edges (When == nil) are for simple linear chains; an
// edge with a non-nil predicate is only followed when When(state) is true.
//
// Declarative edges alone can't express the spec's "selector returns one of
// several next-node labels" routing (the researcher/planner branches in
// §4.1), so Router (below) is the mechanism for that; Edge remains for the
// straight-line segments of a workflow (e.g. initialize -> researcher).
type Edge struct {
	From string
	To   string
	When Predicate
}

// Predicate evaluates committed state to decide whether an edge should be
// followed. Predicates must be pure: no wall-clock reads, no I/O — the spec
// requires conditional routing to be deterministic over committed state
// alone (§4.1 "Conditional routing is deterministic").
type Predicate func(state State) bool

// Router is a named selector function attached to a single node: given the
// committed state after that node ran, it returns the next node's id, or
// graph.END to terminate. This is the mechanism behind the two selectors
// spec §4.1 names explicitly (after researcher, after planner).
type Router func(state State) string
