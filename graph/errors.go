package graph

import "errors"

// ErrMaxStepsExceeded indicates that execution reached the configured step
// cap without reaching END. Compile rejects cycles among static edges only,
// so this is either a legitimately long workflow outrunning MaxSteps or a
// Router that keeps routing back to an earlier node.
var ErrMaxStepsExceeded = errors.New("graph: execution exceeded maximum steps limit")

// ErrNoSuchNode is returned by Connect, AddRouter, and StartAt when they
// name a node id that hasn't been registered with Add.
var ErrNoSuchNode = errors.New("graph: no such node")

// ErrDuplicateNode is returned by Add when a node id is registered twice.
var ErrDuplicateNode = errors.New("graph: duplicate node id")

// ErrCyclicGraph is returned by Compile when a node appears twice on a
// reachable path (other than END), per spec §9 "the graph is acyclic by
// construction... validate at compile time".
var ErrCyclicGraph = errors.New("graph: cycle detected in node graph")

// ErrNoRoute is returned when neither a Router nor any Edge from a node
// matches the committed state, and the node itself did not terminate.
var ErrNoRoute = errors.New("graph: no outgoing route matched")

// ErrNotCompiled is returned by Compile when no start node has been set, and
// by NewEngine when given a nil Compiled graph.
var ErrNotCompiled = errors.New("graph: graph has not been compiled")

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = errors.New("graph: invalid retry policy")

// ErrInterrupted is returned by Invoke when execution pauses at a node
// configured with WithInterruptBefore, awaiting Resume.
var ErrInterrupted = errors.New("graph: execution interrupted before node")

// ErrCheckpointNotFound names a missing checkpoint. The engine does not
// return it: Resume, Fork and GetState pass the checkpointer's
// store.ErrNotFound through unchanged.
var ErrCheckpointNotFound = errors.New("graph: checkpoint not found")

// ErrThreadBusy is reserved for a run attempted against a thread that
// already has a run in flight (spec §5 "at most one active step per thread").
// The engine and the stores in this module do not return it.
var ErrThreadBusy = errors.New("graph: thread has a run already in flight")
