package graph

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/corenexus/agentflow/agentflowerr"
	"github.com/corenexus/agentflow/graph/emit"
	"github.com/corenexus/agentflow/graph/store"
	"github.com/corenexus/agentflow/internal/backoff"
)

// idempotencyKeyCtxKey is the context key under which the engine exposes the
// current step's idempotency key to the running node, so a node with
// SideEffectPolicy.RequiresIdempotency can forward it to whatever downstream
// system (gateway call, tool invocation) needs deduplication. The engine
// itself only guarantees the key is stable across re-delivery of the same
// step — it does not, by itself, skip re-running the node.
type idempotencyKeyCtxKey struct{}

// IdempotencyKeyFromContext returns the current step's idempotency key, if
// the engine set one.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(idempotencyKeyCtxKey{}).(string)
	return v, ok
}

// StateSnapshot is the read-only view GetState returns: committed values,
// the node(s) that would run next, and the checkpoint lineage pointer.
type StateSnapshot struct {
	Values             State
	NextNodes          []string
	CheckpointID       string
	ParentCheckpointID string
}

// Engine executes one Compiled graph against durable per-thread checkpoints.
// A single Engine is safe for concurrent Invoke/Resume/GetState/Fork calls
// against different thread ids; the checkpointer is responsible for
// rejecting concurrent steps on the *same* thread (ErrThreadBusy is reserved
// for that, though the in-memory and SQL stores here serialize per-thread
// writes instead of surfacing contention to the caller).
type Engine struct {
	compiled *Compiled
	store    store.Checkpointer
	emitter  emit.Emitter
	cfg      *engineConfig
}

// NewEngine builds an Engine from a Compiled graph, a Checkpointer, an
// Emitter, and engine Options.
func NewEngine(compiled *Compiled, checkpointer store.Checkpointer, emitter emit.Emitter, opts ...Option) (*Engine, error) {
	if compiled == nil {
		return nil, ErrNotCompiled
	}
	cfg := newEngineConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return &Engine{compiled: compiled, store: checkpointer, emitter: emitter, cfg: cfg}, nil
}

// Invoke starts a new run on threadID from initial state, executing nodes
// until the graph reaches END, a node errors, an interrupt-before gate is
// hit, or MaxSteps/RunWallClockBudget is exceeded. If threadID already has
// checkpoints, Invoke ignores initial and continues from the latest one
// rather than discarding history, matching the "completed runs are never
// re-run" idempotence the dispatcher relies on. Unlike Resume, it still
// checks an interrupt-before gate on the pending node, so a paused thread
// stays paused.
func (e *Engine) Invoke(ctx context.Context, threadID string, initial State) (State, error) {
	_, _, err := e.store.GetTuple(ctx, threadID, "")
	if err == store.ErrNotFound {
		seed := CheckpointTuple0(threadID, e.compiled.start, initial)
		if err := e.store.Put(ctx, seed); err != nil {
			return nil, err
		}
		return e.run(ctx, threadID, false)
	} else if err != nil {
		return nil, err
	}
	return e.run(ctx, threadID, false)
}

// Resume continues threadID from its latest checkpoint. If the latest
// checkpoint's Next names an interrupt-before node, Resume executes exactly
// that one node without re-checking the interrupt (the caller's explicit
// Resume call is itself the approval to proceed), then falls back to normal
// interrupt-checking for whatever runs after it.
func (e *Engine) Resume(ctx context.Context, threadID string) (State, error) {
	if _, _, err := e.store.GetTuple(ctx, threadID, ""); err != nil {
		return nil, err
	}
	return e.run(ctx, threadID, true)
}

// GetState returns the committed values and pending next node(s) for
// threadID without executing anything.
func (e *Engine) GetState(ctx context.Context, threadID string) (StateSnapshot, error) {
	tuple, _, err := e.store.GetTuple(ctx, threadID, "")
	if err != nil {
		return StateSnapshot{}, err
	}
	var next []string
	if tuple.Next != "" {
		next = []string{tuple.Next}
	}
	return StateSnapshot{
		Values:             State(tuple.State),
		NextNodes:          next,
		CheckpointID:       tuple.CheckpointID,
		ParentCheckpointID: tuple.ParentCheckpointID,
	}, nil
}

// Fork copies srcThread's checkpoint (srcCheckpoint == "" means latest) into
// a brand-new thread id with no parent and no pending writes, per the
// versioning package's shadow-run and branch-and-compare use cases.
func (e *Engine) Fork(ctx context.Context, srcThread, srcCheckpoint string) (string, error) {
	tuple, _, err := e.store.GetTuple(ctx, srcThread, srcCheckpoint)
	if err != nil {
		return "", err
	}
	newThread := uuid.Must(uuid.NewV7()).String()
	forked := CheckpointTuple0(newThread, tuple.Next, State(tuple.State))
	forked.Label = "fork-of:" + srcThread + "/" + tuple.CheckpointID
	if err := e.store.Put(ctx, forked); err != nil {
		return "", err
	}
	return newThread, nil
}

// CheckpointTuple0 builds the seed checkpoint for a new (or forked) thread:
// no parent, the given next node, and a fresh v7 checkpoint id.
func CheckpointTuple0(threadID, next string, state State) store.CheckpointTuple {
	return store.CheckpointTuple{
		ThreadID:     threadID,
		CheckpointID: uuid.Must(uuid.NewV7()).String(),
		State:        state,
		Next:         next,
		CreatedAt:    time.Now(),
	}
}

// run drives the step loop from the thread's latest checkpoint. bypassFirst
// skips the interrupt-before check for the first node only, implementing
// Resume's "this call is the approval" semantics.
func (e *Engine) run(ctx context.Context, threadID string, bypassFirst bool) (State, error) {
	var cancel context.CancelFunc
	if e.cfg.runWallClockBudget > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.runWallClockBudget)
		defer cancel()
	}

	rng := rand.New(rand.NewSource(threadSeed(threadID)))

	for step := 0; step < e.cfg.maxSteps; step++ {
		tuple, _, err := e.store.GetTuple(ctx, threadID, "")
		if err != nil {
			return nil, err
		}
		state := State(tuple.State)

		if tuple.Next == END || tuple.Next == "" {
			return state, nil
		}

		if ctx.Err() != nil {
			return state, ctx.Err()
		}

		nodeID := tuple.Next
		if e.cfg.interruptBefore[nodeID] && !bypassFirst {
			if e.cfg.metrics != nil {
				e.cfg.metrics.IncrementInterrupts(nodeID)
			}
			return state, ErrInterrupted
		}
		bypassFirst = false

		node, ok := e.compiled.nodes[nodeID]
		if !ok {
			return state, ErrNoSuchNode
		}

		result, err := e.runNodeWithRetry(ctx, threadID, tuple.CheckpointID, nodeID, state, rng)
		if err != nil {
			return state, err
		}
		if result.Err != nil {
			return state, result.Err
		}

		merged, err := Merge(e.compiled.schema, state, result.Delta)
		if err != nil {
			return state, err
		}

		next, err := e.compiled.successor(nodeID, merged)
		if err != nil {
			return merged, err
		}

		nextTuple := store.CheckpointTuple{
			ThreadID:           threadID,
			CheckpointID:       uuid.Must(uuid.NewV7()).String(),
			ParentCheckpointID: tuple.CheckpointID,
			State:              merged,
			Next:               next,
			CreatedAt:          time.Now(),
		}

		// Record the node's raw output as a pending write before the
		// checkpoint itself becomes visible. A crash between the two leaves
		// the write orphaned under a CheckpointID no GetTuple call will ever
		// return as latest, so the step is still either fully visible (both
		// calls succeed) or fully absent (next Invoke/Resume re-runs nodeID
		// from tuple, the last committed checkpoint).
		writes := []store.PendingWrite{{
			ThreadID:     threadID,
			CheckpointID: nextTuple.CheckpointID,
			TaskID:       nodeID,
			Idx:          0,
			Channel:      nodeID,
			Value:        result.Delta,
			CreatedAt:    nextTuple.CreatedAt,
		}}
		if err := e.store.PutWrites(ctx, writes); err != nil {
			return merged, err
		}
		if err := e.store.Put(ctx, nextTuple); err != nil {
			// One retry; Put is idempotent on (thread_id, checkpoint_id).
			if err := e.store.Put(ctx, nextTuple); err != nil {
				return merged, agentflowerr.Checkpoint("graph: checkpoint commit failed after one retry", err)
			}
		}
		if e.cfg.metrics != nil {
			e.cfg.metrics.IncrementCheckpoints(threadID)
		}
		if e.emitter != nil {
			e.emitter.Emit(emit.Event{
				RunID:  threadID,
				Step:   step + 1,
				NodeID: nodeID,
				Msg:    "step_committed",
				Meta:   map[string]interface{}{"checkpoint_id": nextTuple.CheckpointID, "next": next},
			})
		}
	}
	return nil, ErrMaxStepsExceeded
}

// runNodeWithRetry executes one node under its timeout and retry policy,
// exposing a per-step idempotency key to the node via context.
func (e *Engine) runNodeWithRetry(ctx context.Context, threadID, checkpointID, nodeID string, state State, rng *rand.Rand) (NodeResult, error) {
	node := e.compiled.nodes[nodeID]
	policy := e.compiled.policy[nodeID]

	key, err := idempotencyKey(threadID, checkpointID, nodeID, state)
	if err != nil {
		return NodeResult{}, err
	}
	if policy.IdempotencyKeyFunc != nil {
		key = policy.IdempotencyKeyFunc(state)
	}
	nodeCtx := context.WithValue(ctx, idempotencyKeyCtxKey{}, key)

	retry := policy.RetryPolicy
	maxAttempts := 1
	if retry != nil {
		maxAttempts = retry.MaxAttempts
	}

	var result NodeResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		result = runNodeWithTimeout(nodeCtx, node, nodeID, state, &policy, e.cfg.defaultNodeTimeout)
		if e.cfg.metrics != nil {
			status := "success"
			if result.Err != nil {
				status = "error"
			}
			e.cfg.metrics.RecordStepLatency(threadID, nodeID, time.Since(started), status)
		}
		if result.Err == nil {
			break
		}
		if retry == nil || retry.Retryable == nil || !retry.Retryable(result.Err) || attempt == maxAttempts {
			break
		}
		if e.cfg.metrics != nil {
			e.cfg.metrics.IncrementRetries(threadID, nodeID, "retryable_error")
		}
		if !backoff.Sleep(retry.delay(attempt, rng), ctx.Done()) {
			break
		}
	}

	if result.Err == nil {
		if err := e.store.MarkIdempotent(ctx, key); err != nil {
			return result, err
		}
	}
	return result, nil
}

// threadSeed derives a deterministic RNG seed from a thread id, so retry
// jitter (and anything else seeded from it) replays the same sequence of
// random draws if a thread's steps are ever re-run deterministically.
func threadSeed(threadID string) int64 {
	var h uint64 = 14695981039346656037 // FNV-1a 64-bit offset basis
	for _, b := range []byte(threadID) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return int64(h & 0x7fffffffffffffff)
}
