// Package dispatcher implements the Run lifecycle API spec.md §6
// enumerates for the (unimplemented here) HTTP layer, backed by the graph
// executor and its checkpointer.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corenexus/agentflow/agentflowerr"
	"github.com/corenexus/agentflow/graph"
	"github.com/corenexus/agentflow/graph/store"
)

// Status mirrors spec.md §3's Run.status enumeration.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Run is the identity of one user request, per spec.md §3.
type Run struct {
	RunID       string
	WorkflowID  string
	Status      Status
	Input       graph.State
	Output      graph.State
	StartedAt   time.Time
	CompletedAt time.Time
	Err         string
}

// Result returns the synthesized {result} field get_run's API response
// includes, per spec.md §6: output.final_output, if present.
func (r Run) Result() any {
	if r.Output == nil {
		return nil
	}
	return r.Output["final_output"]
}

// ErrRunNotFound is returned by RunStore.Get for an unknown run id.
var ErrRunNotFound = errors.New("dispatcher: run not found")

// RunStore persists Run rows.
type RunStore interface {
	Create(ctx context.Context, r Run) error
	Get(ctx context.Context, runID string) (Run, error)
	Update(ctx context.Context, r Run) error
	List(ctx context.Context, workflowID string) ([]Run, error)
}

// MemoryRunStore is an in-process RunStore.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]Run
}

// NewMemoryRunStore returns an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]Run)}
}

func (s *MemoryRunStore) Create(_ context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.RunID] = r
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, runID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return r, nil
}

func (s *MemoryRunStore) Update(_ context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.RunID]; !ok {
		return ErrRunNotFound
	}
	s.runs[r.RunID] = r
	return nil
}

func (s *MemoryRunStore) List(_ context.Context, workflowID string) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for _, r := range s.runs {
		if r.WorkflowID == workflowID {
			out = append(out, r)
		}
	}
	return out, nil
}

// HistoryEntry is one row of fork_run/list_history's checkpoint lineage, per
// spec.md §6.
type HistoryEntry struct {
	CheckpointID       string
	ParentCheckpointID string
	Metadata           map[string]any
}

// Service implements the Run lifecycle operations spec.md §6 names:
// create_run, execute_run, get_run, fork_run, list_history.
type Service struct {
	engine     *graph.Engine
	checkpoint store.Checkpointer
	runs       RunStore
	broker     Broker
	fallback   *WorkerPool
}

// NewService wires a Run lifecycle service to a compiled workflow's engine,
// its checkpointer, a RunStore, and the broker used by ExecuteRun to
// enqueue work.
func NewService(engine *graph.Engine, checkpoint store.Checkpointer, runs RunStore, broker Broker) *Service {
	return &Service{engine: engine, checkpoint: checkpoint, runs: runs, broker: broker}
}

// SetLocalFallback attaches the worker pool ExecuteRun schedules onto,
// with the start delay spec.md §6 specifies, when the broker itself is
// unavailable at submission time.
func (s *Service) SetLocalFallback(pool *WorkerPool) {
	s.fallback = pool
}

// CreateRun registers a new Run row in StatusPending and returns its id.
// It does not start execution; call ExecuteRun to enqueue it.
func (s *Service) CreateRun(ctx context.Context, workflowID string, input graph.State) (string, error) {
	runID := uuid.Must(uuid.NewV7()).String()
	run := Run{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     StatusPending,
		Input:      input,
		StartedAt:  time.Time{},
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return "", err
	}
	return runID, nil
}

// ExecuteRun enqueues runID on the broker for a worker to pick up. It is
// the "enqueue" half of spec.md §6's execute_run(run_id). If the broker
// rejects the submission and a local fallback pool is attached, the run is
// instead scheduled for local execution after the fallback's start delay.
func (s *Service) ExecuteRun(ctx context.Context, runID string) error {
	if _, err := s.runs.Get(ctx, runID); err != nil {
		return err
	}
	task := Task{RunID: runID}
	if err := s.broker.Enqueue(ctx, task); err != nil {
		if s.fallback == nil {
			return err
		}
		s.fallback.ScheduleLocalFallback(ctx, task)
		return nil
	}
	return nil
}

// GetRun returns the current Run row, including the synthesized Result()
// field spec.md §6 names for get_run.
func (s *Service) GetRun(ctx context.Context, runID string) (Run, error) {
	return s.runs.Get(ctx, runID)
}

// ForkRun creates a new run whose initial checkpoint history branches from
// srcRun's checkpoint checkpointID, per spec.md §6's fork_run(run_id,
// checkpoint_id) → new_run_id.
func (s *Service) ForkRun(ctx context.Context, srcRunID, checkpointID string) (string, error) {
	src, err := s.runs.Get(ctx, srcRunID)
	if err != nil {
		return "", err
	}

	newThreadID, err := s.engine.Fork(ctx, srcRunID, checkpointID)
	if err != nil {
		return "", agentflowerr.Internal(fmt.Sprintf("dispatcher: fork of run %s at checkpoint %s failed", srcRunID, checkpointID), err)
	}

	forked := Run{
		RunID:      newThreadID,
		WorkflowID: src.WorkflowID,
		Status:     StatusPending,
		Input:      src.Input,
	}
	if err := s.runs.Create(ctx, forked); err != nil {
		return "", err
	}
	return newThreadID, nil
}

// ListHistory returns runID's checkpoint lineage, most recent first, per
// spec.md §6's list_history(run_id) → [{checkpoint_id, parent_id, metadata}].
func (s *Service) ListHistory(ctx context.Context, runID string) ([]HistoryEntry, error) {
	tuples, err := s.checkpoint.List(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	history := make([]HistoryEntry, 0, len(tuples))
	for _, t := range tuples {
		history = append(history, HistoryEntry{
			CheckpointID:       t.CheckpointID,
			ParentCheckpointID: t.ParentCheckpointID,
			Metadata:           t.Metadata,
		})
	}
	return history, nil
}
