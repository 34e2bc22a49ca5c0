package versioning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corenexus/agentflow/agentflowerr"
)

// DeploymentRole distinguishes the production path from a shadow path
// sampled alongside it.
type DeploymentRole string

const (
	RoleActive DeploymentRole = "active"
	RoleShadow DeploymentRole = "shadow"
)

// Deployment is the DB row tracking which snapshot serves a given role for
// a workflow, per spec.md §4.6.
type Deployment struct {
	DeploymentID string
	WorkflowID   string
	VersionTag   string
	SnapshotID   string
	Role         DeploymentRole
	SampleRate   float64
	Active       bool
	CreatedAt    time.Time
}

// DeploymentStore persists Deployment rows.
type DeploymentStore interface {
	Insert(ctx context.Context, d Deployment) error
	GetActive(ctx context.Context, workflowID string, role DeploymentRole) (Deployment, bool, error)
	Deactivate(ctx context.Context, deploymentID string) error
}

// MemoryDeploymentStore is an in-process DeploymentStore.
type MemoryDeploymentStore struct {
	mu          sync.Mutex
	deployments map[string]Deployment
}

// NewMemoryDeploymentStore returns an empty in-memory deployment store.
func NewMemoryDeploymentStore() *MemoryDeploymentStore {
	return &MemoryDeploymentStore{deployments: make(map[string]Deployment)}
}

func (s *MemoryDeploymentStore) Insert(_ context.Context, d Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[d.DeploymentID] = d
	return nil
}

func (s *MemoryDeploymentStore) GetActive(_ context.Context, workflowID string, role DeploymentRole) (Deployment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deployments {
		if d.WorkflowID == workflowID && d.Role == role && d.Active {
			return d, true, nil
		}
	}
	return Deployment{}, false, nil
}

func (s *MemoryDeploymentStore) Deactivate(_ context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[deploymentID]
	if !ok {
		return fmt.Errorf("versioning: deployment %s not found", deploymentID)
	}
	d.Active = false
	s.deployments[deploymentID] = d
	return nil
}

// EvalRunner gates a promotion on a synchronous evalset pass, per spec.md
// §4.6's "optional evalset gate before promotion" requirement.
type EvalRunner interface {
	Run(ctx context.Context, snapshotID string) (passed bool, report map[string]any, err error)
}

// DeployRequest bundles the inputs to Deploy. Artifacts and StateCheckpoint
// are forwarded to CreateSnapshot unmodified.
type DeployRequest struct {
	WorkflowID      string
	VersionTag      string
	Role            DeploymentRole
	SampleRate      float64
	Artifacts       map[string][]byte
	StateCheckpoint []byte
	RequireEvalPass bool
	Eval            EvalRunner
}

// Deploy implements spec.md §4.6's promotion sequence: snapshot the
// artifacts, optionally gate on a synchronous evalset run, deactivate the
// prior deployment holding this role, insert the new deployment as active,
// and audit-log the outcome either way.
func Deploy(ctx context.Context, artifacts ArtifactStore, snapshots SnapshotStore, deployments DeploymentStore, audit AuditLog, req DeployRequest) (Deployment, error) {
	snapshotID, err := CreateSnapshot(ctx, artifacts, snapshots, req.WorkflowID, req.VersionTag, req.Artifacts, req.StateCheckpoint)
	if err != nil {
		return Deployment{}, err
	}

	if req.RequireEvalPass {
		if req.Eval == nil {
			return Deployment{}, agentflowerr.Validation("versioning: RequireEvalPass set without an EvalRunner")
		}
		passed, report, err := req.Eval.Run(ctx, snapshotID)
		if err != nil {
			return Deployment{}, agentflowerr.Internal("versioning: evalset run failed", err)
		}
		if !passed {
			_ = audit.Log(ctx, AuditEntry{
				Action:     AuditDeployRejected,
				WorkflowID: req.WorkflowID,
				Details: map[string]any{
					"snapshot_id": snapshotID,
					"version_tag": req.VersionTag,
					"role":        req.Role,
					"eval_report": report,
				},
				At: time.Now(),
			})
			return Deployment{}, agentflowerr.Validation(fmt.Sprintf("versioning: evalset gate rejected version %s", req.VersionTag))
		}
	}

	if prior, ok, err := deployments.GetActive(ctx, req.WorkflowID, req.Role); err != nil {
		return Deployment{}, err
	} else if ok {
		if err := deployments.Deactivate(ctx, prior.DeploymentID); err != nil {
			return Deployment{}, err
		}
	}

	dep := Deployment{
		DeploymentID: snapshotID,
		WorkflowID:   req.WorkflowID,
		VersionTag:   req.VersionTag,
		SnapshotID:   snapshotID,
		Role:         req.Role,
		SampleRate:   req.SampleRate,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if err := deployments.Insert(ctx, dep); err != nil {
		return Deployment{}, err
	}

	_ = audit.Log(ctx, AuditEntry{
		Action:     AuditDeploy,
		WorkflowID: req.WorkflowID,
		Details: map[string]any{
			"snapshot_id": snapshotID,
			"version_tag": req.VersionTag,
			"role":        req.Role,
			"sample_rate": req.SampleRate,
		},
		At: time.Now(),
	})
	return dep, nil
}

// Rollback promotes targetSnapshotID back to active for the given role,
// deactivating whatever deployment currently holds it, and audit-logs the
// reason.
func Rollback(ctx context.Context, snapshots SnapshotStore, deployments DeploymentStore, audit AuditLog, workflowID, targetSnapshotID string, role DeploymentRole, reason string) (Deployment, error) {
	snap, err := snapshots.Get(ctx, targetSnapshotID)
	if err != nil {
		return Deployment{}, err
	}

	if prior, ok, err := deployments.GetActive(ctx, workflowID, role); err != nil {
		return Deployment{}, err
	} else if ok {
		if err := deployments.Deactivate(ctx, prior.DeploymentID); err != nil {
			return Deployment{}, err
		}
	}

	dep := Deployment{
		DeploymentID: snap.SnapshotID + "-rollback",
		WorkflowID:   workflowID,
		VersionTag:   snap.VersionTag,
		SnapshotID:   snap.SnapshotID,
		Role:         role,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	if err := deployments.Insert(ctx, dep); err != nil {
		return Deployment{}, err
	}

	_ = audit.Log(ctx, AuditEntry{
		Action:     AuditRollback,
		WorkflowID: workflowID,
		Details: map[string]any{
			"snapshot_id": targetSnapshotID,
			"version_tag": snap.VersionTag,
			"role":        role,
			"reason":      reason,
		},
		At: time.Now(),
	})
	return dep, nil
}
