package versioning

import (
	"context"
	"testing"
)

func newDeployFixture() (ArtifactStore, SnapshotStore, DeploymentStore, *MemoryAuditLog) {
	return NewFSArtifactStore("/tmp/agentflow-versioning-test"), NewMemorySnapshotStore(), NewMemoryDeploymentStore(), NewMemoryAuditLog()
}

func TestDeploy_PromotesAndDeactivatesPriorActive(t *testing.T) {
	ctx := context.Background()
	artifacts, snapshots, deployments, audit := newDeployFixture()

	first, err := Deploy(ctx, artifacts, snapshots, deployments, audit, DeployRequest{
		WorkflowID: "wf-1", VersionTag: "v1", Role: RoleActive, SampleRate: 1.0,
		Artifacts: map[string][]byte{"a": []byte("1")},
	})
	if err != nil {
		t.Fatalf("first Deploy: %v", err)
	}

	second, err := Deploy(ctx, artifacts, snapshots, deployments, audit, DeployRequest{
		WorkflowID: "wf-1", VersionTag: "v2", Role: RoleActive, SampleRate: 1.0,
		Artifacts: map[string][]byte{"a": []byte("2")},
	})
	if err != nil {
		t.Fatalf("second Deploy: %v", err)
	}

	prior, ok, err := deployments.GetActive(ctx, "wf-1", RoleActive)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if !ok || prior.DeploymentID != second.DeploymentID {
		t.Errorf("expected second deployment active, got %+v (first=%s)", prior, first.DeploymentID)
	}
}

func TestDeploy_RejectsOnFailedEvalGateAndLogsRejection(t *testing.T) {
	ctx := context.Background()
	artifacts, snapshots, deployments, audit := newDeployFixture()

	_, err := Deploy(ctx, artifacts, snapshots, deployments, audit, DeployRequest{
		WorkflowID: "wf-2", VersionTag: "v1", Role: RoleActive, SampleRate: 1.0,
		RequireEvalPass: true,
		Eval:            fakeEval{passed: false},
	})
	if err == nil {
		t.Fatal("expected evalset gate to reject the deploy")
	}

	if _, ok, _ := deployments.GetActive(ctx, "wf-2", RoleActive); ok {
		t.Error("expected no active deployment after a rejected eval gate")
	}

	entries := audit.Entries()
	if len(entries) != 1 || entries[0].Action != AuditDeployRejected {
		t.Errorf("expected a single DEPLOY_REJECTED entry, got %+v", entries)
	}
}

func TestDeploy_ShadowRoleDoesNotDisturbActiveRole(t *testing.T) {
	ctx := context.Background()
	artifacts, snapshots, deployments, audit := newDeployFixture()

	active, err := Deploy(ctx, artifacts, snapshots, deployments, audit, DeployRequest{
		WorkflowID: "wf-3", VersionTag: "v1", Role: RoleActive, SampleRate: 1.0,
	})
	if err != nil {
		t.Fatalf("active Deploy: %v", err)
	}
	if _, err := Deploy(ctx, artifacts, snapshots, deployments, audit, DeployRequest{
		WorkflowID: "wf-3", VersionTag: "v2", Role: RoleShadow, SampleRate: 0.1,
	}); err != nil {
		t.Fatalf("shadow Deploy: %v", err)
	}

	stillActive, ok, err := deployments.GetActive(ctx, "wf-3", RoleActive)
	if err != nil || !ok || stillActive.DeploymentID != active.DeploymentID {
		t.Errorf("expected active role deployment untouched, got %+v, ok=%v, err=%v", stillActive, ok, err)
	}
}

func TestRollback_PromotesTargetSnapshotAndAuditLogs(t *testing.T) {
	ctx := context.Background()
	artifacts, snapshots, deployments, audit := newDeployFixture()

	v1, err := Deploy(ctx, artifacts, snapshots, deployments, audit, DeployRequest{
		WorkflowID: "wf-4", VersionTag: "v1", Role: RoleActive, SampleRate: 1.0,
	})
	if err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	if _, err := Deploy(ctx, artifacts, snapshots, deployments, audit, DeployRequest{
		WorkflowID: "wf-4", VersionTag: "v2", Role: RoleActive, SampleRate: 1.0,
	}); err != nil {
		t.Fatalf("deploy v2: %v", err)
	}

	rolledBack, err := Rollback(ctx, snapshots, deployments, audit, "wf-4", v1.SnapshotID, RoleActive, "v2 regressed latency")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if rolledBack.VersionTag != "v1" {
		t.Errorf("expected rollback to restore v1, got %s", rolledBack.VersionTag)
	}

	found := false
	for _, e := range audit.Entries() {
		if e.Action == AuditRollback {
			found = true
		}
	}
	if !found {
		t.Error("expected a ROLLBACK audit entry")
	}
}

type fakeEval struct {
	passed bool
}

func (f fakeEval) Run(_ context.Context, _ string) (bool, map[string]any, error) {
	return f.passed, map[string]any{"passed": f.passed}, nil
}
