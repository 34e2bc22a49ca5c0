package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the DB row spec.md §4.6 names: (snapshot_id, workflow_id,
// version_tag, storage_path, metadata).
type Snapshot struct {
	SnapshotID  string
	WorkflowID  string
	VersionTag  string
	StoragePath string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// SnapshotStore persists Snapshot rows. Kept separate from ArtifactStore
// since the row is relational metadata, while the archive itself is blob
// content.
type SnapshotStore interface {
	Insert(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, snapshotID string) (Snapshot, error)
}

// MemorySnapshotStore is an in-process SnapshotStore.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
}

// NewMemorySnapshotStore returns an empty in-memory snapshot row store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]Snapshot)}
}

func (s *MemorySnapshotStore) Insert(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SnapshotID] = snap
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, snapshotID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[snapshotID]
	if !ok {
		return Snapshot{}, fmt.Errorf("versioning: snapshot %s not found", snapshotID)
	}
	return snap, nil
}

// CreateSnapshot writes metadata.json, artifacts/*, and an optional
// state_checkpoint.json as separate objects in store under
// <workflowID>/<snapshotID>, where snapshotID is a fresh v7 UUID (not a
// content hash), and records the row in rows.
func CreateSnapshot(ctx context.Context, store ArtifactStore, rows SnapshotStore, workflowID, versionTag string, artifacts map[string][]byte, stateCheckpoint []byte) (string, error) {
	snapshotID := uuid.Must(uuid.NewV7()).String()
	storagePath := fmt.Sprintf("%s/%s", workflowID, snapshotID)

	metadata := map[string]any{
		"workflow_id": workflowID,
		"version_tag": versionTag,
		"artifacts":   artifactNames(artifacts),
	}
	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	if err := store.Write(ctx, storagePath+"/metadata.json", metaBytes); err != nil {
		return "", err
	}
	for name, data := range artifacts {
		if err := store.Write(ctx, storagePath+"/artifacts/"+name, data); err != nil {
			return "", err
		}
	}
	if stateCheckpoint != nil {
		if err := store.Write(ctx, storagePath+"/state_checkpoint.json", stateCheckpoint); err != nil {
			return "", err
		}
	}

	row := Snapshot{
		SnapshotID:  snapshotID,
		WorkflowID:  workflowID,
		VersionTag:  versionTag,
		StoragePath: storagePath,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	if err := rows.Insert(ctx, row); err != nil {
		return "", err
	}
	return snapshotID, nil
}

func artifactNames(artifacts map[string][]byte) []string {
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	return names
}
