package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/corenexus/agentflow/graph/emit"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Checkpointer backed by modernc.org/sqlite —
// the pure-Go driver, so builds don't need cgo. It's meant for local
// development, single-process deployments, and workflow tests that want a
// real SQL backend without a running server.
//
// Schema:
//   - checkpoints: one row per committed CheckpointTuple
//   - pending_writes: the ledger PutWrites commits independently of Put
//   - idempotency_keys: committed step idempotency keys
//   - events_outbox: transactional-outbox events awaiting emission
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path,
// enables WAL mode for concurrent readers, and creates its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite allows one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			next TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_created
			ON checkpoints(thread_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS pending_writes (
			thread_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			channel TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_id, task_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value TEXT NOT NULL PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id TEXT NOT NULL PRIMARY KEY,
			thread_id TEXT NOT NULL,
			event_data TEXT NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events_outbox(emitted_at, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, tuple CheckpointTuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}

	stateJSON, err := json.Marshal(tuple.State)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(tuple.Metadata)
	if err != nil {
		return err
	}
	createdAt := tuple.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(thread_id, checkpoint_id, parent_checkpoint_id, state, next, label, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, checkpoint_id) DO NOTHING`,
		tuple.ThreadID, tuple.CheckpointID, tuple.ParentCheckpointID,
		string(stateJSON), tuple.Next, tuple.Label, string(metaJSON), createdAt,
	)
	return err
}

func (s *SQLiteStore) PutWrites(ctx context.Context, writes []PendingWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		valueJSON, err := json.Marshal(w.Value)
		if err != nil {
			return err
		}
		createdAt := w.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_writes
				(thread_id, checkpoint_id, task_id, idx, channel, value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id, checkpoint_id, task_id, idx) DO NOTHING`,
			w.ThreadID, w.CheckpointID, w.TaskID, w.Idx, w.Channel, string(valueJSON), createdAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTuple(ctx context.Context, threadID, checkpointID string) (CheckpointTuple, []PendingWrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row *sql.Row
	if checkpointID == "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, state, next, label, metadata, created_at
			FROM checkpoints WHERE thread_id = ? ORDER BY created_at DESC, checkpoint_id DESC LIMIT 1`,
			threadID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, state, next, label, metadata, created_at
			FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
			threadID, checkpointID)
	}

	var (
		cpID, parentID, stateJSON, next, label, metaJSON string
		createdAt                                        time.Time
	)
	if err := row.Scan(&cpID, &parentID, &stateJSON, &next, &label, &metaJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return CheckpointTuple{}, nil, ErrNotFound
		}
		return CheckpointTuple{}, nil, err
	}

	var state, meta map[string]any
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return CheckpointTuple{}, nil, err
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &meta)
	}

	tuple := CheckpointTuple{
		ThreadID: threadID, CheckpointID: cpID, ParentCheckpointID: parentID,
		State: state, Next: next, Label: label, Metadata: meta, CreatedAt: createdAt,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, idx, channel, value, created_at FROM pending_writes
		WHERE thread_id = ? AND checkpoint_id = ? ORDER BY idx ASC`, threadID, cpID)
	if err != nil {
		return tuple, nil, err
	}
	defer rows.Close()

	var writes []PendingWrite
	for rows.Next() {
		var w PendingWrite
		var valueJSON string
		if err := rows.Scan(&w.TaskID, &w.Idx, &w.Channel, &valueJSON, &w.CreatedAt); err != nil {
			return tuple, nil, err
		}
		_ = json.Unmarshal([]byte(valueJSON), &w.Value)
		w.ThreadID, w.CheckpointID = threadID, cpID
		writes = append(writes, w)
	}
	return tuple, writes, rows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, threadID string, limit int) ([]CheckpointTuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT checkpoint_id, parent_checkpoint_id, state, next, label, metadata, created_at
		FROM checkpoints WHERE thread_id = ? ORDER BY created_at DESC, checkpoint_id DESC`
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckpointTuple
	for rows.Next() {
		var cpID, parentID, stateJSON, next, label, metaJSON string
		var createdAt time.Time
		if err := rows.Scan(&cpID, &parentID, &stateJSON, &next, &label, &metaJSON, &createdAt); err != nil {
			return nil, err
		}
		var state, meta map[string]any
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		out = append(out, CheckpointTuple{
			ThreadID: threadID, CheckpointID: cpID, ParentCheckpointID: parentID,
			State: state, Next: next, Label: label, Metadata: meta, CreatedAt: createdAt,
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM idempotency_keys WHERE key_value = ?`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) MarkIdempotent(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key_value) VALUES (?) ON CONFLICT(key_value) DO NOTHING`, key)
	return err
}

func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := `SELECT id, thread_id, event_data FROM events_outbox WHERE emitted_at IS NULL ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []emit.Event
	for rows.Next() {
		var id, threadID, data string
		if err := rows.Scan(&id, &threadID, &data); err != nil {
			return nil, err
		}
		var e emit.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, err
		}
		e.ID, e.RunID = id, threadID
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range eventIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE events_outbox SET emitted_at = ? WHERE id = ?`, time.Now(), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Enqueue inserts an event into the transactional outbox.
func (s *SQLiteStore) Enqueue(ctx context.Context, e emit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events_outbox (id, thread_id, event_data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, e.RunID, string(data), time.Now())
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ Checkpointer = (*SQLiteStore)(nil)
