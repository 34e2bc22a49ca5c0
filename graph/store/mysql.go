package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/corenexus/agentflow/graph/emit"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed Checkpointer.
//
// Designed for production workflows running across multiple dispatcher
// workers: connection pooling and transactions make checkpoint commits safe
// under concurrent writers, and the idempotency_keys table enforces
// exactly-once step commits via a unique-constraint race.
//
// Schema:
//   - checkpoints: one row per committed CheckpointTuple
//   - pending_writes: the ledger PutWrites commits independently of Put
//   - idempotency_keys: committed step idempotency keys
//   - events_outbox: transactional-outbox events awaiting emission
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example:
//
//	user:pass@tcp(localhost:3306)/agentflow?parseTime=true
//
// Never hardcode credentials; load the DSN from configuration/environment.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			parent_checkpoint_id VARCHAR(255) NOT NULL DEFAULT '',
			state JSON NOT NULL,
			next VARCHAR(255) NOT NULL DEFAULT '',
			label VARCHAR(255) NOT NULL DEFAULT '',
			metadata JSON NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, checkpoint_id),
			INDEX idx_thread_created (thread_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS pending_writes (
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_id VARCHAR(255) NOT NULL,
			task_id VARCHAR(255) NOT NULL,
			idx INT NOT NULL,
			channel VARCHAR(255) NOT NULL,
			value JSON NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (thread_id, checkpoint_id, task_id, idx)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key_value VARCHAR(255) NOT NULL PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_created (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			event_data JSON NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_pending (emitted_at, created_at),
			INDEX idx_thread_id (thread_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store: closed")
	}
	return nil
}

func (s *MySQLStore) Put(ctx context.Context, tuple CheckpointTuple) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	stateJSON, err := json.Marshal(tuple.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	metaJSON, err := json.Marshal(tuple.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	createdAt := tuple.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT IGNORE INTO checkpoints
			(thread_id, checkpoint_id, parent_checkpoint_id, state, next, label, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tuple.ThreadID, tuple.CheckpointID, tuple.ParentCheckpointID,
		stateJSON, tuple.Next, tuple.Label, metaJSON, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (s *MySQLStore) PutWrites(ctx context.Context, writes []PendingWrite) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		valueJSON, err := json.Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		createdAt := w.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO pending_writes
				(thread_id, checkpoint_id, task_id, idx, channel, value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.ThreadID, w.CheckpointID, w.TaskID, w.Idx, w.Channel, valueJSON, createdAt,
		); err != nil {
			return fmt.Errorf("insert pending write: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *MySQLStore) GetTuple(ctx context.Context, threadID, checkpointID string) (CheckpointTuple, []PendingWrite, error) {
	if err := s.checkOpen(); err != nil {
		return CheckpointTuple{}, nil, err
	}

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
		cpID, parentID, label string
		stateJSON, metaJSON    []byte
		next                   string
		createdAt              time.Time
	)
	if err := row.Scan(&cpID, &parentID, &stateJSON, &next, &label, &metaJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return CheckpointTuple{}, nil, ErrNotFound
		}
		return CheckpointTuple{}, nil, fmt.Errorf("scan checkpoint: %w", err)
	}

	var state, meta map[string]any
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return CheckpointTuple{}, nil, fmt.Errorf("unmarshal state: %w", err)
	}
	_ = json.Unmarshal(metaJSON, &meta)

	tuple := CheckpointTuple{
		ThreadID: threadID, CheckpointID: cpID, ParentCheckpointID: parentID,
		State: state, Next: next, Label: label, Metadata: meta, CreatedAt: createdAt,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, idx, channel, value, created_at FROM pending_writes
		WHERE thread_id = ? AND checkpoint_id = ? ORDER BY idx ASC`, threadID, cpID)
	if err != nil {
		return tuple, nil, fmt.Errorf("query pending writes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var writes []PendingWrite
	for rows.Next() {
		var w PendingWrite
		var valueJSON []byte
		if err := rows.Scan(&w.TaskID, &w.Idx, &w.Channel, &valueJSON, &w.CreatedAt); err != nil {
			return tuple, nil, fmt.Errorf("scan pending write: %w", err)
		}
		_ = json.Unmarshal(valueJSON, &w.Value)
		w.ThreadID, w.CheckpointID = threadID, cpID
		writes = append(writes, w)
	}
	return tuple, writes, rows.Err()
}

func (s *MySQLStore) List(ctx context.Context, threadID string, limit int) ([]CheckpointTuple, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT checkpoint_id, parent_checkpoint_id, state, next, label, metadata, created_at
		FROM checkpoints WHERE thread_id = ? ORDER BY created_at DESC, checkpoint_id DESC`
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CheckpointTuple
	for rows.Next() {
		var cpID, parentID, label string
		var stateJSON, metaJSON []byte
		var next string
		var createdAt time.Time
		if err := rows.Scan(&cpID, &parentID, &stateJSON, &next, &label, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var state, meta map[string]any
		if err := json.Unmarshal(stateJSON, &state); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		_ = json.Unmarshal(metaJSON, &meta)
		out = append(out, CheckpointTuple{
			ThreadID: threadID, CheckpointID: cpID, ParentCheckpointID: parentID,
			State: state, Next: next, Label: label, Metadata: meta, CreatedAt: createdAt,
		})
	}
	return out, rows.Err()
}

// CheckIdempotency verifies whether an idempotency key has already been
// committed. A unique constraint on key_value makes MarkIdempotent the race-
// safe source of truth; this is a fast-path check only.
func (s *MySQLStore) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys WHERE key_value = ?`, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check idempotency: %w", err)
	}
	return count > 0, nil
}

func (s *MySQLStore) MarkIdempotent(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT IGNORE INTO idempotency_keys (key_value) VALUES (?)`, key)
	if err != nil {
		return fmt.Errorf("mark idempotent: %w", err)
	}
	return nil
}

func (s *MySQLStore) PendingEvents(ctx context.Context, limit int) ([]emit.Event, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, event_data FROM events_outbox
		WHERE emitted_at IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []emit.Event
	for rows.Next() {
		var id, threadID string
		var eventJSON []byte
		if err := rows.Scan(&id, &threadID, &eventJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e emit.Event
		if err := json.Unmarshal(eventJSON, &e); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		e.ID, e.RunID = id, threadID
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEventsEmitted marks events as delivered so PendingEvents stops
// returning them. The IN clause's placeholders are built from the slice
// length, never from event content, so this is safe despite the string-built
// query.
func (s *MySQLStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}

	placeholders := ""
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}

	query := fmt.Sprintf(`UPDATE events_outbox SET emitted_at = NOW() WHERE id IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark events emitted: %w", err)
	}
	return nil
}

// Enqueue inserts an event into the transactional outbox.
func (s *MySQLStore) Enqueue(ctx context.Context, e emit.Event) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT IGNORE INTO events_outbox (id, thread_id, event_data, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.RunID, data, time.Now())
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Close closes the database connection pool. Safe to call more than once.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Stats returns database connection pool statistics.
func (s *MySQLStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Stats()
}

var _ Checkpointer = (*MySQLStore)(nil)
