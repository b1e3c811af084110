// Package sqlite provides a durable SQLite-backed checkpoint store. The
// table is append-only: PRIMARY KEY (thread_id, step_index) rejects
// overwrites at the storage layer, and rows are never updated after insert.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
  thread_id  TEXT    NOT NULL,
  step_index INTEGER NOT NULL,
  node_id    TEXT    NOT NULL,
  state      BLOB    NOT NULL,
  user_id    TEXT    NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  PRIMARY KEY (thread_id, step_index)
);`

// Store persists checkpoints in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the checkpoint database at path and applies
// the schema. The connection uses WAL so concurrent appenders for different
// threads never block each other.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save appends one checkpoint row. A duplicate (thread, step index) pair
// fails the insert; existing rows are never touched.
func (s *Store) Save(ctx context.Context, cp core.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.ThreadID == "" {
		return fmt.Errorf("thread id is required")
	}
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO checkpoints (thread_id, step_index, node_id, state, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ThreadID,
		cp.StepIndex,
		cp.NodeID,
		[]byte(cp.State),
		cp.UserID,
		createdAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Load returns the thread's checkpoints ordered by step index.
func (s *Store) Load(ctx context.Context, threadID string) ([]core.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT thread_id, step_index, node_id, state, user_id, created_at
		 FROM checkpoints WHERE thread_id = ? ORDER BY step_index ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.Checkpoint
	for rows.Next() {
		var cp core.Checkpoint
		var state []byte
		var createdAt int64
		if err := rows.Scan(&cp.ThreadID, &cp.StepIndex, &cp.NodeID, &state, &cp.UserID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.State = state
		cp.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}
