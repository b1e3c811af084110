package core

import (
	"context"
	"encoding/json"
	"time"
)

// Checkpoint is a durable snapshot of graph state for a thread, used only
// for replay and resume, never for live coordination. Entries are append-only
// per thread and step indices are strictly increasing.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	StepIndex int             `json:"step_index"`
	NodeID    string          `json:"node_id"`
	State     json.RawMessage `json:"state"`
	UserID    string          `json:"user_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CheckpointStore is the append-only durable log of execution snapshots keyed
// by thread id. Save never overwrites an existing (thread, step index) entry;
// Load returns checkpoints ordered by step index. Durability is advisory:
// callers log save failures and continue, losing only post-restart
// resumability, not live correctness.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, threadID string) ([]Checkpoint, error)
}
