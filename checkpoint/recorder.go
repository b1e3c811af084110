package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Recorder appends checkpoints on behalf of the graph executor, deriving user
// attribution and absorbing write failures. Durability is advisory: a failed
// save is logged and the in-flight execution continues untouched.
type Recorder struct {
	store   core.CheckpointStore
	threads core.ThreadStore
	logger  logging.Logger
}

// NewRecorder constructs a Recorder. threads may be nil when no attribution
// source exists; checkpoints are then saved without a user id unless the
// context carries one.
func NewRecorder(store core.CheckpointStore, threads core.ThreadStore, logger logging.Logger) *Recorder {
	return &Recorder{store: store, threads: threads, logger: logging.OrNoOp(logger)}
}

// Record serializes state and appends a checkpoint for the thread. User id
// derivation order: thread owner, then the explicit context fallback, then
// none. Attribution failure never blocks the save; checkpoints are
// operational, not user-owned, data.
func (r *Recorder) Record(ctx context.Context, threadID string, stepIndex int, nodeID string, state any) {
	if r == nil || r.store == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		r.logger.Warn("checkpoint.marshal.failed",
			"thread_id", threadID,
			"step_index", stepIndex,
			"error", err.Error(),
		)
		return
	}

	userID := ""
	if r.threads != nil {
		if owner, ok := r.threads.Owner(threadID); ok {
			userID = owner
		}
	}
	if userID == "" {
		if ctxUser, ok := core.UserIDFromContext(ctx); ok {
			userID = ctxUser
		}
	}

	cp := core.Checkpoint{
		ThreadID:  threadID,
		StepIndex: stepIndex,
		NodeID:    nodeID,
		State:     raw,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Save(ctx, cp); err != nil {
		werr := &core.CheckpointWriteError{ThreadID: threadID, StepIndex: stepIndex, Err: err}
		r.logger.Warn("checkpoint.save.failed", "error", werr.Error())
	}
}

// NextIndex returns the step index the next checkpoint for the thread must
// use. A load failure degrades to index 1; indices may then clash and the
// clashing saves are absorbed like any other write failure.
func (r *Recorder) NextIndex(ctx context.Context, threadID string) int {
	if r == nil || r.store == nil {
		return 1
	}
	cps, err := r.store.Load(ctx, threadID)
	if err != nil || len(cps) == 0 {
		return 1
	}
	return cps[len(cps)-1].StepIndex + 1
}
