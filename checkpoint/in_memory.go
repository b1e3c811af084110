// Package checkpoint provides the append-only checkpoint log used for
// post-restart replay of graph state. Checkpoints are operational data, never
// live coordination state: a lost checkpoint loses only resumability.
package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// ErrDuplicateStep is returned when a save would overwrite an existing
// (thread, step index) entry. Checkpoints are immutable after append.
var ErrDuplicateStep = fmt.Errorf("checkpoint step index already exists")

// ErrNonMonotonicStep is returned when a save would append a step index at or
// below the last appended index for the thread.
var ErrNonMonotonicStep = fmt.Errorf("checkpoint step index must be strictly increasing")

// InMemoryStore is a volatile core.CheckpointStore implementation keeping
// per-thread checkpoint logs in a process-local map. It is safe for
// concurrent access and best suited for tests and single-process prototypes.
// For durability across restarts use the sqlite implementation.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]core.Checkpoint
}

// NewInMemoryStore returns an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string][]core.Checkpoint)}
}

// Save appends the checkpoint to the thread's log. Step indices must be
// strictly increasing per thread; violations are rejected, never merged.
func (s *InMemoryStore) Save(_ context.Context, cp core.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.threads[cp.ThreadID]
	if n := len(log); n > 0 {
		last := log[n-1].StepIndex
		if cp.StepIndex == last {
			return ErrDuplicateStep
		}
		if cp.StepIndex < last {
			return ErrNonMonotonicStep
		}
	}
	cp.State = append([]byte(nil), cp.State...)
	s.threads[cp.ThreadID] = append(log, cp)
	return nil
}

// Load returns a copy of the thread's checkpoints ordered by step index.
func (s *InMemoryStore) Load(_ context.Context, threadID string) ([]core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.threads[threadID]
	out := make([]core.Checkpoint, len(log))
	copy(out, log)
	for i := range out {
		out[i].State = append([]byte(nil), log[i].State...)
	}
	return out, nil
}
