// Package registry provides the in-memory execution registry: an index of
// executions by id with concurrent reads, serialized per-id writes through
// the single-writer discipline of its callers, and retention-based eviction
// of terminal executions.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Options configures a Registry.
type Options struct {
	// Retention is how long terminal executions stay queryable before the
	// eviction sweep removes them. Zero disables eviction.
	Retention time.Duration
	// SweepInterval controls how often the eviction sweep runs.
	SweepInterval time.Duration
	// Logger records eviction activity.
	Logger logging.Logger
}

// Registry is the in-memory core.ExecutionStore implementation. Executions
// are stored as snapshots; reads return clones so external holders can never
// mutate registry state.
type Registry struct {
	mu        sync.RWMutex
	execs     map[string]*core.Execution
	endedAt   map[string]time.Time
	retention time.Duration
	interval  time.Duration
	logger    logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Registry with optional overrides.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Retention:     30 * time.Minute,
		SweepInterval: time.Minute,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		execs:     make(map[string]*core.Execution),
		endedAt:   make(map[string]time.Time),
		retention: opts.Retention,
		interval:  opts.SweepInterval,
		logger:    logging.OrNoOp(opts.Logger),
		stopCh:    make(chan struct{}),
	}
}

// Get returns a clone of the execution or core.ErrExecutionNotFound.
func (r *Registry) Get(id string) (*core.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.execs[id]
	if !ok {
		return nil, core.ErrExecutionNotFound
	}
	return e.Clone(), nil
}

// List returns clones of executions matching the filter ordered by start
// time.
func (r *Registry) List(f core.Filter) []*core.Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.Execution
	for _, e := range r.execs {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sortByStartTime(out)
	return out
}

// Upsert stores a snapshot of the execution. The monotonic invariant holds:
// once a stored execution is terminal its status never changes again.
func (r *Registry) Upsert(e *core.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.execs[e.ID]; ok && prev.Status.Terminal() && prev.Status != e.Status {
		return core.ErrInvalidTransition
	}
	r.execs[e.ID] = e.Clone()
	r.trackTerminalLocked(e.ID, e.Status)
	return nil
}

// UpdateStatus transitions the execution's status. Terminal transitions stamp
// EndTime and record errMsg verbatim. Regressions return
// core.ErrInvalidTransition.
func (r *Registry) UpdateStatus(id string, next core.Status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return core.ErrExecutionNotFound
	}
	if e.Status == next {
		return nil
	}
	if !e.Status.CanTransition(next) {
		return core.ErrInvalidTransition
	}
	e.Status = next
	if next.Terminal() {
		now := time.Now().UTC()
		e.EndTime = &now
		if errMsg != "" {
			e.Error = errMsg
		}
	}
	r.trackTerminalLocked(id, next)
	return nil
}

// AppendStep appends a step to the execution's ordered, append-only message
// sequence.
func (r *Registry) AppendStep(id string, step core.ExecutionStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return core.ErrExecutionNotFound
	}
	e.Steps = append(e.Steps, step)
	return nil
}

func (r *Registry) trackTerminalLocked(id string, status core.Status) {
	if status.Terminal() {
		if _, ok := r.endedAt[id]; !ok {
			r.endedAt[id] = time.Now().UTC()
		}
	}
}

// Start launches the retention eviction sweep. It returns immediately; the
// sweep stops when ctx is cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.evictExpired()
			}
		}
	}()
}

// Stop halts the eviction sweep. Idempotent.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// evictExpired removes terminal executions older than the retention window.
func (r *Registry) evictExpired() {
	cutoff := time.Now().UTC().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ended := range r.endedAt {
		if ended.Before(cutoff) {
			delete(r.execs, id)
			delete(r.endedAt, id)
			r.logger.Debug("registry.execution.evicted", "execution_id", id)
		}
	}
}

func sortByStartTime(execs []*core.Execution) {
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].StartTime.Before(execs[j].StartTime)
	})
}
