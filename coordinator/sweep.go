package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// PendingSource exposes in-flight delegations by age. The coordinator
// satisfies it; the sweeper depends only on this surface so timeout
// enforcement stays outside the delegation path.
type PendingSource interface {
	Pending(olderThan time.Duration) []PendingDelegation
}

// SweeperOptions configures the timeout sweep.
type SweeperOptions struct {
	// Interval between sweeps.
	Interval time.Duration
	// Ceiling is the maximum age of an in-flight delegation before its
	// owning execution is force-failed.
	Ceiling time.Duration

	Logger logging.Logger
}

// Sweeper force-fails executions whose delegation outlived the ceiling. It
// never publishes delegation events; the suspended owner observes its own
// forced status and unwinds, keeping the one-terminal-event-per-correlation
// guarantee with the coordinator.
type Sweeper struct {
	source PendingSource
	store  core.ExecutionStore
	opts   SweeperOptions
}

// NewSweeper constructs a Sweeper over the given pending source and
// execution store.
func NewSweeper(source PendingSource, store core.ExecutionStore, optFns ...func(o *SweeperOptions)) *Sweeper {
	opts := SweeperOptions{
		Interval: 30 * time.Second,
		Ceiling:  10 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Sweeper{source: source, store: store, opts: opts}
}

// Run sweeps on the configured interval until ctx is cancelled. It blocks;
// run it on its own goroutine.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep performs one pass, force-failing every owner whose delegation is
// past the ceiling. Owners already terminal are skipped.
func (s *Sweeper) Sweep() {
	for _, p := range s.source.Pending(s.opts.Ceiling) {
		if p.ExecutionID == "" {
			continue
		}
		err := s.store.UpdateStatus(p.ExecutionID, core.StatusFailed, core.ErrDelegationTimeout.Error())
		if err != nil {
			// Already terminal or evicted; either way there is nothing left
			// to enforce for this owner.
			if !errors.Is(err, core.ErrInvalidTransition) && !errors.Is(err, core.ErrExecutionNotFound) {
				s.opts.Logger.Warn("sweep.force_fail.failed",
					"execution_id", p.ExecutionID,
					"error", err.Error(),
				)
			}
			continue
		}
		s.opts.Logger.Warn("sweep.delegation.timeout",
			"execution_id", p.ExecutionID,
			"correlation_id", p.CorrelationID,
			"target_agent_id", p.TargetAgentID,
		)
	}
}
