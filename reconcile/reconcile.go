// Package reconcile implements the client-side completion loop: poll an
// execution until it reports a terminal status, and reconcile the cases
// where the terminal signal is lost. Two heuristics cover the gaps. A
// running execution that already carries a response message is treated as
// completed (the status write was lost, the work was not). A stagnant
// execution is periodically checked against the thread transcript; a final
// assistant message there reconstructs the outcome. The loop only reads;
// it never mutates execution state, so aborting it has no side effects.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Fetcher retrieves the current snapshot of an execution.
type Fetcher interface {
	Fetch(ctx context.Context, executionID string) (*core.Execution, error)
}

// FetcherFunc adapts a function into a Fetcher.
type FetcherFunc func(ctx context.Context, executionID string) (*core.Execution, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, executionID string) (*core.Execution, error) {
	return f(ctx, executionID)
}

// Transcriber reads a thread transcript. core.ThreadStore satisfies it.
type Transcriber interface {
	History(threadID string) ([]core.Message, error)
}

// OutcomeKind classifies how the loop concluded.
type OutcomeKind string

const (
	// OutcomeCompleted means a response was obtained, directly or by
	// reconstruction.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomeFailed means the execution reported a failure.
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeCancelled means the execution was cancelled server-side.
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomeTimeout means the poll budget ran out with no terminal signal.
	// It deliberately does not claim the execution failed.
	OutcomeTimeout OutcomeKind = "timeout"
)

// Outcome is the result of one reconciliation run.
type Outcome struct {
	Kind      OutcomeKind
	Execution *core.Execution
	// Response holds the final response text when Kind is completed.
	Response string
	// Error holds the reported failure when Kind is failed.
	Error string
	// Reconstructed marks outcomes derived by heuristic rather than by an
	// observed terminal status.
	Reconstructed bool
	// Polls is the number of polls consumed.
	Polls int
}

// Options configures the loop.
type Options struct {
	// Interval between polls.
	Interval time.Duration
	// MaxPolls bounds the loop; exhausted polls yield OutcomeTimeout.
	MaxPolls int
	// StagnationPolls is the number of consecutive polls without observable
	// progress before transcript reconstruction is considered.
	StagnationPolls int
	// ReconcileModulus throttles reconstruction attempts to every n-th poll,
	// keeping transcript reads off the hot polling path.
	ReconcileModulus int

	Logger logging.Logger
}

// Loop polls executions to a conclusion. Safe for concurrent use; each Await
// call is independent.
type Loop struct {
	fetcher     Fetcher
	transcriber Transcriber
	opts        Options
}

// New constructs a Loop.
func New(fetcher Fetcher, transcriber Transcriber, optFns ...func(o *Options)) *Loop {
	opts := Options{
		Interval:         2 * time.Second,
		MaxPolls:         45,
		StagnationPolls:  3,
		ReconcileModulus: 8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Loop{fetcher: fetcher, transcriber: transcriber, opts: opts}
}

// Await polls the execution until it concludes or the poll budget runs out.
// On timeout it returns the outcome together with
// core.ErrReconciliationTimeout; ctx cancellation aborts with ctx.Err() and
// leaves no trace.
func (l *Loop) Await(ctx context.Context, executionID, threadID string) (*Outcome, error) {
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	lastProgress := -1
	stagnant := 0

	for poll := 1; poll <= l.opts.MaxPolls; poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		exec, err := l.fetcher.Fetch(ctx, executionID)
		switch {
		case errors.Is(err, core.ErrExecutionNotFound):
			// Evicted or never observable; only the transcript can help.
			stagnant++
		case err != nil:
			l.opts.Logger.Debug("reconcile.fetch.failed",
				"execution_id", executionID,
				"poll", poll,
				"error", err.Error(),
			)
			stagnant++
		default:
			if out, done := l.concludeFromSnapshot(exec, poll); done {
				return out, nil
			}
			if progress := len(exec.Steps); progress > lastProgress {
				lastProgress = progress
				stagnant = 0
			} else {
				stagnant++
			}
		}

		if stagnant >= l.opts.StagnationPolls && poll%l.opts.ReconcileModulus == 0 {
			if out := l.reconstruct(threadID, poll); out != nil {
				return out, nil
			}
		}
	}

	l.opts.Logger.Warn("reconcile.timeout",
		"execution_id", executionID,
		"polls", l.opts.MaxPolls,
	)
	return &Outcome{Kind: OutcomeTimeout, Polls: l.opts.MaxPolls}, core.ErrReconciliationTimeout
}

// concludeFromSnapshot maps a snapshot to an outcome when one can be drawn:
// any terminal status, or a response already present on a still-running
// execution (the terminal write was lost, the work was not).
func (l *Loop) concludeFromSnapshot(exec *core.Execution, poll int) (*Outcome, bool) {
	switch exec.Status {
	case core.StatusCompleted:
		return &Outcome{Kind: OutcomeCompleted, Execution: exec, Response: exec.FinalResponse(), Polls: poll}, true
	case core.StatusFailed:
		return &Outcome{Kind: OutcomeFailed, Execution: exec, Error: exec.Error, Polls: poll}, true
	case core.StatusCancelled:
		return &Outcome{Kind: OutcomeCancelled, Execution: exec, Polls: poll}, true
	}

	if resp := exec.FinalResponse(); resp != "" {
		l.opts.Logger.Info("reconcile.response_before_terminal",
			"execution_id", exec.ID,
			"poll", poll,
		)
		return &Outcome{
			Kind:          OutcomeCompleted,
			Execution:     exec,
			Response:      resp,
			Reconstructed: true,
			Polls:         poll,
		}, true
	}
	return nil, false
}

// reconstruct derives a completion from the thread transcript: the latest
// assistant message stands in for the lost terminal signal. No assistant
// message means there is nothing to conclude yet.
func (l *Loop) reconstruct(threadID string, poll int) *Outcome {
	if l.transcriber == nil || threadID == "" {
		return nil
	}
	history, err := l.transcriber.History(threadID)
	if err != nil {
		l.opts.Logger.Debug("reconcile.history.failed",
			"thread_id", threadID,
			"error", err.Error(),
		)
		return nil
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleAssistant && history[i].Content != "" {
			l.opts.Logger.Info("reconcile.reconstructed",
				"thread_id", threadID,
				"poll", poll,
			)
			return &Outcome{
				Kind:          OutcomeCompleted,
				Response:      history[i].Content,
				Reconstructed: true,
				Polls:         poll,
			}
		}
	}
	return nil
}
