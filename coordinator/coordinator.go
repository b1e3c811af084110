// Package coordinator consumes delegation requests from the shared bus and
// runs them as nested executions. It is the single subscriber of
// delegation.requested: per correlation id it emits exactly one terminal
// delegation event, deduplicating replays and concurrent duplicates. A
// separate sweeper force-fails executions whose delegations outlive the
// configured ceiling.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/graph"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// Options configures the coordinator.
type Options struct {
	// Threads propagates thread ownership onto nested threads so checkpoint
	// attribution survives delegation hops. Optional.
	Threads core.ThreadStore

	Logger logging.Logger
}

// PendingDelegation describes one in-flight delegation, exposed for the
// timeout sweep.
type PendingDelegation struct {
	CorrelationID string
	// ExecutionID is the suspended parent execution awaiting the result.
	ExecutionID   string
	TargetAgentID string
	Since         time.Time
}

// Coordinator resolves delegation requests against the agent directory and
// executes them on the shared bus and executor. Unknown targets fail fast
// without a nested execution.
type Coordinator struct {
	bus       core.Bus
	directory *agent.Directory
	builder   graph.Builder
	executor  *graph.Executor
	opts      Options

	mu       sync.Mutex
	resolved map[string]struct{}
	inflight map[string]PendingDelegation
	wg       sync.WaitGroup
}

// New constructs a Coordinator. All delegations, nested ones included, run
// over the same bus instance the executor publishes to.
func New(bus core.Bus, directory *agent.Directory, builder graph.Builder, executor *graph.Executor, optFns ...func(o *Options)) *Coordinator {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Coordinator{
		bus:       bus,
		directory: directory,
		builder:   builder,
		executor:  executor,
		opts:      opts,
		resolved:  make(map[string]struct{}),
		inflight:  make(map[string]PendingDelegation),
	}
}

// Run subscribes to delegation requests and dispatches them until ctx is
// cancelled or the bus closes. It blocks; run it on its own goroutine. On
// return all nested executions have finished.
func (c *Coordinator) Run(ctx context.Context) error {
	events, cancel := c.bus.Subscribe(core.TopicDelegationRequested)
	defer cancel()

	c.opts.Logger.Info("coordinator.started")
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handle(ctx, ev)
		}
	}
}

// Pending returns in-flight delegations older than the given age, ordered
// arbitrarily.
func (c *Coordinator) Pending(olderThan time.Duration) []PendingDelegation {
	cutoff := time.Now().Add(-olderThan)

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []PendingDelegation
	for _, p := range c.inflight {
		if p.Since.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Coordinator) handle(ctx context.Context, ev core.Event) {
	req := ev.DelegationRequested
	if req == nil || ev.CorrelationID == "" {
		c.opts.Logger.Warn("coordinator.event.malformed", "event_id", ev.ID)
		return
	}

	c.mu.Lock()
	if _, done := c.resolved[ev.CorrelationID]; done {
		c.mu.Unlock()
		c.opts.Logger.Debug("coordinator.duplicate.ignored", "correlation_id", ev.CorrelationID)
		return
	}
	if _, running := c.inflight[ev.CorrelationID]; running {
		c.mu.Unlock()
		c.opts.Logger.Debug("coordinator.duplicate.ignored", "correlation_id", ev.CorrelationID)
		return
	}

	def, err := c.directory.Resolve(agent.ID(req.TargetAgentID))
	if err != nil {
		c.resolved[ev.CorrelationID] = struct{}{}
		c.mu.Unlock()
		c.opts.Logger.Warn("coordinator.target.unknown",
			"correlation_id", ev.CorrelationID,
			"target_agent_id", req.TargetAgentID,
		)
		c.bus.Publish(core.NewDelegationFailedEvent(ev.CorrelationID, "", core.ReasonUnknownAgent, err))
		return
	}

	c.inflight[ev.CorrelationID] = PendingDelegation{
		CorrelationID: ev.CorrelationID,
		ExecutionID:   ev.ExecutionID,
		TargetAgentID: req.TargetAgentID,
		Since:         time.Now(),
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runNested(ctx, ev, def)
	}()
}

// runNested builds and runs the nested execution, then emits the single
// terminal event for the correlation id. Nested executions get a derived
// thread so their checkpoints never collide with the suspended parent's.
func (c *Coordinator) runNested(ctx context.Context, ev core.Event, def *agent.Definition) {
	req := *ev.DelegationRequested
	childThread := ev.ThreadID + "/" + req.CorrelationID

	if c.opts.Threads != nil && ev.ThreadID != "" {
		if owner, ok := c.opts.Threads.Owner(ev.ThreadID); ok {
			if err := c.opts.Threads.SetOwner(childThread, owner); err != nil {
				c.opts.Logger.Warn("coordinator.owner.propagate.failed",
					"thread_id", childThread,
					"error", err.Error(),
				)
			}
		}
	}

	exec := core.NewExecution(string(def.ID), childThread)
	c.opts.Logger.Info("coordinator.nested.started",
		"correlation_id", req.CorrelationID,
		"execution_id", exec.ID,
		"agent_id", string(def.ID),
	)

	state := &graph.State{
		ExecutionID: exec.ID,
		ThreadID:    childThread,
		AgentID:     string(def.ID),
		Messages:    []model.Message{{Role: model.RoleUser, Content: req.Task}},
	}

	g, err := c.builder.Build(def)
	if err != nil {
		c.finish(req.CorrelationID, core.NewDelegationFailedEvent(req.CorrelationID, exec.ID, core.ReasonNodeError, err))
		return
	}

	final, runErr := c.executor.Run(ctx, g, exec, state)
	switch {
	case runErr != nil:
		c.finish(req.CorrelationID, core.NewDelegationFailedEvent(req.CorrelationID, exec.ID, core.ReasonNestedFailure, runErr))
	case final.Status != core.StatusCompleted:
		c.finish(req.CorrelationID, core.NewDelegationFailedEvent(req.CorrelationID, exec.ID, core.ReasonNestedFailure, nil))
	default:
		c.finish(req.CorrelationID, core.NewDelegationCompletedEvent(req.CorrelationID, exec.ID, final.FinalResponse()))
	}
}

func (c *Coordinator) finish(correlationID string, terminal core.Event) {
	c.mu.Lock()
	delete(c.inflight, correlationID)
	c.resolved[correlationID] = struct{}{}
	c.mu.Unlock()

	c.bus.Publish(terminal)
	c.opts.Logger.Info("coordinator.nested.finished",
		"correlation_id", correlationID,
		"topic", string(terminal.Topic),
	)
}
