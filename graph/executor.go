package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/checkpoint"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// ExecutorOptions configures the executor.
type ExecutorOptions struct {
	// MaxSteps bounds node invocations per run, guarding against cycles and
	// runaway tool loops.
	MaxSteps int
	// SuspendPollInterval is how often a suspended run re-checks its own
	// execution record for an externally forced terminal status, so a
	// timeout sweep can unblock it without a delegation event.
	SuspendPollInterval time.Duration

	Recorder *checkpoint.Recorder
	Threads  core.ThreadStore
	Logger   logging.Logger
}

// Executor drives executions through a graph. It owns the status lifecycle
// of each run: pending to running on entry, then exactly one terminal
// transition. Steps are appended to the execution record and mirrored onto
// the bus; a checkpoint is recorded after every node invocation.
type Executor struct {
	bus   core.Bus
	store core.ExecutionStore
	opts  ExecutorOptions
}

// NewExecutor constructs an Executor on the shared bus and execution store.
func NewExecutor(bus core.Bus, store core.ExecutionStore, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		MaxSteps:            48,
		SuspendPollInterval: 5 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Executor{bus: bus, store: store, opts: opts}
}

// Run executes the graph for the given execution, starting from the entry
// node. The passed execution must be freshly created (pending); Run upserts
// it, transitions it to running, and guarantees a terminal status on return.
// The returned execution is the final registry snapshot.
func (x *Executor) Run(ctx context.Context, g *Graph, exec *core.Execution, state *State) (*core.Execution, error) {
	if err := x.store.Upsert(exec); err != nil {
		return nil, fmt.Errorf("register execution: %w", err)
	}
	if err := x.store.UpdateStatus(exec.ID, core.StatusRunning, ""); err != nil {
		return nil, err
	}
	x.opts.Logger.Info("execution.started",
		"execution_id", exec.ID,
		"agent_id", exec.AgentID,
		"thread_id", exec.ThreadID,
	)

	runErr := x.run(ctx, g, exec, state)
	switch {
	case runErr == nil:
		x.finish(exec.ID, core.StatusCompleted, "")
	case errors.Is(runErr, context.Canceled):
		x.finish(exec.ID, core.StatusCancelled, "")
	default:
		x.finish(exec.ID, core.StatusFailed, runErr.Error())
	}

	final, err := x.store.Get(exec.ID)
	if err != nil {
		return nil, err
	}
	return final, runErr
}

func (x *Executor) run(ctx context.Context, g *Graph, exec *core.Execution, state *State) error {
	if state == nil {
		state = &State{ExecutionID: exec.ID, ThreadID: exec.ThreadID, AgentID: exec.AgentID}
	}
	stepIndex := x.opts.Recorder.NextIndex(ctx, exec.ThreadID)

	nodeID := g.Entry()
	for steps := 0; nodeID != ""; steps++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if steps >= x.opts.MaxSteps {
			return fmt.Errorf("graph: max steps (%d) exceeded at node %s", x.opts.MaxSteps, nodeID)
		}

		node, err := g.Node(nodeID)
		if err != nil {
			return err
		}
		res, err := node.Invoke(ctx, state)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return &core.NodeExecutionError{NodeID: nodeID, Err: err}
		}
		if res.State != nil {
			state = res.State
		}

		x.opts.Recorder.Record(ctx, exec.ThreadID, stepIndex, nodeID, state)
		stepIndex++

		for _, step := range res.Steps {
			x.appendStep(exec, step)
		}

		if res.Delegation != nil {
			if err := x.awaitDelegation(ctx, exec, state, res); err != nil {
				return err
			}
			// The resolved result was folded into state; re-enter the same
			// node so it can consume it.
			nodeID = node.ID()
			continue
		}

		nodeID = g.next(nodeID, res)
	}
	return nil
}

// awaitDelegation publishes the delegation request and suspends until the
// correlated terminal event arrives. The subscription is opened before the
// request is published, so the response cannot be missed. Suspension also
// watches the execution's own record: a force-failed status (timeout sweep)
// unblocks the run.
func (x *Executor) awaitDelegation(ctx context.Context, exec *core.Execution, state *State, res *Result) error {
	req := *res.Delegation

	events, cancel := x.bus.Subscribe(core.TopicDelegationCompleted, core.TopicDelegationFailed)
	defer cancel()

	x.appendStep(exec, core.NewStep(core.StepKindDelegation,
		fmt.Sprintf("delegating to %s: %s", req.TargetAgentID, req.Task)))
	x.bus.Publish(core.NewDelegationRequestedEvent(exec.ID, exec.ThreadID, req))
	x.opts.Logger.Info("delegation.requested",
		"execution_id", exec.ID,
		"correlation_id", req.CorrelationID,
		"target_agent_id", req.TargetAgentID,
	)

	ticker := time.NewTicker(x.opts.SuspendPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return errors.New("graph: bus closed while awaiting delegation")
			}
			if ev.CorrelationID != req.CorrelationID {
				continue
			}
			return x.resolveDelegation(exec, state, res, ev)
		case <-ticker.C:
			snap, err := x.store.Get(exec.ID)
			if err == nil && snap.Status.Terminal() {
				return fmt.Errorf("%w: correlation %s", core.ErrDelegationTimeout, req.CorrelationID)
			}
		}
	}
}

func (x *Executor) resolveDelegation(exec *core.Execution, state *State, res *Result, ev core.Event) error {
	switch ev.Topic {
	case core.TopicDelegationCompleted:
		result := ev.DelegationCompleted.Result
		x.appendStep(exec, core.NewStep(core.StepKindDelegation,
			fmt.Sprintf("delegation to %s completed", res.Delegation.TargetAgentID)))
		state.Messages = append(state.Messages, model.Message{
			Role:       model.RoleTool,
			Content:    result,
			ToolCallID: res.DelegationCallID,
			ToolName:   "delegate_to_agent",
		})
		return nil
	case core.TopicDelegationFailed:
		f := ev.DelegationFailed
		x.opts.Logger.Warn("delegation.failed",
			"execution_id", exec.ID,
			"correlation_id", ev.CorrelationID,
			"reason", f.Reason,
		)
		if f.Error != "" {
			return fmt.Errorf("delegation to %s failed (%s): %s", res.Delegation.TargetAgentID, f.Reason, f.Error)
		}
		return fmt.Errorf("delegation to %s failed (%s)", res.Delegation.TargetAgentID, f.Reason)
	default:
		return fmt.Errorf("graph: unexpected topic %s on delegation wait", ev.Topic)
	}
}

// appendStep records a step on the execution and mirrors it onto the bus.
// Response steps are also appended to the thread transcript so clients can
// reconstruct outcomes from history alone.
func (x *Executor) appendStep(exec *core.Execution, step core.ExecutionStep) {
	if err := x.store.AppendStep(exec.ID, step); err != nil {
		x.opts.Logger.Warn("execution.step.append.failed",
			"execution_id", exec.ID,
			"error", err.Error(),
		)
	}
	if step.Kind == core.StepKindResponse && x.opts.Threads != nil {
		if err := x.opts.Threads.Append(exec.ThreadID, core.NewMessage(core.RoleAssistant, step.Content)); err != nil {
			x.opts.Logger.Warn("thread.append.failed",
				"thread_id", exec.ThreadID,
				"error", err.Error(),
			)
		}
	}
	x.bus.Publish(core.NewStepEvent(exec.ID, exec.ThreadID, step))
}

func (x *Executor) finish(executionID string, status core.Status, errMsg string) {
	if err := x.store.UpdateStatus(executionID, status, errMsg); err != nil {
		// A forced terminal status (timeout sweep) may have landed first;
		// the stored status wins.
		if !errors.Is(err, core.ErrInvalidTransition) {
			x.opts.Logger.Warn("execution.finish.failed",
				"execution_id", executionID,
				"status", string(status),
				"error", err.Error(),
			)
		}
		return
	}
	x.opts.Logger.Info("execution.finished", "execution_id", executionID, "status", string(status))
}
