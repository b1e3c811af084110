// Package agentrelay provides a high-level façade over the delegation
// engine: the shared event bus, the execution registry, checkpointing,
// thread transcripts and the delegation coordinator. Most applications
// interact with this package by:
//  1. Creating an AgentRelay via New() (optionally overriding default in-memory stores)
//  2. Registering one or more agent definitions
//  3. Starting the engine and invoking agents asynchronously (Invoke + Await)
//     or synchronously (Run)
//
// The façade wires every component onto one bus instance; executions,
// nested delegations and confirmation gates all observe the same event
// stream. All defaults are safe for local development and testing;
// production deployments typically supply a durable checkpoint path and a
// structured logger.
package agentrelay

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/bus"
	"github.com/hupe1980/agentrelay/checkpoint"
	"github.com/hupe1980/agentrelay/checkpoint/sqlite"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/coordinator"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/graph"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/reconcile"
	"github.com/hupe1980/agentrelay/registry"
	"github.com/hupe1980/agentrelay/thread"
)

// Options configures the AgentRelay instance.
type Options struct {
	// Config holds the runtime knobs; see config.Default for the built-ins.
	Config config.Config

	// CheckpointStore overrides the checkpoint backend. When nil, the
	// configured CheckpointPath selects SQLite, otherwise in-memory.
	CheckpointStore core.CheckpointStore
	// ThreadStore overrides the transcript backend (defaults to in-memory).
	ThreadStore core.ThreadStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// AgentRelay is the high-level façade aggregating the bus, stores and the
// delegation coordinator.
type AgentRelay struct {
	opts Options

	bus       *bus.Bus
	store     *registry.Registry
	threads   core.ThreadStore
	recorder  *checkpoint.Recorder
	directory *agent.Directory
	builder   graph.Builder
	executor  *graph.Executor
	coord     *coordinator.Coordinator
	sweeper   *coordinator.Sweeper
	loop      *reconcile.Loop

	closer func() error

	mu      sync.Mutex
	started bool
	stop    context.CancelFunc
	done    sync.WaitGroup
}

// New creates a new AgentRelay with optional overrides. Any unset store is
// initialized with an in-memory implementation; a configured CheckpointPath
// switches checkpoints to SQLite.
func New(optFns ...func(o *Options)) (*AgentRelay, error) {
	opts := Options{
		Config: config.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &AgentRelay{opts: opts}

	r.bus = bus.New(func(o *bus.Options) {
		o.BufferSize = cfg.EventBufferSize
		o.Logger = logger
	})
	r.store = registry.New(func(o *registry.Options) {
		o.Retention = cfg.RetentionWindow.Std()
		o.Logger = logger
	})

	r.threads = opts.ThreadStore
	if r.threads == nil {
		r.threads = thread.NewInMemoryStore()
	}

	cps := opts.CheckpointStore
	if cps == nil {
		if cfg.CheckpointPath != "" {
			durable, err := sqlite.Open(cfg.CheckpointPath)
			if err != nil {
				return nil, fmt.Errorf("open checkpoint store: %w", err)
			}
			cps = durable
			r.closer = durable.Close
		} else {
			cps = checkpoint.NewInMemoryStore()
		}
	}
	r.recorder = checkpoint.NewRecorder(cps, r.threads, logger)

	r.directory = agent.NewDirectory()
	r.builder = graph.NewAgentGraphBuilder(r.bus, logger, cfg.ConfirmationTimeout.Std())
	r.executor = graph.NewExecutor(r.bus, r.store, func(o *graph.ExecutorOptions) {
		o.MaxSteps = cfg.MaxGraphSteps
		o.Recorder = r.recorder
		o.Threads = r.threads
		o.Logger = logger
	})

	r.coord = coordinator.New(r.bus, r.directory, r.builder, r.executor, func(o *coordinator.Options) {
		o.Threads = r.threads
		o.Logger = logger
	})
	r.sweeper = coordinator.NewSweeper(r.coord, r.store, func(o *coordinator.SweeperOptions) {
		o.Interval = cfg.SweepInterval.Std()
		o.Ceiling = cfg.DelegationTimeout.Std()
		o.Logger = logger
	})

	r.loop = reconcile.New(
		reconcile.FetcherFunc(func(ctx context.Context, executionID string) (*core.Execution, error) {
			return r.store.Get(executionID)
		}),
		r.threads,
		func(o *reconcile.Options) {
			o.Interval = cfg.PollInterval.Std()
			o.MaxPolls = cfg.MaxPolls
			o.StagnationPolls = cfg.StagnationPolls
			o.ReconcileModulus = cfg.ReconcileModulus
			o.Logger = logger
		},
	)

	return r, nil
}

// Start launches the background workers: the delegation coordinator, the
// timeout sweep and the registry retention sweep. Idempotent.
func (r *AgentRelay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.stop = cancel

	r.store.Start(runCtx)
	r.done.Add(2)
	go func() {
		defer r.done.Done()
		_ = r.coord.Run(runCtx)
	}()
	go func() {
		defer r.done.Done()
		_ = r.sweeper.Run(runCtx)
	}()
}

// Close stops the background workers, closes the bus and releases the
// checkpoint backend.
func (r *AgentRelay) Close() error {
	r.mu.Lock()
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	r.mu.Unlock()

	r.done.Wait()
	r.store.Stop()
	r.bus.Close()

	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// RegisterAgent adds an agent definition to the directory. Registered
// agents are eligible both for direct invocation and as delegation targets.
func (r *AgentRelay) RegisterAgent(def *agent.Definition) error {
	return r.directory.Register(def)
}

// Invoke starts an asynchronous execution of the agent on the given thread
// and returns its execution id. Progress is observable via Events, Fetch
// and Await.
func (r *AgentRelay) Invoke(ctx context.Context, agentID, threadID, input string) (string, error) {
	def, err := r.directory.Resolve(agent.ID(agentID))
	if err != nil {
		return "", err
	}
	g, err := r.builder.Build(def)
	if err != nil {
		return "", err
	}

	if err := r.threads.Append(threadID, core.NewMessage(core.RoleUser, input)); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}
	if userID, ok := core.UserIDFromContext(ctx); ok {
		if _, owned := r.threads.Owner(threadID); !owned {
			if err := r.threads.SetOwner(threadID, userID); err != nil {
				return "", fmt.Errorf("set thread owner: %w", err)
			}
		}
	}

	exec := core.NewExecution(agentID, threadID)
	if err := r.store.Upsert(exec); err != nil {
		return "", err
	}

	state := &graph.State{
		ExecutionID: exec.ID,
		ThreadID:    threadID,
		AgentID:     agentID,
		Messages:    r.conversation(threadID),
	}

	go func() {
		if _, err := r.executor.Run(context.WithoutCancel(ctx), g, exec, state); err != nil {
			// The failure is already captured on the execution record.
			_ = err
		}
	}()

	return exec.ID, nil
}

// Await reconciles an execution to an outcome using the polling loop,
// including the lost-terminal-signal heuristics. It only reads; cancelling
// ctx aborts the wait without touching the execution.
func (r *AgentRelay) Await(ctx context.Context, executionID, threadID string) (*reconcile.Outcome, error) {
	return r.loop.Await(ctx, executionID, threadID)
}

// Run is a synchronous helper: Invoke followed by Await.
func (r *AgentRelay) Run(ctx context.Context, agentID, threadID, input string) (*reconcile.Outcome, error) {
	executionID, err := r.Invoke(ctx, agentID, threadID, input)
	if err != nil {
		return nil, err
	}
	return r.Await(ctx, executionID, threadID)
}

// Fetch returns the current snapshot of an execution.
func (r *AgentRelay) Fetch(executionID string) (*core.Execution, error) {
	return r.store.Get(executionID)
}

// List returns executions matching the filter.
func (r *AgentRelay) List(f core.Filter) []*core.Execution {
	return r.store.List(f)
}

// History returns the transcript of a thread.
func (r *AgentRelay) History(threadID string) ([]core.Message, error) {
	return r.threads.History(threadID)
}

// Confirm approves a pending sensitive tool call.
func (r *AgentRelay) Confirm(confirmationID string) {
	r.bus.Publish(core.NewConfirmationResolvedEvent(confirmationID, true, ""))
}

// Deny rejects a pending sensitive tool call with a reason.
func (r *AgentRelay) Deny(confirmationID, reason string) {
	r.bus.Publish(core.NewConfirmationResolvedEvent(confirmationID, false, reason))
}

// Events subscribes to the shared bus. The returned cancel function must be
// called to release the subscription.
func (r *AgentRelay) Events(topics ...core.Topic) (<-chan core.Event, func()) {
	return r.bus.Subscribe(topics...)
}

// conversation maps the thread transcript into model messages.
func (r *AgentRelay) conversation(threadID string) []model.Message {
	history, err := r.threads.History(threadID)
	if err != nil {
		return nil
	}
	msgs := make([]model.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, model.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}
