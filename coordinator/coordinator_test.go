package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/bus"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/graph"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/registry"
)

type fixture struct {
	bus         *bus.Bus
	store       *registry.Registry
	directory   *agent.Directory
	builder     graph.Builder
	executor    *graph.Executor
	coordinator *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	b := bus.New()
	t.Cleanup(b.Close)

	store := registry.New()
	directory := agent.NewDirectory()
	builder := graph.NewAgentGraphBuilder(b, nil, 0)
	executor := graph.NewExecutor(b, store, func(o *graph.ExecutorOptions) {
		o.SuspendPollInterval = 10 * time.Millisecond
	})

	f := &fixture{
		bus:         b,
		store:       store,
		directory:   directory,
		builder:     builder,
		executor:    executor,
		coordinator: New(b, directory, builder, executor),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = f.coordinator.Run(ctx) }()
	// Give the coordinator's subscription time to attach.
	time.Sleep(10 * time.Millisecond)

	return f
}

func waitForEvent(t *testing.T, ch <-chan core.Event, correlationID string) core.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "bus closed while waiting for event")
			if ev.CorrelationID == correlationID {
				return ev
			}
		case <-deadline:
			t.Fatalf("no terminal event for correlation %s", correlationID)
		}
	}
}

func TestCoordinatorSupervisorDelegation(t *testing.T) {
	f := newFixture(t)

	specialistModel := model.NewMockModel("mock", "test")
	specialistModel.AddResponse("draft a reply to the customer", &model.Response{
		Output:       "Draft ready: thanks for reaching out.",
		FinishReason: "stop",
	})
	require.NoError(t, f.directory.Register(&agent.Definition{
		ID:           "astra-email",
		Name:         "Astra",
		Instructions: "You draft emails.",
		Model:        specialistModel,
	}))

	supervisorModel := model.NewMockModel("mock", "test")
	supervisorModel.Script(
		&model.Response{
			ToolCalls: []model.ToolCall{{
				ID:        "call-1",
				Name:      "delegate_to_agent",
				Arguments: `{"agent":"astra-email","task":"draft a reply to the customer"}`,
			}},
			FinishReason: "tool_calls",
		},
		&model.Response{Output: "Email handled by Astra.", FinishReason: "stop"},
	)
	supervisor := &agent.Definition{
		ID:           "cleo-supervisor",
		Name:         "Cleo",
		Instructions: "You route work to specialists.",
		Model:        supervisorModel,
		Delegates:    []agent.ID{"astra-email"},
	}
	require.NoError(t, f.directory.Register(supervisor))

	g, err := f.builder.Build(supervisor)
	require.NoError(t, err)

	exec := core.NewExecution("cleo-supervisor", "thread-1")
	state := &graph.State{
		ExecutionID: exec.ID,
		ThreadID:    "thread-1",
		AgentID:     "cleo-supervisor",
		Messages:    []model.Message{{Role: model.RoleUser, Content: "please answer the customer"}},
	}

	final, err := f.executor.Run(context.Background(), g, exec, state)
	require.NoError(t, err)

	assert.Equal(t, core.StatusCompleted, final.Status)
	assert.Equal(t, "Email handled by Astra.", final.FinalResponse())

	// The nested execution ran to completion under its own derived thread.
	nested := f.store.List(core.Filter{Status: core.StatusCompleted})
	require.Len(t, nested, 2)
	var child *core.Execution
	for _, e := range nested {
		if e.AgentID == "astra-email" {
			child = e
		}
	}
	require.NotNil(t, child)
	assert.Equal(t, "Draft ready: thanks for reaching out.", child.FinalResponse())
	assert.Contains(t, child.ThreadID, "thread-1/")
}

func TestCoordinatorUnknownAgentFailsFast(t *testing.T) {
	f := newFixture(t)

	terminal, cancel := f.bus.Subscribe(core.TopicDelegationCompleted, core.TopicDelegationFailed)
	defer cancel()

	req := core.DelegationRequest{
		SourceAgentID: "cleo-supervisor",
		TargetAgentID: "agent-x",
		Task:          "anything",
		CorrelationID: "c-unknown",
	}
	f.bus.Publish(core.NewDelegationRequestedEvent("parent-exec", "thread-1", req))

	ev := waitForEvent(t, terminal, "c-unknown")
	assert.Equal(t, core.TopicDelegationFailed, ev.Topic)
	require.NotNil(t, ev.DelegationFailed)
	assert.Equal(t, core.ReasonUnknownAgent, ev.DelegationFailed.Reason)

	// No nested execution was started for the unknown target.
	assert.Empty(t, f.store.List(core.Filter{}))
}

func TestCoordinatorDuplicateRequestsEmitOneTerminalEvent(t *testing.T) {
	f := newFixture(t)

	m := model.NewMockModel("mock", "test")
	m.AddResponse("do it", &model.Response{Output: "done", FinishReason: "stop"})
	require.NoError(t, f.directory.Register(&agent.Definition{ID: "worker", Model: m}))

	terminal, cancel := f.bus.Subscribe(core.TopicDelegationCompleted, core.TopicDelegationFailed)
	defer cancel()

	req := core.DelegationRequest{
		SourceAgentID: "parent",
		TargetAgentID: "worker",
		Task:          "do it",
		CorrelationID: "c-dup",
	}
	ev := core.NewDelegationRequestedEvent("parent-exec", "thread-1", req)
	f.bus.Publish(ev)
	f.bus.Publish(ev)

	first := waitForEvent(t, terminal, "c-dup")
	assert.Equal(t, core.TopicDelegationCompleted, first.Topic)
	assert.Equal(t, "done", first.DelegationCompleted.Result)

	// A replay after resolution is also ignored.
	f.bus.Publish(ev)

	select {
	case extra := <-terminal:
		t.Fatalf("unexpected second terminal event: %s (%s)", extra.Topic, extra.CorrelationID)
	case <-time.After(150 * time.Millisecond):
	}

	assert.Len(t, f.store.List(core.Filter{}), 1)
}

func TestCoordinatorConcurrentDelegationsDoNotCrossTalk(t *testing.T) {
	f := newFixture(t)

	emailModel := model.NewMockModel("mock", "test")
	emailModel.AddResponse("draft the email", &model.Response{Output: "email drafted", FinishReason: "stop"})
	require.NoError(t, f.directory.Register(&agent.Definition{ID: "email", Model: emailModel}))

	calendarModel := model.NewMockModel("mock", "test")
	calendarModel.AddResponse("book the meeting", &model.Response{Output: "meeting booked", FinishReason: "stop"})
	require.NoError(t, f.directory.Register(&agent.Definition{ID: "calendar", Model: calendarModel}))

	terminal, cancel := f.bus.Subscribe(core.TopicDelegationCompleted, core.TopicDelegationFailed)
	defer cancel()

	f.bus.Publish(core.NewDelegationRequestedEvent("exec-a", "thread-a", core.DelegationRequest{
		SourceAgentID: "parent-a", TargetAgentID: "email", Task: "draft the email", CorrelationID: "c1",
	}))
	f.bus.Publish(core.NewDelegationRequestedEvent("exec-b", "thread-b", core.DelegationRequest{
		SourceAgentID: "parent-b", TargetAgentID: "calendar", Task: "book the meeting", CorrelationID: "c2",
	}))

	results := map[string]string{}
	deadline := time.After(3 * time.Second)
	for len(results) < 2 {
		select {
		case ev := <-terminal:
			require.Equal(t, core.TopicDelegationCompleted, ev.Topic)
			results[ev.CorrelationID] = ev.DelegationCompleted.Result
		case <-deadline:
			t.Fatalf("missing terminal events, got %v", results)
		}
	}

	assert.Equal(t, "email drafted", results["c1"])
	assert.Equal(t, "meeting booked", results["c2"])
}

func TestSweeperForceFailsOverdueOwner(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	store := registry.New()
	directory := agent.NewDirectory()
	executor := graph.NewExecutor(b, store)

	// A specialist that never answers keeps the delegation in flight.
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	builder := graph.BuilderFunc(func(def *agent.Definition) (*graph.Graph, error) {
		stuck := graph.NewFuncNode("stuck", func(ctx context.Context, state *graph.State) (*graph.Result, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, errors.New("aborted")
		})
		return graph.NewGraph("stuck").AddNode(stuck), nil
	})

	coord := New(b, directory, builder, executor)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = coord.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	m := model.NewMockModel("mock", "test")
	require.NoError(t, directory.Register(&agent.Definition{ID: "slow", Model: m}))

	parent := core.NewExecution("parent", "thread-1")
	require.NoError(t, store.Upsert(parent))
	require.NoError(t, store.UpdateStatus(parent.ID, core.StatusRunning, ""))

	b.Publish(core.NewDelegationRequestedEvent(parent.ID, "thread-1", core.DelegationRequest{
		SourceAgentID: "parent", TargetAgentID: "slow", Task: "never ends", CorrelationID: "c-slow",
	}))

	require.Eventually(t, func() bool {
		return len(coord.Pending(0)) == 1
	}, time.Second, 10*time.Millisecond)

	sweeper := NewSweeper(coord, store, func(o *SweeperOptions) {
		o.Ceiling = 0
	})
	sweeper.Sweep()

	snap, err := store.Get(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, core.ErrDelegationTimeout.Error())

	// A second sweep is a no-op on the already terminal owner.
	sweeper.Sweep()
	snap, err = store.Get(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, snap.Status)
}

func TestSweeperRespectsCeiling(t *testing.T) {
	store := registry.New()
	parent := core.NewExecution("parent", "thread-1")
	require.NoError(t, store.Upsert(parent))
	require.NoError(t, store.UpdateStatus(parent.ID, core.StatusRunning, ""))

	source := pendingSourceFunc(func(olderThan time.Duration) []PendingDelegation {
		if olderThan > time.Minute {
			return nil
		}
		return []PendingDelegation{{CorrelationID: "c1", ExecutionID: parent.ID, Since: time.Now()}}
	})

	sweeper := NewSweeper(source, store, func(o *SweeperOptions) {
		o.Ceiling = 10 * time.Minute
	})
	sweeper.Sweep()

	snap, err := store.Get(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, snap.Status, "owner within the ceiling must not be touched")
}

type pendingSourceFunc func(olderThan time.Duration) []PendingDelegation

func (f pendingSourceFunc) Pending(olderThan time.Duration) []PendingDelegation { return f(olderThan) }
