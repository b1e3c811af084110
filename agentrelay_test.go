package agentrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/checkpoint"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/reconcile"
	"github.com/hupe1980/agentrelay/tool"
)

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.PollInterval = config.Duration(5 * time.Millisecond)
	cfg.SweepInterval = config.Duration(50 * time.Millisecond)
	return cfg
}

func newRelay(t *testing.T, optFns ...func(o *Options)) *AgentRelay {
	t.Helper()

	all := append([]func(o *Options){func(o *Options) {
		o.Config = fastConfig()
	}}, optFns...)

	r, err := New(all...)
	require.NoError(t, err)
	r.Start(context.Background())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRunSimpleAgent(t *testing.T) {
	r := newRelay(t)

	m := model.NewMockModel("mock", "test")
	m.AddResponse("what is the status?", &model.Response{Output: "All systems nominal.", FinishReason: "stop"})
	require.NoError(t, r.RegisterAgent(&agent.Definition{ID: "status-bot", Model: m}))

	out, err := r.Run(context.Background(), "status-bot", "thread-1", "what is the status?")
	require.NoError(t, err)

	assert.Equal(t, reconcile.OutcomeCompleted, out.Kind)
	assert.Equal(t, "All systems nominal.", out.Response)

	history, err := r.History("thread-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, "All systems nominal.", history[1].Content)
}

func TestRunDelegation(t *testing.T) {
	r := newRelay(t)

	specialist := model.NewMockModel("mock", "test")
	specialist.AddResponse("draft a reply", &model.Response{Output: "Draft ready.", FinishReason: "stop"})
	require.NoError(t, r.RegisterAgent(&agent.Definition{ID: "astra-email", Model: specialist}))

	supervisor := model.NewMockModel("mock", "test")
	supervisor.Script(
		&model.Response{
			ToolCalls: []model.ToolCall{{
				ID:        "call-1",
				Name:      "delegate_to_agent",
				Arguments: `{"agent":"astra-email","task":"draft a reply"}`,
			}},
			FinishReason: "tool_calls",
		},
		&model.Response{Output: "Handled via Astra.", FinishReason: "stop"},
	)
	require.NoError(t, r.RegisterAgent(&agent.Definition{
		ID:        "cleo-supervisor",
		Model:     supervisor,
		Delegates: []agent.ID{"astra-email"},
	}))

	out, err := r.Run(context.Background(), "cleo-supervisor", "thread-1", "answer the customer")
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCompleted, out.Kind)
	assert.Equal(t, "Handled via Astra.", out.Response)

	// Both executions concluded and stay queryable within retention.
	completed := r.List(core.Filter{Status: core.StatusCompleted})
	assert.Len(t, completed, 2)
}

func TestInvokeUnknownAgent(t *testing.T) {
	r := newRelay(t)

	_, err := r.Invoke(context.Background(), "agent-x", "thread-1", "hello")
	require.ErrorIs(t, err, core.ErrUnknownAgent)
}

func TestConfirmationGateViaFacade(t *testing.T) {
	r := newRelay(t)

	sensitive := tool.NewFunctionTool("send_wire", "Sends a wire transfer.",
		map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			return "wire sent", nil
		},
		func(o *tool.FunctionToolOptions) { o.Sensitive = true },
	)

	m := model.NewMockModel("mock", "test")
	m.Script(
		&model.Response{
			ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "send_wire", Arguments: `{}`}},
			FinishReason: "tool_calls",
		},
		&model.Response{Output: "Transfer confirmed.", FinishReason: "stop"},
	)
	require.NoError(t, r.RegisterAgent(&agent.Definition{ID: "banker", Model: m, Tools: []tool.Tool{sensitive}}))

	pending, cancel := r.Events(core.TopicConfirmationPending)
	defer cancel()
	go func() {
		ev, ok := <-pending
		if !ok {
			return
		}
		r.Confirm(ev.ConfirmationPending.ConfirmationID)
	}()

	out, err := r.Run(context.Background(), "banker", "thread-1", "wire $100 to acme")
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCompleted, out.Kind)
	assert.Equal(t, "Transfer confirmed.", out.Response)
}

func TestCheckpointsRecordedPerStep(t *testing.T) {
	cps := checkpoint.NewInMemoryStore()
	r := newRelay(t, func(o *Options) {
		o.CheckpointStore = cps
	})

	m := model.NewMockModel("mock", "test")
	m.AddResponse("ping", &model.Response{Output: "pong", FinishReason: "stop"})
	require.NoError(t, r.RegisterAgent(&agent.Definition{ID: "echo", Model: m}))

	out, err := r.Run(core.WithUserID(context.Background(), "user-7"), "echo", "thread-1", "ping")
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeCompleted, out.Kind)

	saved, err := cps.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	require.NotEmpty(t, saved)
	assert.Equal(t, 1, saved[0].StepIndex)
	assert.Equal(t, "user-7", saved[0].UserID, "thread owner attribution flows into checkpoints")
}

func TestEventsExposeExecutionSteps(t *testing.T) {
	r := newRelay(t)

	m := model.NewMockModel("mock", "test")
	m.AddResponse("hi", &model.Response{Output: "hello", FinishReason: "stop"})
	require.NoError(t, r.RegisterAgent(&agent.Definition{ID: "greeter", Model: m}))

	steps, cancel := r.Events(core.TopicExecutionStep)
	defer cancel()

	executionID, err := r.Invoke(context.Background(), "greeter", "thread-1", "hi")
	require.NoError(t, err)

	select {
	case ev := <-steps:
		assert.Equal(t, executionID, ev.ExecutionID)
		assert.Equal(t, core.StepKindResponse, ev.Step.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a step event")
	}

	out, err := r.Await(context.Background(), executionID, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeCompleted, out.Kind)
}
