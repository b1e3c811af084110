package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/bus"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

func newTestState() *State {
	return &State{
		ExecutionID: "exec-1",
		ThreadID:    "thread-1",
		AgentID:     "assistant",
		Messages:    []model.Message{{Role: model.RoleUser, Content: "hello"}},
	}
}

func TestModelNodeResponseTurn(t *testing.T) {
	mock := model.NewMockModel("mock", "test")
	mock.AddResponse("hello", &model.Response{Output: "Hi there!", FinishReason: "stop"})

	node := NewModelNode(&agent.Definition{ID: "assistant", Model: mock})

	res, err := node.Invoke(context.Background(), newTestState())
	require.NoError(t, err)

	assert.Nil(t, res.Delegation)
	assert.Empty(t, res.Next)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, core.StepKindResponse, res.Steps[0].Kind)
	assert.Equal(t, "Hi there!", res.Steps[0].Content)

	last := res.State.Messages[len(res.State.Messages)-1]
	assert.Equal(t, model.RoleAssistant, last.Role)
	assert.Equal(t, "Hi there!", last.Content)
}

func TestModelNodeToolRound(t *testing.T) {
	mock := model.NewMockModel("mock", "test")
	mock.Script(
		&model.Response{
			ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "echo", Arguments: `{"text":"ping"}`}},
			FinishReason: "tool_calls",
		},
		&model.Response{Output: "The tool said: ping", FinishReason: "stop"},
	)

	echo := tool.NewFunctionTool("echo", "Echoes the input.",
		map[string]any{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}},
		func(tc *tool.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	)

	node := NewModelNode(&agent.Definition{ID: "assistant", Model: mock, Tools: []tool.Tool{echo}})
	state := newTestState()

	res, err := node.Invoke(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "assistant", res.Next, "a tool round re-enters the node")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, core.StepKindTool, res.Steps[0].Kind)
	assert.Contains(t, res.Steps[0].Content, "echo")

	last := res.State.Messages[len(res.State.Messages)-1]
	assert.Equal(t, model.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Equal(t, "ping", last.Content)

	res, err = node.Invoke(context.Background(), res.State)
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "The tool said: ping", res.Steps[0].Content)
}

func TestModelNodeUnknownToolReportedToModel(t *testing.T) {
	mock := model.NewMockModel("mock", "test")
	mock.Script(
		&model.Response{
			ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "nope", Arguments: `{}`}},
			FinishReason: "tool_calls",
		},
	)

	node := NewModelNode(&agent.Definition{ID: "assistant", Model: mock})

	res, err := node.Invoke(context.Background(), newTestState())
	require.NoError(t, err)

	last := res.State.Messages[len(res.State.Messages)-1]
	assert.Equal(t, model.RoleTool, last.Role)
	assert.Contains(t, last.Content, "UNKNOWN_TOOL")
}

func TestModelNodeDelegation(t *testing.T) {
	mock := model.NewMockModel("mock", "test")
	mock.Script(
		&model.Response{
			ToolCalls: []model.ToolCall{{
				ID:        "call-1",
				Name:      "delegate_to_agent",
				Arguments: `{"agent":"specialist","task":"summarize the report"}`,
			}},
			FinishReason: "tool_calls",
		},
	)

	node := NewModelNode(&agent.Definition{
		ID:        "supervisor",
		Model:     mock,
		Delegates: []agent.ID{"specialist"},
	})

	res, err := node.Invoke(context.Background(), newTestState())
	require.NoError(t, err)

	require.NotNil(t, res.Delegation)
	assert.Equal(t, "supervisor", res.Delegation.SourceAgentID)
	assert.Equal(t, "specialist", res.Delegation.TargetAgentID)
	assert.Equal(t, "summarize the report", res.Delegation.Task)
	assert.NotEmpty(t, res.Delegation.CorrelationID)
	assert.Equal(t, "call-1", res.DelegationCallID)
}

func TestModelNodeDelegationNotAllowed(t *testing.T) {
	mock := model.NewMockModel("mock", "test")
	mock.Script(
		&model.Response{
			ToolCalls: []model.ToolCall{{
				ID:        "call-1",
				Name:      "delegate_to_agent",
				Arguments: `{"agent":"stranger","task":"anything"}`,
			}},
			FinishReason: "tool_calls",
		},
	)

	node := NewModelNode(&agent.Definition{
		ID:        "supervisor",
		Model:     mock,
		Delegates: []agent.ID{"specialist"},
	})

	res, err := node.Invoke(context.Background(), newTestState())
	require.NoError(t, err)

	assert.Nil(t, res.Delegation)
	last := res.State.Messages[len(res.State.Messages)-1]
	assert.Contains(t, last.Content, "DELEGATE_NOT_ALLOWED")
}

func TestModelNodeConfirmationGate(t *testing.T) {
	sensitive := tool.NewFunctionTool("wipe", "Dangerous.",
		map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			return "wiped", nil
		},
		func(o *tool.FunctionToolOptions) { o.Sensitive = true },
	)

	t.Run("approved", func(t *testing.T) {
		b := bus.New()
		defer b.Close()

		mock := model.NewMockModel("mock", "test")
		mock.Script(
			&model.Response{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "wipe", Arguments: `{}`}},
				FinishReason: "tool_calls",
			},
		)
		node := NewModelNode(&agent.Definition{ID: "assistant", Model: mock, Tools: []tool.Tool{sensitive}},
			func(o *ModelNodeOptions) { o.Bus = b })

		pending, cancel := b.Subscribe(core.TopicConfirmationPending)
		defer cancel()
		go func() {
			ev, ok := <-pending
			if !ok {
				return
			}
			b.Publish(core.NewConfirmationResolvedEvent(ev.ConfirmationPending.ConfirmationID, true, ""))
		}()

		res, err := node.Invoke(context.Background(), newTestState())
		require.NoError(t, err)

		last := res.State.Messages[len(res.State.Messages)-1]
		assert.Equal(t, "wiped", last.Content)
	})

	t.Run("denied", func(t *testing.T) {
		b := bus.New()
		defer b.Close()

		mock := model.NewMockModel("mock", "test")
		mock.Script(
			&model.Response{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "wipe", Arguments: `{}`}},
				FinishReason: "tool_calls",
			},
		)
		node := NewModelNode(&agent.Definition{ID: "assistant", Model: mock, Tools: []tool.Tool{sensitive}},
			func(o *ModelNodeOptions) { o.Bus = b })

		pending, cancel := b.Subscribe(core.TopicConfirmationPending)
		defer cancel()
		go func() {
			ev, ok := <-pending
			if !ok {
				return
			}
			b.Publish(core.NewConfirmationResolvedEvent(ev.ConfirmationPending.ConfirmationID, false, "not in business hours"))
		}()

		res, err := node.Invoke(context.Background(), newTestState())
		require.NoError(t, err)

		last := res.State.Messages[len(res.State.Messages)-1]
		assert.Contains(t, last.Content, "not executed")
		assert.Contains(t, last.Content, "not in business hours")
	})

	t.Run("timeout denies", func(t *testing.T) {
		b := bus.New()
		defer b.Close()

		mock := model.NewMockModel("mock", "test")
		mock.Script(
			&model.Response{
				ToolCalls:    []model.ToolCall{{ID: "call-1", Name: "wipe", Arguments: `{}`}},
				FinishReason: "tool_calls",
			},
		)
		node := NewModelNode(&agent.Definition{ID: "assistant", Model: mock, Tools: []tool.Tool{sensitive}},
			func(o *ModelNodeOptions) {
				o.Bus = b
				o.ConfirmationTimeout = 20 * time.Millisecond
			})

		res, err := node.Invoke(context.Background(), newTestState())
		require.NoError(t, err)

		last := res.State.Messages[len(res.State.Messages)-1]
		assert.Contains(t, last.Content, "confirmation timed out")
	})
}
