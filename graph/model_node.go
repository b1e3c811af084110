package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// ModelNodeOptions configures a ModelNode.
type ModelNodeOptions struct {
	// Bus carries confirmation gate events. Required when any of the
	// agent's tools is sensitive.
	Bus core.Bus
	// ConfirmationTimeout bounds the wait for an approve/deny decision. An
	// expired gate resolves as denied, not as an execution failure.
	ConfirmationTimeout time.Duration

	Logger logging.Logger
}

// ModelNode is the agent runtime node: it drives one reasoning turn of the
// agent's model, executes requested tool calls, enforces the confirmation
// gate on sensitive tools, and surfaces delegation hand-offs to the
// executor. The node re-enters itself after a tool round so the model can
// consume the results.
type ModelNode struct {
	id    string
	def   *agent.Definition
	tools map[string]tool.Tool
	opts  ModelNodeOptions
}

// NewModelNode constructs the runtime node for an agent definition. The
// built-in delegation tool is attached when the definition declares
// delegates.
func NewModelNode(def *agent.Definition, optFns ...func(o *ModelNodeOptions)) *ModelNode {
	opts := ModelNodeOptions{
		ConfirmationTimeout: 5 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	tools := make(map[string]tool.Tool, len(def.Tools)+1)
	for _, t := range def.Tools {
		tools[t.Name()] = t
	}
	if len(def.Delegates) > 0 {
		dt := tool.NewDelegateTool()
		tools[dt.Name()] = dt
	}

	return &ModelNode{id: string(def.ID), def: def, tools: tools, opts: opts}
}

// ID implements Node.
func (n *ModelNode) ID() string { return n.id }

// Invoke implements Node. A turn without tool calls produces the agent's
// response and ends the node; a turn with tool calls executes them, appends
// their results to the conversation, and loops back for another turn.
func (n *ModelNode) Invoke(ctx context.Context, state *State) (*Result, error) {
	resp, err := n.def.Model.Invoke(ctx, model.Request{
		Instructions: n.def.Instructions,
		Messages:     state.Messages,
		Tools:        n.toolDefinitions(),
	})
	if err != nil {
		return nil, fmt.Errorf("model invoke: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		state.Messages = append(state.Messages, model.Message{
			Role:    model.RoleAssistant,
			Content: resp.Output,
		})
		return &Result{
			State: state,
			Steps: []core.ExecutionStep{core.NewStep(core.StepKindResponse, resp.Output)},
		}, nil
	}

	state.Messages = append(state.Messages, model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Output,
		ToolCalls: resp.ToolCalls,
	})

	var steps []core.ExecutionStep
	for i, call := range resp.ToolCalls {
		out, delegation, err := n.runToolCall(ctx, state, call)
		if err != nil {
			return nil, err
		}
		steps = append(steps, core.NewStep(core.StepKindTool,
			fmt.Sprintf("%s: %s", call.Name, out)))

		if delegation != nil {
			// Remaining calls cannot run while the execution is suspended;
			// answer them so the conversation stays well-formed.
			for _, rest := range resp.ToolCalls[i+1:] {
				state.Messages = append(state.Messages, toolMessage(rest, "skipped: delegation in progress"))
			}
			return &Result{
				State:            state,
				Steps:            steps,
				Delegation:       delegation,
				DelegationCallID: call.ID,
			}, nil
		}
		state.Messages = append(state.Messages, toolMessage(call, out))
	}

	return &Result{State: state, Steps: steps, Next: n.id}, nil
}

// runToolCall executes one tool call and returns its serialized result plus
// the delegation request, if the tool signalled one. Tool failures are
// reported back to the model, not escalated.
func (n *ModelNode) runToolCall(ctx context.Context, state *State, call model.ToolCall) (string, *core.DelegationRequest, error) {
	t, ok := n.tools[call.Name]
	if !ok {
		return tool.NewError(call.Name, "unknown tool", "UNKNOWN_TOOL").Error(), nil, nil
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return tool.NewError(call.Name, fmt.Sprintf("invalid arguments: %v", err), "INVALID_ARGUMENTS").Error(), nil, nil
		}
	}

	if t.Sensitive() {
		approved, reason, err := n.awaitConfirmation(ctx, state.ExecutionID, call)
		if err != nil {
			return "", nil, err
		}
		if !approved {
			if reason == "" {
				reason = "denied"
			}
			return fmt.Sprintf("tool %s not executed: %s", call.Name, reason), nil, nil
		}
	}

	tc := tool.NewContext(ctx, state.ExecutionID, state.ThreadID, state.AgentID, call.ID, n.opts.Logger)
	out, callErr := t.Call(tc, args)
	if callErr != nil {
		return callErr.Error(), nil, nil
	}

	if req := tc.Delegation(); req != nil {
		if !n.mayDelegateTo(req.TargetAgentID) {
			return tool.NewError(call.Name,
				fmt.Sprintf("agent %s is not a configured delegate of %s", req.TargetAgentID, n.def.ID),
				"DELEGATE_NOT_ALLOWED").Error(), nil, nil
		}
		return "", req, nil
	}

	return marshalToolResult(out), nil, nil
}

// awaitConfirmation runs the confirmation gate for one sensitive call:
// publish confirmation.pending, wait for the matching resolution. The
// subscription is opened before publishing so the decision cannot be missed.
func (n *ModelNode) awaitConfirmation(ctx context.Context, executionID string, call model.ToolCall) (bool, string, error) {
	if n.opts.Bus == nil {
		return false, "no confirmation channel configured", nil
	}
	confirmationID := core.NewID()

	events, cancel := n.opts.Bus.Subscribe(core.TopicConfirmationResolved)
	defer cancel()

	n.opts.Bus.Publish(core.NewConfirmationPendingEvent(executionID, confirmationID, call.Name, call.Arguments))
	n.opts.Logger.Info("confirmation.pending",
		"execution_id", executionID,
		"confirmation_id", confirmationID,
		"tool", call.Name,
	)

	timer := time.NewTimer(n.opts.ConfirmationTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, "", ctx.Err()
		case <-timer.C:
			return false, "confirmation timed out", nil
		case ev, ok := <-events:
			if !ok {
				return false, "", fmt.Errorf("graph: bus closed while awaiting confirmation")
			}
			if ev.CorrelationID != confirmationID {
				continue
			}
			res := ev.ConfirmationResolved
			return res.Approved, res.Reason, nil
		}
	}
}

func (n *ModelNode) mayDelegateTo(target string) bool {
	for _, id := range n.def.Delegates {
		if string(id) == target {
			return true
		}
	}
	return false
}

func (n *ModelNode) toolDefinitions() []model.ToolDefinition {
	if len(n.tools) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(n.tools))
	for _, t := range n.tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

func toolMessage(call model.ToolCall, content string) model.Message {
	return model.Message{
		Role:       model.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

func marshalToolResult(out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
