// Package tool implements the function calling subsystem that lets agent
// runtime nodes invoke structured capabilities (APIs, computations,
// side-effects) with schema-described arguments and consistent error
// handling. Tools marked sensitive are guarded by the confirmation gate: the
// owning node pauses until an external approve/deny decision arrives.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Tool defines the interface for extending agent capabilities with external
// functions.
//
// Tool implementations should provide clear names and descriptions, define a
// JSON schema for parameters, handle errors gracefully and be safe for
// concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description is provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Sensitive reports whether invoking this tool requires an external
	// confirmation before it runs.
	Sensitive() bool

	// Call executes the tool. Arguments are parsed from the model's JSON
	// payload before invocation.
	Call(tc *Context, args map[string]any) (any, error)
}

// Context provides tools with a constrained, auditable execution surface:
// identifiers of the owning execution, structured logging, and the
// delegation signal consumed by the runtime node after the call returns.
type Context struct {
	ctx         context.Context
	executionID string
	threadID    string
	agentID     string
	callID      string
	logger      logging.Logger

	delegation *core.DelegationRequest
}

// NewContext constructs a tool context bound to one function call.
func NewContext(ctx context.Context, executionID, threadID, agentID, callID string, logger logging.Logger) *Context {
	return &Context{
		ctx:         ctx,
		executionID: executionID,
		threadID:    threadID,
		agentID:     agentID,
		callID:      callID,
		logger:      logging.OrNoOp(logger),
	}
}

// Context returns the cancellation context of the owning node step.
func (tc *Context) Context() context.Context { return tc.ctx }

// ExecutionID returns the owning execution id.
func (tc *Context) ExecutionID() string { return tc.executionID }

// ThreadID returns the enclosing thread id.
func (tc *Context) ThreadID() string { return tc.threadID }

// AgentID returns the agent driving the call.
func (tc *Context) AgentID() string { return tc.agentID }

// CallID returns the function call id assigned by the model.
func (tc *Context) CallID() string { return tc.callID }

// Logger returns the injected structured logger.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// RequestDelegation signals the runtime node to hand the given task off to
// another agent. The node emits the correlated delegation request and
// suspends after the current call completes.
func (tc *Context) RequestDelegation(targetAgentID, task string) {
	req := core.NewDelegationRequest(tc.agentID, targetAgentID, task)
	tc.delegation = &req
	tc.logger.Info("tool.delegation.request",
		"source_agent_id", tc.agentID,
		"target_agent_id", targetAgentID,
		"correlation_id", req.CorrelationID,
	)
}

// Delegation returns the pending delegation request, if the tool signalled
// one.
func (tc *Context) Delegation() *core.DelegationRequest { return tc.delegation }

// Error represents a failure during tool execution.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates an Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}
