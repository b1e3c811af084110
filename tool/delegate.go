package tool

import "fmt"

// delegateTool requests hand-off of a task to another agent by id. It is the
// built-in way for a model-driven node to signal delegation intent; the
// runtime node converts the signal into a correlated delegation request and
// suspends until the coordinator resolves it.
type delegateTool struct{}

// NewDelegateTool constructs the delegation tool instance.
func NewDelegateTool() Tool { return &delegateTool{} }

func (t *delegateTool) Name() string { return "delegate_to_agent" }

func (t *delegateTool) Description() string {
	return "Hand a task off to another agent by id. Use when a specialist agent is better suited for the task."
}

func (t *delegateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent id"},
			"task":  map[string]any{"type": "string", "description": "Task description for the target agent"},
		},
		"required": []string{"agent", "task"},
	}
}

func (t *delegateTool) Sensitive() bool { return false }

func (t *delegateTool) Call(tc *Context, args map[string]any) (any, error) {
	agentID, ok := args["agent"].(string)
	if !ok || agentID == "" {
		return nil, fmt.Errorf("field 'agent' must be a non-empty string")
	}
	task, ok := args["task"].(string)
	if !ok || task == "" {
		return nil, fmt.Errorf("field 'task' must be a non-empty string")
	}
	tc.RequestDelegation(agentID, task)
	return map[string]any{"delegated": true, "agent": agentID}, nil
}
