package model

import (
	"context"
	"fmt"
	"sync"
)

// ToolCall is a function call request surfaced by a model provider, unified
// across vendors so downstream logic needs no per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON string of arguments
}

// ToolDefinition declares a callable function to the model. Parameters is a
// JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Conversation roles understood by every provider adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one normalized conversation entry handed to a provider.
// Assistant messages may carry ToolCalls; tool messages answer a prior call
// identified by ToolCallID.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// Request captures the normalized input for one reasoning step.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the outcome of one reasoning step: text output and/or tool
// call requests.
type Response struct {
	Output       string      `json:"output"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agent runtime nodes to drive a
// reasoning step. Invoke blocks until the provider answers or ctx is
// cancelled; any failure surfaces as an error captured on the owning
// execution.
type Model interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
// Responses are matched against the content of the last message; scripted
// responses (Script) take priority and are consumed in order.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]*Response
	script    []*Response
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider, SupportsTools: true},
		responses: make(map[string]*Response),
	}
}

// AddResponse registers a deterministic canned response for an input prompt.
func (m *MockModel) AddResponse(prompt string, resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = resp
}

// Script enqueues responses returned in order regardless of input.
func (m *MockModel) Script(resps ...*Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, resps...)
}

// Invoke implements Model.
func (m *MockModel) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		return resp, nil
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	last := req.Messages[len(req.Messages)-1]
	if resp, ok := m.responses[last.Content]; ok {
		return resp, nil
	}
	return &Response{
		Output:       fmt.Sprintf("Mock response to: %s", last.Content),
		FinishReason: "stop",
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
