package core

import (
	"time"
)

// Status describes the lifecycle stage of an Execution. Transitions are
// monotonic: Pending -> Running -> one of the terminal states. Running may
// self-loop across many graph steps but never returns to Pending, and a
// terminal status is never left again.
type Status string

const (
	// StatusPending marks an Execution that has been registered but whose
	// graph has not started stepping yet.
	StatusPending Status = "pending"
	// StatusRunning marks an Execution whose graph is actively stepping.
	StatusRunning Status = "running"
	// StatusCompleted is the successful terminal state.
	StatusCompleted Status = "completed"
	// StatusFailed is the terminal state for node, delegation or timeout errors.
	StatusFailed Status = "failed"
	// StatusCancelled is the terminal state reached when the caller aborts an
	// in-flight Execution. Already-dispatched nested delegations keep running;
	// their results are discarded.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether moving from s to next preserves the
// monotonic state machine. Self-loops on Running are permitted.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next.Terminal()
	case StatusRunning:
		return next == StatusRunning || next.Terminal()
	default:
		return false
	}
}

// StepKind categorizes an ExecutionStep.
type StepKind string

const (
	// StepKindDelegation records a delegation hand-off or its result.
	StepKindDelegation StepKind = "delegation"
	// StepKindTool records a tool invocation outcome.
	StepKindTool StepKind = "tool"
	// StepKindResponse records an agent response message.
	StepKindResponse StepKind = "response"
)

// ExecutionStep is one append-only entry in an Execution's message sequence.
type ExecutionStep struct {
	ID        string            `json:"id"`
	Kind      StepKind          `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewStep constructs an ExecutionStep with a fresh id and UTC timestamp.
func NewStep(kind StepKind, content string) ExecutionStep {
	return ExecutionStep{
		ID:        NewID(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Execution is one end-to-end run of an agent, including any nested
// delegations, tracked as a single state-machine instance. It is owned by the
// execution registry; only the delegation coordinator and the graph executor
// driving it mutate a given Execution. All other readers are read-only.
type Execution struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	ThreadID  string          `json:"thread_id"`
	Status    Status          `json:"status"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Steps     []ExecutionStep `json:"steps"`
	Error     string          `json:"error,omitempty"`
}

// NewExecution creates a pending Execution bound to an agent and thread.
func NewExecution(agentID, threadID string) *Execution {
	return &Execution{
		ID:        NewID(),
		AgentID:   agentID,
		ThreadID:  threadID,
		Status:    StatusPending,
		StartTime: time.Now().UTC(),
	}
}

// FinalResponse returns the content of the last response-kind step, or ""
// when no response has been recorded yet.
func (e *Execution) FinalResponse() string {
	for i := len(e.Steps) - 1; i >= 0; i-- {
		if e.Steps[i].Kind == StepKindResponse {
			return e.Steps[i].Content
		}
	}
	return ""
}

// Clone returns a deep copy safe for independent mutation.
func (e *Execution) Clone() *Execution {
	c := *e
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	c.Steps = make([]ExecutionStep, len(e.Steps))
	copy(c.Steps, e.Steps)
	return &c
}

// Filter selects executions by optional status and thread id. Zero values
// match everything.
type Filter struct {
	Status   Status
	ThreadID string
}

// Matches reports whether the execution satisfies the filter.
func (f Filter) Matches(e *Execution) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ThreadID != "" && e.ThreadID != f.ThreadID {
		return false
	}
	return true
}

// ExecutionStore indexes executions by id. Implementations must support
// concurrent reads; writes for a given execution id are serialized by the
// single-writer discipline of the callers.
type ExecutionStore interface {
	// Get returns the execution or ErrExecutionNotFound.
	Get(id string) (*Execution, error)
	// List returns executions matching the filter, ordered by start time.
	List(f Filter) []*Execution
	// Upsert stores the execution snapshot. The monotonic status invariant is
	// enforced: a stored terminal status never regresses.
	Upsert(e *Execution) error
	// UpdateStatus transitions an execution's status, recording errMsg for
	// terminal failures. Invalid transitions return ErrInvalidTransition.
	UpdateStatus(id string, next Status, errMsg string) error
	// AppendStep appends a step to the execution's ordered message sequence.
	AppendStep(id string, step ExecutionStep) error
}
