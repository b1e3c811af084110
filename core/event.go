package core

import (
	"time"

	"github.com/google/uuid"
)

// Topic names a category of lifecycle events on the bus. Subscribers select
// the topics they care about; publishers never assume a particular consumer.
type Topic string

const (
	// TopicExecutionStep carries every appended ExecutionStep.
	TopicExecutionStep Topic = "execution.step"
	// TopicConfirmationPending signals a sensitive tool action awaiting an
	// external approve/deny decision.
	TopicConfirmationPending Topic = "confirmation.pending"
	// TopicConfirmationResolved carries the approve/deny decision.
	TopicConfirmationResolved Topic = "confirmation.resolved"
	// TopicDelegationRequested asks the coordinator to run a delegated task.
	TopicDelegationRequested Topic = "delegation.requested"
	// TopicDelegationCompleted carries the successful result of a delegation.
	TopicDelegationCompleted Topic = "delegation.completed"
	// TopicDelegationFailed carries the failure of a delegation.
	TopicDelegationFailed Topic = "delegation.failed"
)

// Event is the unit of communication on the shared bus. After emission it
// must be treated as immutable. Correlation fields are always populated for
// delegation topics; ExecutionID is populated whenever an owning execution
// exists. Exactly one of the typed payload fields is non-nil, matching Topic.
type Event struct {
	ID            string    `json:"id"`
	Topic         Topic     `json:"topic"`
	ExecutionID   string    `json:"execution_id,omitempty"`
	ThreadID      string    `json:"thread_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	Step                 *ExecutionStep        `json:"step,omitempty"`
	DelegationRequested  *DelegationRequest    `json:"delegation_requested,omitempty"`
	DelegationCompleted  *DelegationCompleted  `json:"delegation_completed,omitempty"`
	DelegationFailed     *DelegationFailed     `json:"delegation_failed,omitempty"`
	ConfirmationPending  *ConfirmationPending  `json:"confirmation_pending,omitempty"`
	ConfirmationResolved *ConfirmationResolved `json:"confirmation_resolved,omitempty"`
}

// DelegationCompleted is the successful terminal payload for a correlation id.
type DelegationCompleted struct {
	CorrelationID string `json:"correlation_id"`
	ExecutionID   string `json:"execution_id"` // nested execution that produced the result
	Result        string `json:"result"`
}

// DelegationFailed is the failure terminal payload for a correlation id.
type DelegationFailed struct {
	CorrelationID string `json:"correlation_id"`
	ExecutionID   string `json:"execution_id,omitempty"`
	Reason        string `json:"reason"`
	Error         string `json:"error"`
}

// ConfirmationPending describes a paused sensitive tool action.
type ConfirmationPending struct {
	ConfirmationID string `json:"confirmation_id"`
	ExecutionID    string `json:"execution_id"`
	ToolName       string `json:"tool_name"`
	Arguments      string `json:"arguments,omitempty"`
}

// ConfirmationResolved carries the external approve/deny decision for a
// pending confirmation. Denial aborts the tool step only; the owning
// execution keeps running.
type ConfirmationResolved struct {
	ConfirmationID string `json:"confirmation_id"`
	Approved       bool   `json:"approved"`
	Reason         string `json:"reason,omitempty"`
}

// NewID generates a unique identifier used for executions, events, steps and
// correlation ids throughout the engine.
func NewID() string { return uuid.NewString() }

func newEvent(topic Topic) Event {
	return Event{ID: NewID(), Topic: topic, Timestamp: time.Now().UTC()}
}

// NewStepEvent wraps an appended step for bus consumers.
func NewStepEvent(executionID, threadID string, step ExecutionStep) Event {
	ev := newEvent(TopicExecutionStep)
	ev.ExecutionID = executionID
	ev.ThreadID = threadID
	ev.Step = &step
	return ev
}

// NewDelegationRequestedEvent announces a delegation hand-off.
func NewDelegationRequestedEvent(executionID, threadID string, req DelegationRequest) Event {
	ev := newEvent(TopicDelegationRequested)
	ev.ExecutionID = executionID
	ev.ThreadID = threadID
	ev.CorrelationID = req.CorrelationID
	ev.DelegationRequested = &req
	return ev
}

// NewDelegationCompletedEvent is the successful terminal event for a
// correlation id.
func NewDelegationCompletedEvent(correlationID, nestedExecutionID, result string) Event {
	ev := newEvent(TopicDelegationCompleted)
	ev.ExecutionID = nestedExecutionID
	ev.CorrelationID = correlationID
	ev.DelegationCompleted = &DelegationCompleted{
		CorrelationID: correlationID,
		ExecutionID:   nestedExecutionID,
		Result:        result,
	}
	return ev
}

// NewDelegationFailedEvent is the failure terminal event for a correlation id.
func NewDelegationFailedEvent(correlationID, nestedExecutionID, reason string, err error) Event {
	ev := newEvent(TopicDelegationFailed)
	ev.ExecutionID = nestedExecutionID
	ev.CorrelationID = correlationID
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ev.DelegationFailed = &DelegationFailed{
		CorrelationID: correlationID,
		ExecutionID:   nestedExecutionID,
		Reason:        reason,
		Error:         msg,
	}
	return ev
}

// NewConfirmationPendingEvent announces a paused sensitive tool action.
func NewConfirmationPendingEvent(executionID, confirmationID, toolName, arguments string) Event {
	ev := newEvent(TopicConfirmationPending)
	ev.ExecutionID = executionID
	ev.CorrelationID = confirmationID
	ev.ConfirmationPending = &ConfirmationPending{
		ConfirmationID: confirmationID,
		ExecutionID:    executionID,
		ToolName:       toolName,
		Arguments:      arguments,
	}
	return ev
}

// NewConfirmationResolvedEvent carries the approve/deny decision keyed by the
// confirmation id.
func NewConfirmationResolvedEvent(confirmationID string, approved bool, reason string) Event {
	ev := newEvent(TopicConfirmationResolved)
	ev.CorrelationID = confirmationID
	ev.ConfirmationResolved = &ConfirmationResolved{
		ConfirmationID: confirmationID,
		Approved:       approved,
		Reason:         reason,
	}
	return ev
}
