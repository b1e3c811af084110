package core

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutionNotFound is returned when an execution id is unknown to the
	// registry.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrInvalidTransition is returned when a status change would regress the
	// monotonic execution state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownAgent is returned when a delegation target cannot be resolved.
	// Unresolvable targets fail immediately and are never retried.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrDelegationTimeout marks an execution force-failed by the timeout
	// sweep because its delegation did not resolve within the ceiling.
	ErrDelegationTimeout = errors.New("delegation timeout")
	// ErrReconciliationTimeout is surfaced by the reconciliation loop after
	// exhausting its poll budget without observing a terminal signal. It is
	// deliberately distinct from a reported execution failure: the caller is
	// told "no response received", not "the agent failed".
	ErrReconciliationTimeout = errors.New("reconciliation timeout")
)

// Reason strings recorded on delegation.failed events.
const (
	ReasonUnknownAgent  = "UnknownAgent"
	ReasonNodeError     = "NodeExecutionError"
	ReasonTimeout       = "DelegationTimeout"
	ReasonNestedFailure = "NestedExecutionFailed"
)

// NodeExecutionError wraps an uncaught error from an agent runtime node. It
// is terminal for the owning execution unless the whole execution is retried
// externally.
type NodeExecutionError struct {
	NodeID string
	Err    error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *NodeExecutionError) Unwrap() error { return e.Err }

// CheckpointWriteError wraps a failed checkpoint append. It is the sole
// intentionally swallowed error category: callers log it and keep the
// in-flight execution alive.
type CheckpointWriteError struct {
	ThreadID  string
	StepIndex int
	Err       error
}

// Error implements the error interface.
func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("checkpoint write thread=%s step=%d: %v", e.ThreadID, e.StepIndex, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *CheckpointWriteError) Unwrap() error { return e.Err }
