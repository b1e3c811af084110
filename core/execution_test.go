package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestFinalResponse(t *testing.T) {
	exec := NewExecution("agent", "thread-1")
	assert.Empty(t, exec.FinalResponse())

	exec.Steps = append(exec.Steps,
		NewStep(StepKindTool, "lookup"),
		NewStep(StepKindResponse, "first"),
		NewStep(StepKindDelegation, "handed off"),
		NewStep(StepKindResponse, "second"),
	)
	assert.Equal(t, "second", exec.FinalResponse())
}

func TestExecutionClone(t *testing.T) {
	exec := NewExecution("agent", "thread-1")
	now := time.Now().UTC()
	exec.EndTime = &now
	exec.Steps = append(exec.Steps, NewStep(StepKindResponse, "done"))

	clone := exec.Clone()
	clone.Steps[0].Content = "tampered"
	*clone.EndTime = clone.EndTime.Add(time.Hour)
	clone.Status = StatusFailed

	assert.Equal(t, "done", exec.Steps[0].Content)
	assert.Equal(t, now, *exec.EndTime)
	assert.Equal(t, StatusPending, exec.Status)
}

func TestFilterMatches(t *testing.T) {
	exec := NewExecution("agent", "thread-1")
	exec.Status = StatusRunning

	assert.True(t, Filter{}.Matches(exec))
	assert.True(t, Filter{Status: StatusRunning}.Matches(exec))
	assert.True(t, Filter{ThreadID: "thread-1"}.Matches(exec))
	assert.True(t, Filter{Status: StatusRunning, ThreadID: "thread-1"}.Matches(exec))
	assert.False(t, Filter{Status: StatusCompleted}.Matches(exec))
	assert.False(t, Filter{ThreadID: "thread-2"}.Matches(exec))
}

func TestNewExecutionDefaults(t *testing.T) {
	exec := NewExecution("agent", "thread-1")
	require.NotEmpty(t, exec.ID)
	assert.Equal(t, StatusPending, exec.Status)
	assert.Nil(t, exec.EndTime)
	assert.False(t, exec.StartTime.IsZero())
}
