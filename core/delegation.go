package core

// DelegationRequest asks the coordinator to run a task on another agent.
// It is created when a node signals delegation intent and consumed exactly
// once; it is terminal after a completed or failed event has been emitted
// for its correlation id.
type DelegationRequest struct {
	SourceAgentID string `json:"source_agent_id"`
	TargetAgentID string `json:"target_agent_id"`
	Task          string `json:"task"`
	CorrelationID string `json:"correlation_id"`
}

// NewDelegationRequest builds a request with a fresh correlation id.
func NewDelegationRequest(sourceAgentID, targetAgentID, task string) DelegationRequest {
	return DelegationRequest{
		SourceAgentID: sourceAgentID,
		TargetAgentID: targetAgentID,
		Task:          task,
		CorrelationID: NewID(),
	}
}
