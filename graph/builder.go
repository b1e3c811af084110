package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Builder produces an executable graph for an agent definition. The
// delegation coordinator uses it to spin up nested executions with the same
// runtime semantics as top-level ones.
type Builder interface {
	Build(def *agent.Definition) (*Graph, error)
}

// AgentGraphBuilder builds the default single-node graph: one ModelNode per
// agent, looping on tool rounds until the model responds.
type AgentGraphBuilder struct {
	bus                 core.Bus
	logger              logging.Logger
	confirmationTimeout time.Duration
}

// NewAgentGraphBuilder constructs the default builder on the shared bus.
func NewAgentGraphBuilder(bus core.Bus, logger logging.Logger, confirmationTimeout time.Duration) *AgentGraphBuilder {
	return &AgentGraphBuilder{bus: bus, logger: logging.OrNoOp(logger), confirmationTimeout: confirmationTimeout}
}

// Build implements Builder.
func (b *AgentGraphBuilder) Build(def *agent.Definition) (*Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	node := NewModelNode(def, func(o *ModelNodeOptions) {
		o.Bus = b.bus
		o.Logger = b.logger
		if b.confirmationTimeout > 0 {
			o.ConfirmationTimeout = b.confirmationTimeout
		}
	})
	return NewGraph(node.ID()).AddNode(node), nil
}

// BuilderFunc adapts a function into a Builder.
type BuilderFunc func(def *agent.Definition) (*Graph, error)

// Build implements Builder.
func (f BuilderFunc) Build(def *agent.Definition) (*Graph, error) { return f(def) }

// ReplayState reconstructs the latest persisted state of a thread from its
// checkpoint log. It returns the state, the step index of the checkpoint it
// came from, and core.ErrExecutionNotFound when the thread has none.
func ReplayState(ctx context.Context, store core.CheckpointStore, threadID string) (*State, int, error) {
	cps, err := store.Load(ctx, threadID)
	if err != nil {
		return nil, 0, fmt.Errorf("load checkpoints: %w", err)
	}
	if len(cps) == 0 {
		return nil, 0, fmt.Errorf("%w: no checkpoints for thread %s", core.ErrExecutionNotFound, threadID)
	}
	last := cps[len(cps)-1]
	var state State
	if err := json.Unmarshal(last.State, &state); err != nil {
		return nil, 0, fmt.Errorf("decode checkpoint %s/%d: %w", threadID, last.StepIndex, err)
	}
	return &state, last.StepIndex, nil
}
