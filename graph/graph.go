// Package graph implements the execution graph and the agent runtime nodes
// it drives. A graph is a directed set of nodes; the executor invokes one
// node at a time, applies transitions based on the node's result, persists a
// replayable checkpoint per step, and suspends on correlated delegation
// events when a node hands work off to another agent.
package graph

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// State carries the evolving conversation of one execution through the
// graph: thread identity, the owning execution, and the normalized message
// history handed to each node. It is JSON-serializable so checkpoints can
// reproduce it verbatim.
type State struct {
	ExecutionID string          `json:"execution_id"`
	ThreadID    string          `json:"thread_id"`
	AgentID     string          `json:"agent_id"`
	Messages    []model.Message `json:"messages"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.Messages = make([]model.Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// Result is the outcome of one node invocation: the next state, the steps to
// record on the owning execution, and optional control directives (an
// explicit next node, completion, or a delegation hand-off).
type Result struct {
	// State is the next state; nil means the input state is unchanged.
	State *State
	// Steps are appended to the execution's message sequence and published
	// as execution.step events, in order.
	Steps []core.ExecutionStep
	// Delegation, when non-nil, suspends the execution until the correlated
	// terminal delegation event arrives.
	Delegation *core.DelegationRequest
	// DelegationCallID ties the delegation result back to the tool call that
	// requested it, so the resumed conversation stays well-formed.
	DelegationCallID string
	// Next overrides the static edge for this transition.
	Next string
	// Done ends the graph run after this step.
	Done bool
}

// Node executes one agent reasoning step. Implementations must respect ctx
// cancellation and never retain the passed state beyond the call.
type Node interface {
	ID() string
	Invoke(ctx context.Context, state *State) (*Result, error)
}

// FuncNode adapts a plain function into a Node.
type FuncNode struct {
	id string
	fn func(ctx context.Context, state *State) (*Result, error)
}

// NewFuncNode constructs a FuncNode.
func NewFuncNode(id string, fn func(ctx context.Context, state *State) (*Result, error)) *FuncNode {
	return &FuncNode{id: id, fn: fn}
}

// ID implements Node.
func (n *FuncNode) ID() string { return n.id }

// Invoke implements Node.
func (n *FuncNode) Invoke(ctx context.Context, state *State) (*Result, error) {
	return n.fn(ctx, state)
}

// Graph is a directed set of nodes with static edges and an entry point.
// Construction is not safe for concurrent use; a built graph is immutable
// and safe to run concurrently for different executions.
type Graph struct {
	entry string
	nodes map[string]Node
	edges map[string]string
}

// NewGraph constructs a graph starting at the entry node id.
func NewGraph(entry string) *Graph {
	return &Graph{
		entry: entry,
		nodes: make(map[string]Node),
		edges: make(map[string]string),
	}
}

// AddNode registers a node under its id.
func (g *Graph) AddNode(n Node) *Graph {
	g.nodes[n.ID()] = n
	return g
}

// AddEdge declares the static successor of a node.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

// Node returns the node registered under id.
func (g *Graph) Node(id string) (Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("graph: node %s not found", id)
	}
	return n, nil
}

// next resolves the follow-up node id for a completed step. An empty return
// ends the run.
func (g *Graph) next(from string, res *Result) string {
	if res.Done {
		return ""
	}
	if res.Next != "" {
		return res.Next
	}
	return g.edges[from]
}
