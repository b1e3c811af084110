// Package agent defines agent identities, definitions and the directory used
// to resolve delegation targets. Lookup is typed end to end: AgentID keys the
// directory and an unresolvable id yields core.ErrUnknownAgent rather than an
// untyped miss.
package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/tool"
)

// ID identifies an agent in the directory.
type ID string

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Definition describes a runnable agent: the model that drives its reasoning
// steps, its instructions, its tool set, and the agents it may delegate to.
// Definitions are immutable after registration.
type Definition struct {
	ID           ID
	Name         string
	Description  string
	Instructions string
	Model        model.Model
	Tools        []tool.Tool
	// Delegates lists agent ids this agent may hand work off to. An empty
	// list disables the built-in delegation tool for this agent.
	Delegates []ID
}

// Validate checks structural completeness of the definition.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("definition is nil")
	}
	if d.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if d.Model == nil {
		return fmt.Errorf("agent %s: model is required", d.ID)
	}
	return nil
}

// Directory resolves agent ids to definitions. It covers statically
// configured main agents and dynamically registered sub-agents; registration
// and lookup are safe for concurrent use.
type Directory struct {
	mu   sync.RWMutex
	defs map[ID]*Definition
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{defs: make(map[ID]*Definition)}
}

// Register adds (or replaces) a definition. Dynamic sub-agents use the same
// path as statically configured agents.
func (d *Directory) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs[def.ID] = def
	return nil
}

// Resolve returns the definition for id or an error wrapping
// core.ErrUnknownAgent.
func (d *Directory) Resolve(id ID) (*Definition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownAgent, id)
	}
	return def, nil
}

// Deregister removes a definition, reporting whether it existed.
func (d *Directory) Deregister(id ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.defs[id]; !ok {
		return false
	}
	delete(d.defs, id)
	return true
}

// List returns all registered definitions ordered by id.
func (d *Directory) List() []*Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Definition, 0, len(d.defs))
	for _, def := range d.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
