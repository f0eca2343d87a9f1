// Package models provides built-in electrophysiology models expressed as
// derivative graphs, plus a name-based registry for the CLI.
package models

import (
	"fmt"
	"sort"

	"github.com/epsimlab/epsim/internal/expr"
	"github.com/epsimlab/epsim/internal/protocol"
)

// Model is a complete ODE system definition: one derivative graph per
// state, initial conditions, and a default pacing protocol. Graphs refer
// to states by index; States gives the matching display names.
type Model struct {
	Name        string
	Description string
	States      []string
	Initial     []float64
	RHS         []*expr.Node

	// Extra logged quantities computed from the state, such as currents.
	Outputs     []string
	OutputExprs []*expr.Node

	// DefaultProtocol is the pacing applied when the run does not
	// specify its own events. Empty means unpaced.
	DefaultProtocol []protocol.Event
}

// NStates returns the system size.
func (m *Model) NStates() int { return len(m.States) }

// Validate checks internal consistency and that every graph is well formed.
func (m *Model) Validate() error {
	n := m.NStates()
	if len(m.Initial) != n || len(m.RHS) != n {
		return fmt.Errorf("model %s: %d states, %d initial values, %d derivatives",
			m.Name, n, len(m.Initial), len(m.RHS))
	}
	if len(m.Outputs) != len(m.OutputExprs) {
		return fmt.Errorf("model %s: %d output names, %d output expressions",
			m.Name, len(m.Outputs), len(m.OutputExprs))
	}
	for i, g := range m.RHS {
		if err := expr.Validate(g, n); err != nil {
			return fmt.Errorf("model %s: derivative of %s: %w", m.Name, m.States[i], err)
		}
	}
	for i, g := range m.OutputExprs {
		if err := expr.Validate(g, n); err != nil {
			return fmt.Errorf("model %s: output %s: %w", m.Name, m.Outputs[i], err)
		}
	}
	return nil
}

// JacobianExprs differentiates every derivative graph with respect to every
// state, returning the row-major n x n symbolic Jacobian.
func (m *Model) JacobianExprs() []*expr.Node {
	n := m.NStates()
	out := make([]*expr.Node, 0, n*n)
	for _, g := range m.RHS {
		for j := 0; j < n; j++ {
			out = append(out, expr.Diff(g, j))
		}
	}
	return out
}

// Registry maps model names to constructors.
type Registry struct {
	models map[string]func() *Model
}

// NewRegistry returns a registry with all built-in models.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]func() *Model)}
	r.models["decay"] = NewDecay
	r.models["fhn"] = NewFitzHughNagumo
	r.models["hh"] = NewHodgkinHuxley
	return r
}

// Get returns a fresh instance of the named model.
func (r *Registry) Get(name string) (*Model, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return fn(), nil
}

// List returns the registered model names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
