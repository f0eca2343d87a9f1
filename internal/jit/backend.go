// Package jit lowers expression graphs to flat programs that evaluate a
// model right-hand side without walking the tree on every call.
//
// Code generation sits behind the narrow [Backend] interface so the rest of
// the engine never depends on the lowering technology. The default backend
// compiles each graph to a linear instruction tape with value-numbering CSE
// and constant folding; a native code generator can be registered in its
// place without touching any caller.
package jit

import (
	"sync"

	"github.com/epsimlab/epsim/internal/expr"
)

// Backend turns validated expression graphs into an executable Program.
type Backend interface {
	Name() string
	Available() bool
	Lower(graphs []*expr.Node, nStates int) (Program, error)
}

// Program is compiled, immutable evaluation code. Implementations must be
// safe for concurrent use: a compiled model is shared read-only between
// independent simulation runs.
type Program interface {
	// Run writes one value per compiled graph into out, in graph order.
	Run(state []float64, t, input float64, out []float64)
}

var (
	initOnce      sync.Once
	backendMu     sync.Mutex
	activeBackend Backend
)

// Initialize performs the process-wide one-time backend setup. Safe to call
// any number of times; only the first call does work.
func Initialize() {
	initOnce.Do(func() {
		backendMu.Lock()
		defer backendMu.Unlock()
		if activeBackend == nil {
			activeBackend = autoSelect()
		}
	})
}

// SetBackend overrides the active code-generation backend. Intended for
// tests and for wiring in an alternative generator.
func SetBackend(b Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	activeBackend = b
}

// ActiveBackend returns the backend Compile will use, initializing on first
// use.
func ActiveBackend() Backend {
	Initialize()
	backendMu.Lock()
	defer backendMu.Unlock()
	return activeBackend
}

func autoSelect() Backend {
	tape := newTapeBackend()
	if tape.Available() {
		return tape
	}
	return nil
}
