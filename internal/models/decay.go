package models

import "github.com/epsimlab/epsim/internal/expr"

// NewDecay returns a single-state exponential decay, dy/dt = -k*y + pace.
// Its closed-form solution makes it the calibration model for tolerance
// checks.
func NewDecay() *Model {
	k := 0.5
	y := expr.State(0)
	return &Model{
		Name:        "decay",
		Description: "exponential decay dy/dt = -k*y (k=0.5)",
		States:      []string{"decay.y"},
		Initial:     []float64{1.0},
		RHS: []*expr.Node{
			expr.Add(expr.Mul(expr.Const(-k), y), expr.Input()),
		},
	}
}
