package models

import (
	"github.com/epsimlab/epsim/internal/expr"
	"github.com/epsimlab/epsim/internal/protocol"
)

// NewFitzHughNagumo returns the two-variable FitzHugh-Nagumo excitable
// cell:
//
//	dv/dt = v - v³/3 - w + pace
//	dw/dt = eps*(v + a - b*w)
//
// with the classic parameters a=0.7, b=0.8, eps=0.08. The initial state is
// the resting equilibrium for zero input.
func NewFitzHughNagumo() *Model {
	const (
		a   = 0.7
		b   = 0.8
		eps = 0.08
	)
	v := expr.State(0)
	w := expr.State(1)

	dv := expr.Add(
		expr.Sub(
			expr.Sub(v, expr.Div(expr.Mul(v, expr.Mul(v, v)), expr.Const(3))),
			w,
		),
		expr.Input(),
	)
	dw := expr.Mul(expr.Const(eps),
		expr.Sub(expr.Add(v, expr.Const(a)), expr.Mul(expr.Const(b), w)))

	return &Model{
		Name:        "fhn",
		Description: "FitzHugh-Nagumo excitable cell",
		States:      []string{"membrane.v", "recovery.w"},
		Initial:     []float64{-1.1994, -0.6243},
		RHS:         []*expr.Node{dv, dw},
		DefaultProtocol: []protocol.Event{
			{Start: 10, Duration: 2, Level: 0.5, Period: 100},
		},
	}
}
