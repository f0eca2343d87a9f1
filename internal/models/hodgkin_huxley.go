package models

import (
	"github.com/epsimlab/epsim/internal/expr"
	"github.com/epsimlab/epsim/internal/protocol"
)

// NewHodgkinHuxley returns the 1952 squid giant axon model in its modern
// shifted-potential form. States are the membrane potential V (mV) and the
// sodium activation m, sodium inactivation h and potassium activation n
// gates. Pacing input is a current density in uA/cm².
func NewHodgkinHuxley() *Model {
	const (
		cm  = 1.0   // uF/cm²
		gNa = 120.0 // mS/cm²
		gK  = 36.0
		gL  = 0.3
		eNa = 50.0 // mV
		eK  = -77.0
		eL  = -54.387
	)

	v := expr.State(0)
	m := expr.State(1)
	h := expr.State(2)
	n := expr.State(3)

	c := expr.Const
	// vexp(a, b) builds exp((V+a)/b).
	vexp := func(a, b float64) *expr.Node {
		return expr.Exp(expr.Div(expr.Add(v, c(a)), c(b)))
	}

	// Gate rate constants (1/ms).
	alphaM := expr.Div(
		expr.Mul(c(0.1), expr.Add(v, c(40))),
		expr.Sub(c(1), vexp(40, -10)),
	)
	betaM := expr.Mul(c(4), vexp(65, -18))
	alphaH := expr.Mul(c(0.07), vexp(65, -20))
	betaH := expr.Div(c(1), expr.Add(c(1), vexp(35, -10)))
	alphaN := expr.Div(
		expr.Mul(c(0.01), expr.Add(v, c(55))),
		expr.Sub(c(1), vexp(55, -10)),
	)
	betaN := expr.Mul(c(0.125), vexp(65, -80))

	// Membrane currents.
	iNa := expr.Mul(
		expr.Mul(c(gNa), expr.Mul(expr.Mul(m, expr.Mul(m, m)), h)),
		expr.Sub(v, c(eNa)),
	)
	iK := expr.Mul(
		expr.Mul(c(gK), expr.Mul(expr.Mul(n, n), expr.Mul(n, n))),
		expr.Sub(v, c(eK)),
	)
	iL := expr.Mul(c(gL), expr.Sub(v, c(eL)))

	dv := expr.Div(
		expr.Sub(expr.Input(), expr.Add(iNa, expr.Add(iK, iL))),
		c(cm),
	)
	gate := func(alpha, beta, g *expr.Node) *expr.Node {
		return expr.Sub(expr.Mul(alpha, expr.Sub(c(1), g)), expr.Mul(beta, g))
	}

	return &Model{
		Name:        "hh",
		Description: "Hodgkin-Huxley squid giant axon (1952)",
		States:      []string{"membrane.V", "ina.m", "ina.h", "ik.n"},
		Initial:     []float64{-65.0, 0.0529, 0.5961, 0.3177},
		RHS: []*expr.Node{
			dv,
			gate(alphaM, betaM, m),
			gate(alphaH, betaH, h),
			gate(alphaN, betaN, n),
		},
		Outputs:     []string{"ina.INa", "ik.IK", "ileak.IL"},
		OutputExprs: []*expr.Node{iNa, iK, iL},
		DefaultProtocol: []protocol.Event{
			{Start: 5, Duration: 1, Level: 40, Period: 50},
		},
	}
}
