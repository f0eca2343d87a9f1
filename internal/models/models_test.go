package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryListsAllModels(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"decay", "fhn", "hh"}, r.List())

	_, err := r.Get("nonexistent")
	assert.Error(t, err)
}

func TestAllModelsValidate(t *testing.T) {
	r := NewRegistry()
	for _, name := range r.List() {
		t.Run(name, func(t *testing.T) {
			m, err := r.Get(name)
			require.NoError(t, err)
			require.NoError(t, m.Validate())
			assert.Equal(t, m.NStates(), len(m.Initial))
			for _, g := range m.JacobianExprs() {
				require.NotNil(t, g)
			}
		})
	}
}

func TestDecayDerivative(t *testing.T) {
	m := NewDecay()
	require.Equal(t, 1, m.NStates())

	got := m.RHS[0].Eval([]float64{2}, 0, 0)
	assert.InDelta(t, -1.0, got, 1e-15)

	got = m.RHS[0].Eval([]float64{2}, 0, 0.25)
	assert.InDelta(t, -0.75, got, 1e-15)
}

func TestFitzHughNagumoRestingState(t *testing.T) {
	m := NewFitzHughNagumo()
	for i, g := range m.RHS {
		d := g.Eval(m.Initial, 0, 0)
		assert.InDelta(t, 0, d, 1e-3, "state %s should be near equilibrium", m.States[i])
	}
}

func TestHodgkinHuxleyRestingState(t *testing.T) {
	m := NewHodgkinHuxley()

	dv := m.RHS[0].Eval(m.Initial, 0, 0)
	assert.InDelta(t, 0, dv, 0.05, "membrane potential should be near rest")
	for i := 1; i < 4; i++ {
		d := m.RHS[i].Eval(m.Initial, 0, 0)
		assert.InDelta(t, 0, d, 0.01, "gate %s should be near steady state", m.States[i])
	}
}

func TestHodgkinHuxleyStimulusDepolarizes(t *testing.T) {
	m := NewHodgkinHuxley()

	rest := m.RHS[0].Eval(m.Initial, 0, 0)
	stim := m.RHS[0].Eval(m.Initial, 0, 20)
	assert.Greater(t, stim, rest+19.0, "20 uA/cm² into 1 uF/cm² adds 20 mV/ms")
}

func TestJacobianMatchesFiniteDifference(t *testing.T) {
	m := NewFitzHughNagumo()
	jac := m.JacobianExprs()
	n := m.NStates()

	y := []float64{-0.8, 0.1}
	const eps = 1e-7
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			yp := append([]float64(nil), y...)
			yp[j] += eps
			fd := (m.RHS[i].Eval(yp, 0, 0) - m.RHS[i].Eval(y, 0, 0)) / eps
			an := jac[i*n+j].Eval(y, 0, 0)
			assert.InDelta(t, fd, an, 1e-5, "d f%d / d y%d", i, j)
		}
	}
}

func TestModelValidateCatchesMismatch(t *testing.T) {
	m := NewDecay()
	m.Initial = []float64{1, 2}
	assert.Error(t, m.Validate())

	m = NewDecay()
	m.Outputs = []string{"x"}
	assert.Error(t, m.Validate())
}

func TestHodgkinHuxleyOutputsFinite(t *testing.T) {
	m := NewHodgkinHuxley()
	for i, g := range m.OutputExprs {
		v := g.Eval(m.Initial, 0, 0)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "output %s", m.Outputs[i])
	}
}
