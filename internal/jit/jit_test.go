package jit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epsimlab/epsim/internal/expr"
)

func TestCompileMatchesSymbolicEval(t *testing.T) {
	// dv/dt = -(v - rest)/tau + pace, plus an auxiliary output exp(-v/25)
	v := expr.State(0)
	rhs := expr.Add(
		expr.Div(expr.Neg(expr.Sub(v, expr.Const(-85))), expr.Const(12.0)),
		expr.Input(),
	)
	aux := expr.Exp(expr.Div(expr.Neg(v), expr.Const(25)))

	kernel, err := Compile([]*expr.Node{rhs, aux}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, kernel.NStates())
	assert.Equal(t, 2, kernel.NOutputs())

	states := [][]float64{{0}, {-85}, {40}, {-120.5}}
	for _, st := range states {
		out := make([]float64, 2)
		require.NoError(t, kernel.Eval(st, 3.0, 0.5, out))
		assert.InDelta(t, rhs.Eval(st, 3.0, 0.5), out[0], 1e-15)
		assert.InDelta(t, aux.Eval(st, 3.0, 0.5), out[1], 1e-15)
	}
}

func TestCompileZeroStateEval(t *testing.T) {
	graphs := []*expr.Node{
		expr.Mul(expr.Const(-0.5), expr.State(0)),
		expr.Sub(expr.State(1), expr.State(0)),
	}
	kernel, err := Compile(graphs, 2)
	require.NoError(t, err)

	out := make([]float64, 2)
	require.NoError(t, kernel.Eval([]float64{0, 0}, 0, 0, out))
	assert.Equal(t, 0.0, out[0])
	assert.Equal(t, 0.0, out[1])
}

func TestCompileRejectsOutOfRangeState(t *testing.T) {
	g := expr.Mul(expr.Const(2), expr.State(2))

	_, err := Compile([]*expr.Node{g}, 2)
	require.Error(t, err)

	var ce *CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestCompileRejectsCycle(t *testing.T) {
	a := expr.Add(expr.State(0), nil)
	a.Y = a

	_, err := Compile([]*expr.Node{a}, 1)
	require.Error(t, err)

	var ce *CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestCompileRejectsEmpty(t *testing.T) {
	_, err := Compile(nil, 1)
	require.Error(t, err)
}

func TestKernelArityGuard(t *testing.T) {
	g := expr.State(0)
	kernel, err := Compile([]*expr.Node{g}, 1)
	require.NoError(t, err)

	out := make([]float64, 1)
	assert.Error(t, kernel.Eval([]float64{1, 2}, 0, 0, out), "wrong state length must be rejected")
	assert.Error(t, kernel.Eval([]float64{1}, 0, 0, make([]float64, 2)), "wrong output length must be rejected")
	assert.NoError(t, kernel.Eval([]float64{1}, 0, 0, out))
}

func TestKernelNaNPassThrough(t *testing.T) {
	g := expr.Log(expr.State(0))
	kernel, err := Compile([]*expr.Node{g}, 1)
	require.NoError(t, err)

	out := make([]float64, 1)
	require.NoError(t, kernel.Eval([]float64{-1}, 0, 0, out))
	assert.True(t, math.IsNaN(out[0]))

	require.NoError(t, kernel.Eval([]float64{0}, 0, 0, out))
	assert.True(t, math.IsInf(out[0], -1))
}

func TestSharedSubexpressionsLoweredOnce(t *testing.T) {
	// Both outputs use the same subexpression through different node
	// pointers; value numbering should still merge them.
	mk := func() *expr.Node { return expr.Exp(expr.Mul(expr.Const(-2), expr.State(0))) }
	g1 := expr.Add(mk(), expr.Const(1))
	g2 := expr.Mul(mk(), expr.Const(3))

	backend := newTapeBackend()
	prog, err := backend.Lower([]*expr.Node{g1, g2}, 1)
	require.NoError(t, err)

	tape := prog.(*tapeProgram)
	expCount := 0
	for _, in := range tape.code {
		if in.op == opExp {
			expCount++
		}
	}
	assert.Equal(t, 1, expCount, "identical subexpressions should share one exp instruction")
}

func TestConstantFolding(t *testing.T) {
	// (2*3) + y0 should fold the product at compile time.
	g := expr.Add(expr.Mul(expr.Const(2), expr.Const(3)), expr.State(0))

	backend := newTapeBackend()
	prog, err := backend.Lower([]*expr.Node{g}, 1)
	require.NoError(t, err)

	tape := prog.(*tapeProgram)
	for _, in := range tape.code {
		assert.NotEqual(t, opMul, in.op, "constant product should be folded")
	}

	out := make([]float64, 1)
	prog.Run([]float64{4}, 0, 0, out)
	assert.Equal(t, 10.0, out[0])
}

func TestKernelConcurrentEval(t *testing.T) {
	g := expr.Mul(expr.Sin(expr.Time()), expr.State(0))
	kernel, err := Compile([]*expr.Node{g}, 1)
	require.NoError(t, err)

	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func() {
			defer func() { done <- struct{}{} }()
			out := make([]float64, 1)
			for i := 0; i < 1000; i++ {
				tm := float64(i) * 0.01
				if err := kernel.Eval([]float64{2}, tm, 0, out); err != nil {
					t.Error(err)
					return
				}
				want := math.Sin(tm) * 2
				if math.Abs(out[0]-want) > 1e-15 {
					t.Errorf("concurrent eval mismatch at t=%f", tm)
					return
				}
			}
		}()
	}
	for w := 0; w < 8; w++ {
		<-done
	}
}
