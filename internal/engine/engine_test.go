package engine

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epsimlab/epsim/internal/models"
	"github.com/epsimlab/epsim/internal/protocol"
	"github.com/epsimlab/epsim/internal/solver"
	"github.com/epsimlab/epsim/internal/trace"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.WarnLevel)
	os.Exit(m.Run())
}

func mustSampler(t *testing.T, tmin, tmax, interval float64) trace.Sampler {
	t.Helper()
	s, err := trace.NewPeriodicSampler(tmin, tmax, interval)
	require.NoError(t, err)
	return s
}

func TestRunDecayMatchesClosedForm(t *testing.T) {
	sim, err := New(Config{Model: models.NewDecay()})
	require.NoError(t, err)

	log, err := sim.Run(context.Background(), 10, mustSampler(t, 0, 10, 1))
	require.NoError(t, err)
	require.Equal(t, 10, log.Len())

	col, ok := log.Column("decay.y")
	require.True(t, ok)
	for i, tm := range log.Times() {
		want := math.Exp(-0.5 * tm)
		assert.InDelta(t, want, col[i], 1e-3, "sample %d at t=%g", i, tm)
	}
}

func TestRunReinitsAtEveryBoundary(t *testing.T) {
	sim, err := New(Config{
		Model: models.NewDecay(),
		Events: []protocol.Event{
			{Start: 2, Duration: 1, Level: 1},
			{Start: 5, Duration: 2, Level: 1},
		},
	})
	require.NoError(t, err)

	var boundaries []float64
	sim.OnReinit(func(tm float64) { boundaries = append(boundaries, tm) })

	_, err = sim.Run(context.Background(), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 5, 7}, boundaries)
}

func TestRunStimulusDrivesState(t *testing.T) {
	// dy/dt = -0.5y + u with u=2 on [1, 3): the state must rise during
	// the stimulus and decay after it.
	sim, err := New(Config{
		Model:  models.NewDecay(),
		Events: []protocol.Event{{Start: 1, Duration: 2, Level: 2}},
	})
	require.NoError(t, err)

	log, err := sim.Run(context.Background(), 6, mustSampler(t, 0, 6, 0.5))
	require.NoError(t, err)

	col, _ := log.Column("decay.y")
	times := log.Times()
	at := func(want float64) float64 {
		for i, tm := range times {
			if tm == want {
				return col[i]
			}
		}
		t.Fatalf("no sample at t=%g", want)
		return 0
	}
	assert.Less(t, at(1), at(2.5), "state rises while the stimulus is on")
	assert.Greater(t, at(3), at(5.5), "state decays after the stimulus")
}

func TestRunDeterministic(t *testing.T) {
	run := func() *trace.Log {
		sim, err := New(Config{Model: models.NewFitzHughNagumo()})
		require.NoError(t, err)
		log, err := sim.Run(context.Background(), 100, mustSampler(t, 0, 100, 5))
		require.NoError(t, err)
		return log
	}

	a, b := run(), run()
	require.Equal(t, a.Len(), b.Len())
	assert.Equal(t, a.Times(), b.Times())
	for _, name := range a.Names() {
		ca, _ := a.Column(name)
		cb, _ := b.Column(name)
		assert.Equal(t, ca, cb, "column %s must be bit-identical", name)
	}
}

// cancellingSampler cancels the run's context after delivering a fixed
// number of sample times.
type cancellingSampler struct {
	inner  trace.Sampler
	cancel context.CancelFunc
	left   int
}

func (c *cancellingSampler) Next(t float64) (float64, bool) {
	if c.left <= 0 {
		c.cancel()
	}
	c.left--
	return c.inner.Next(t)
}

func TestRunCancellationKeepsPrefix(t *testing.T) {
	cfg := Config{Model: models.NewFitzHughNagumo()}

	full, err := New(cfg)
	require.NoError(t, err)
	want, err := full.Run(context.Background(), 50, mustSampler(t, 0, 50, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sim, err := New(cfg)
	require.NoError(t, err)
	cs := &cancellingSampler{inner: mustSampler(t, 0, 50, 2), cancel: cancel, left: 5}

	_, err = sim.Run(ctx, 50, cs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	var re *RunError
	require.ErrorAs(t, err, &re)
	require.NotNil(t, re.Partial)
	got := re.Partial
	require.Greater(t, got.Len(), 0)
	require.Less(t, got.Len(), want.Len())

	// The partial trace is a prefix of the uncancelled run.
	assert.Equal(t, want.Times()[:got.Len()], got.Times())
	wv, _ := want.Column("membrane.v")
	gv, _ := got.Column("membrane.v")
	assert.Equal(t, wv[:got.Len()], gv)
}

func TestRunFailureAttachesPartialTrace(t *testing.T) {
	// An RK4 session with an enormous step blows up the stiff gate
	// equations almost immediately.
	sim, err := New(Config{
		Model: models.NewHodgkinHuxley(),
		Sessions: func(rhs solver.RHS, jac solver.Jacobian, n int) solver.Session {
			return solver.NewRK4(failingRHS(rhs), n, 1)
		},
	})
	require.NoError(t, err)

	_, err = sim.Run(context.Background(), 100, mustSampler(t, 0, 100, 1))
	require.Error(t, err)

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.NotNil(t, re.Partial)
}

// failingRHS rejects non-finite states so the blow-up surfaces as an error
// instead of NaNs in the log.
func failingRHS(rhs solver.RHS) solver.RHS {
	return func(t float64, y []float64, input float64, dy []float64) error {
		for _, v := range y {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.New("state diverged")
			}
		}
		return rhs(t, y, input, dy)
	}
}

func TestRunWithInjectedRK4Session(t *testing.T) {
	sim, err := New(Config{
		Model: models.NewDecay(),
		Sessions: func(rhs solver.RHS, jac solver.Jacobian, n int) solver.Session {
			return solver.NewRK4(rhs, n, 0.001)
		},
	})
	require.NoError(t, err)

	log, err := sim.Run(context.Background(), 4, mustSampler(t, 0, 4, 1))
	require.NoError(t, err)

	col, _ := log.Column("decay.y")
	for i, tm := range log.Times() {
		assert.InDelta(t, math.Exp(-0.5*tm), col[i], 1e-6, "sample %d", i)
	}
}

func TestRunSymbolicJacobian(t *testing.T) {
	sim, err := New(Config{Model: models.NewFitzHughNagumo(), SymbolicJacobian: true})
	require.NoError(t, err)

	log, err := sim.Run(context.Background(), 50, mustSampler(t, 0, 50, 5))
	require.NoError(t, err)

	col, _ := log.Column("membrane.v")
	for i, v := range col {
		assert.False(t, math.IsNaN(v), "sample %d", i)
	}
}

func TestRunStatePersistsAcrossSegments(t *testing.T) {
	sim, err := New(Config{Model: models.NewDecay()})
	require.NoError(t, err)

	_, err = sim.Run(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, sim.Time())
	mid := sim.State()[0]

	_, err = sim.Run(context.Background(), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, sim.Time())
	assert.Less(t, sim.State()[0], mid)

	sim.Reset()
	assert.Equal(t, 0.0, sim.Time())
	assert.Equal(t, 1.0, sim.State()[0])
}

func TestRunRejectsNonPositiveDuration(t *testing.T) {
	sim, err := New(Config{Model: models.NewDecay()})
	require.NoError(t, err)

	_, err = sim.Run(context.Background(), 0, nil)
	assert.Error(t, err)
	_, err = sim.Run(context.Background(), -1, nil)
	assert.Error(t, err)
}

func TestRunLogsOutputColumns(t *testing.T) {
	sim, err := New(Config{Model: models.NewHodgkinHuxley()})
	require.NoError(t, err)

	log, err := sim.Run(context.Background(), 30, mustSampler(t, 0, 30, 0.5))
	require.NoError(t, err)

	for _, name := range []string{"membrane.V", "ina.INa", "ik.IK", "ileak.IL"} {
		col, ok := log.Column(name)
		require.True(t, ok, "column %s", name)
		assert.Equal(t, log.Len(), len(col))
	}

	// Default pacing at t=5 must trigger an action potential: the
	// membrane crosses 0 mV somewhere in the trace.
	v, _ := log.Column("membrane.V")
	peak := math.Inf(-1)
	for _, x := range v {
		peak = math.Max(peak, x)
	}
	assert.Greater(t, peak, 0.0, "expected an action potential upstroke")
}

func TestSweepRunsAllTolerances(t *testing.T) {
	sweep := NewSweep(Config{Model: models.NewDecay()}, []solver.Options{
		{RelTol: 1e-3, AbsTol: 1e-5},
		{RelTol: 1e-5, AbsTol: 1e-8},
	})

	logs, err := sweep.Run(context.Background(), 5, mustSampler(t, 0, 5, 1))
	require.NoError(t, err)
	require.Len(t, logs, 2)

	for i, log := range logs {
		col, _ := log.Column("decay.y")
		for j, tm := range log.Times() {
			assert.InDelta(t, math.Exp(-0.5*tm), col[j], 1e-2, "sweep %d sample %d", i, j)
		}
	}
}
