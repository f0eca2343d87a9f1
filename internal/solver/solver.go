// Package solver integrates stiff ODE systems under error control.
//
// The integrator is used through the [Session] capability interface:
// the production implementation is a variable-step, variable-order BDF
// method with modified-Newton iteration ([NewBDF]); a fixed-step explicit
// session ([NewRK4]) exists for non-stiff problems and for testing the
// orchestration logic without the implicit machinery.
//
// A Session is owned by exactly one simulation run and must not be used
// from more than one goroutine. Independent runs use independent sessions.
package solver

import (
	"errors"
	"fmt"
)

// RHS evaluates the state derivative dy = f(t, y) under the current
// external input level.
type RHS func(t float64, y []float64, input float64, dy []float64) error

// Jacobian fills jac (row-major, n x n) with df_i/dy_j at (t, y).
type Jacobian func(t float64, y []float64, input float64, jac []float64) error

// RootFunc is a scalar event function g(t, y); integration stops where g
// crosses zero.
type RootFunc func(t float64, y []float64) float64

// Phase is the session lifecycle state.
type Phase int

const (
	Uninitialized Phase = iota
	Ready
	Stepping
	Failed
	Finished
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Stepping:
		return "stepping"
	case Failed:
		return "failed"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Options configures tolerances and step bounds for a session.
type Options struct {
	RelTol   float64
	AbsTol   float64   // scalar absolute tolerance
	AbsVec   []float64 // optional per-state absolute tolerance, overrides AbsTol
	MinStep  float64   // step underflow threshold, 0 = default
	MaxStep  float64   // 0 = unbounded
	MaxOrder int       // BDF only, 0 = default (5)
}

const (
	DefaultRelTol = 1e-4
	DefaultAbsTol = 1e-6
)

// DefaultOptions returns the tolerances used when the caller does not
// specify any.
func DefaultOptions() Options {
	return Options{RelTol: DefaultRelTol, AbsTol: DefaultAbsTol}
}

func (o Options) validate(n int) error {
	if o.RelTol <= 0 {
		return fmt.Errorf("relative tolerance must be positive, got %g", o.RelTol)
	}
	if o.AbsVec != nil {
		if len(o.AbsVec) != n {
			return fmt.Errorf("per-state absolute tolerance has %d entries, state has %d", len(o.AbsVec), n)
		}
		for i, a := range o.AbsVec {
			if a <= 0 {
				return fmt.Errorf("absolute tolerance for state %d must be positive, got %g", i, a)
			}
		}
	} else if o.AbsTol <= 0 {
		return fmt.Errorf("absolute tolerance must be positive, got %g", o.AbsTol)
	}
	if o.MinStep < 0 || o.MaxStep < 0 {
		return fmt.Errorf("step bounds must be non-negative")
	}
	return nil
}

// Stats counts the work performed by a session since Init.
type Stats struct {
	Steps       int // accepted internal steps
	Rejected    int // error-test or convergence rejections
	NewtonIters int
	RHSEvals    int
	JacEvals    int
	Reinits     int
}

// Session is the adapter boundary to the underlying integrator.
type Session interface {
	// Init allocates the session for the given initial condition. The
	// session moves to Ready, or fails with an InitError.
	Init(y0 []float64, t0 float64, opts Options) error

	// AdvanceTo integrates from the current time to target, taking as
	// many internal error-controlled steps as needed, never stepping
	// past target or the configured stop time. It returns the time
	// actually reached (target on success, or a root location).
	AdvanceTo(target float64) (float64, error)

	// ReinitAt discards all multistep history and restarts the
	// integrator at (t, y). Required after any discontinuity in the
	// right-hand side, in particular stimulus boundaries.
	ReinitAt(t float64, y []float64) error

	// SetInput sets the external (pacing) input level passed to the RHS
	// for subsequent steps.
	SetInput(level float64)

	// SetStopTime sets a hard upper limit on integration time; reaching
	// it moves the session to Finished.
	SetStopTime(t float64)

	// SetRootFunc installs a scalar stopping condition located to within
	// tol in time. A nil function clears it.
	SetRootFunc(g RootFunc, tol float64)

	// RootFound reports whether the last AdvanceTo stopped on a root,
	// and at what time.
	RootFound() (float64, bool)

	Time() float64
	State() []float64 // live view, valid until the next call
	Phase() Phase
	Stats() Stats

	// Close releases the session's resources. The session cannot be
	// used afterwards.
	Close() error
}

// Fatal step-control failures. Fatal for the run; the caller may retry a
// fresh run with looser tolerances.
var (
	ErrStepTooSmall   = errors.New("solver: step size underflow below minimum threshold")
	ErrNonConvergence = errors.New("solver: corrector iteration repeatedly failed to converge")
	ErrTooManyZero    = errors.New("solver: maximum number of zero-length steps taken")
	ErrClosed         = errors.New("solver: session is closed")
)

// InitError reports a rejected Init: bad tolerances or an initial state
// whose length does not match the kernel arity.
type InitError struct {
	Reason string
}

func (e *InitError) Error() string { return "solver: init: " + e.Reason }

// Error wraps a fatal stepping failure with the internal time at which it
// occurred.
type Error struct {
	Time float64
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%v (at t=%g)", e.Err, e.Time) }

func (e *Error) Unwrap() error { return e.Err }
