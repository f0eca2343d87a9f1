// Package engine orchestrates a paced simulation run: it compiles a model
// to a kernel, drives the solver between stimulus boundaries and sample
// times, and collects the logged trace.
package engine

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/epsimlab/epsim/internal/jit"
	"github.com/epsimlab/epsim/internal/models"
	"github.com/epsimlab/epsim/internal/protocol"
	"github.com/epsimlab/epsim/internal/solver"
	"github.com/epsimlab/epsim/internal/trace"
)

// SessionFactory builds the solver session a simulation runs on. The
// default produces the BDF integrator; tests substitute other sessions.
type SessionFactory func(rhs solver.RHS, jac solver.Jacobian, n int) solver.Session

// Config assembles a simulation.
type Config struct {
	Model  *models.Model
	Events []protocol.Event // nil = model default protocol
	Solver solver.Options

	// SymbolicJacobian compiles the analytic Jacobian from the model's
	// derivative graphs instead of finite differences.
	SymbolicJacobian bool

	Sessions SessionFactory // nil = BDF
	Logger   *logrus.Logger // nil = standard logger
}

// Simulation is a stateful run driver. Time and state persist across Run
// calls, so pacing can be continued in segments. A Simulation is not safe
// for concurrent use; parallel work uses one Simulation per goroutine.
type Simulation struct {
	model   *models.Model
	kernel  *jit.Kernel
	outKern *jit.Kernel
	jacKern *jit.Kernel
	proto   *protocol.Protocol
	opts    solver.Options
	newSess SessionFactory
	log     *logrus.Logger

	t float64
	y []float64

	// reinitHook observes every solver restart at a stimulus boundary.
	reinitHook func(t float64)
}

// New compiles the model and validates the protocol.
func New(cfg Config) (*Simulation, error) {
	jit.Initialize()

	m := cfg.Model
	if err := m.Validate(); err != nil {
		return nil, err
	}

	kernel, err := jit.Compile(m.RHS, m.NStates())
	if err != nil {
		return nil, err
	}

	var outKern *jit.Kernel
	if len(m.OutputExprs) > 0 {
		if outKern, err = jit.Compile(m.OutputExprs, m.NStates()); err != nil {
			return nil, err
		}
	}

	var jacKern *jit.Kernel
	if cfg.SymbolicJacobian {
		if jacKern, err = jit.Compile(m.JacobianExprs(), m.NStates()); err != nil {
			return nil, err
		}
	}

	events := cfg.Events
	if events == nil {
		events = m.DefaultProtocol
	}
	proto, err := protocol.New(events)
	if err != nil {
		return nil, err
	}

	opts := cfg.Solver
	if opts.RelTol == 0 && opts.AbsTol == 0 && opts.AbsVec == nil {
		opts = solver.DefaultOptions()
	}

	factory := cfg.Sessions
	if factory == nil {
		factory = func(rhs solver.RHS, jac solver.Jacobian, n int) solver.Session {
			return solver.NewBDF(rhs, jac, n)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Simulation{
		model:   m,
		kernel:  kernel,
		outKern: outKern,
		jacKern: jacKern,
		proto:   proto,
		opts:    opts,
		newSess: factory,
		log:     logger,
		t:       0,
		y:       append([]float64(nil), m.Initial...),
	}, nil
}

// Time returns the current simulation time.
func (s *Simulation) Time() float64 { return s.t }

// State returns a copy of the current state.
func (s *Simulation) State() []float64 { return append([]float64(nil), s.y...) }

// Reset returns time and state to the model's initial conditions.
func (s *Simulation) Reset() {
	s.t = 0
	copy(s.y, s.model.Initial)
}

// SetState overrides the current time and state.
func (s *Simulation) SetState(t float64, y []float64) {
	s.t = t
	copy(s.y, y)
}

// OnReinit installs an observer called at every solver restart caused by a
// stimulus boundary.
func (s *Simulation) OnReinit(fn func(t float64)) { s.reinitHook = fn }

// Columns returns the logged column names: all states followed by the
// model's derived outputs.
func (s *Simulation) Columns() []string {
	cols := append([]string(nil), s.model.States...)
	return append(cols, s.model.Outputs...)
}

func (s *Simulation) rhs(t float64, y []float64, input float64, dy []float64) error {
	return s.kernel.Eval(y, t, input, dy)
}

// Run integrates for the given duration, logging at the sampler's times.
// A nil sampler logs nothing. On failure or cancellation the partial trace
// collected so far is attached to the returned error.
func (s *Simulation) Run(ctx context.Context, duration float64, sampler trace.Sampler) (*trace.Log, error) {
	if duration <= 0 {
		return nil, &RunError{Time: s.t, Err: errNonPositiveDuration}
	}

	log, err := trace.New(s.Columns())
	if err != nil {
		return nil, err
	}

	var jac solver.Jacobian
	if s.jacKern != nil {
		jac = func(t float64, y []float64, input float64, m []float64) error {
			return s.jacKern.Eval(y, t, input, m)
		}
	}

	sess := s.newSess(s.rhs, jac, s.model.NStates())
	defer sess.Close()

	tend := s.t + duration
	if err := sess.Init(s.y, s.t, s.opts); err != nil {
		return nil, &RunError{Time: s.t, Partial: log, Err: err}
	}
	sess.SetStopTime(tend)
	sess.SetInput(s.proto.LevelAt(s.t))

	s.log.WithFields(logrus.Fields{
		"model":    s.model.Name,
		"duration": duration,
		"t0":       s.t,
	}).Debug("run started")

	// Prime the sample schedule; points at or before the start time are
	// either logged immediately (exactly at t0) or skipped.
	nextSample, haveSample := math.Inf(-1), false
	if sampler != nil {
		nextSample, haveSample = sampler.Next(math.Inf(-1))
		for haveSample && nextSample < s.t {
			nextSample, haveSample = sampler.Next(nextSample)
		}
		if haveSample && nextSample == s.t {
			if err := s.logRow(log); err != nil {
				return log, err
			}
			nextSample, haveSample = sampler.Next(nextSample)
		}
	}

	for s.t < tend {
		select {
		case <-ctx.Done():
			return log, &RunError{Time: s.t, Partial: log, Err: ctx.Err()}
		default:
		}

		target := tend
		if haveSample && nextSample < target {
			target = nextSample
		}
		boundary, haveBoundary := s.proto.NextBoundary(s.t)
		if haveBoundary && boundary < target {
			target = boundary
		}

		reached, err := sess.AdvanceTo(target)
		s.t = reached
		copy(s.y, sess.State())
		if err != nil {
			return log, &RunError{Time: s.t, Partial: log, Err: err}
		}
		if reached > target {
			return log, &RunError{Time: s.t, Partial: log,
				Err: &BoundaryError{Boundary: target, Reached: reached}}
		}
		if reached < target {
			// A root stop is the only legitimate early return.
			if _, hit := sess.RootFound(); !hit {
				return log, &RunError{Time: s.t, Partial: log,
					Err: &BoundaryError{Boundary: target, Reached: reached}}
			}
			break
		}

		if haveSample && s.t == nextSample {
			if err := s.logRow(log); err != nil {
				return log, err
			}
			nextSample, haveSample = sampler.Next(nextSample)
		}
		if haveBoundary && s.t == boundary {
			level := s.proto.LevelAt(s.t)
			sess.SetInput(level)
			if err := sess.ReinitAt(s.t, s.y); err != nil {
				return log, &RunError{Time: s.t, Partial: log, Err: err}
			}
			if s.reinitHook != nil {
				s.reinitHook(s.t)
			}
			s.log.WithFields(logrus.Fields{
				"t":     s.t,
				"level": level,
			}).Debug("stimulus boundary")
		}
	}

	st := sess.Stats()
	s.log.WithFields(logrus.Fields{
		"model":   s.model.Name,
		"t":       s.t,
		"steps":   st.Steps,
		"reinits": st.Reinits,
		"samples": log.Len(),
	}).Info("run complete")
	return log, nil
}

// logRow evaluates the derived outputs and appends one sample at the
// current time.
func (s *Simulation) logRow(log *trace.Log) error {
	n := s.model.NStates()
	row := make([]float64, n+len(s.model.Outputs))
	copy(row, s.y)
	if s.outKern != nil {
		if err := s.outKern.Eval(s.y, s.t, s.proto.LevelAt(s.t), row[n:]); err != nil {
			return err
		}
	}
	return log.Append(s.t, row)
}
