package solver

import "math"

// RK4 is a fixed-step explicit Runge-Kutta session. It satisfies the same
// Session interface as the BDF integrator so callers can be exercised
// without the implicit machinery. Not suitable for stiff systems.
type RK4 struct {
	rhs RHS
	n   int
	h   float64

	phase   Phase
	stats   Stats
	failErr error // first fatal error, reported on every later AdvanceTo

	t     float64
	y     []float64
	input float64
	stop  float64

	root     RootFunc
	rootTol  float64
	rootTime float64
	rootHit  bool
	glast    float64

	k1, k2, k3, k4, ytmp []float64

	closed bool
}

// NewRK4 creates a fixed-step session taking steps of size h.
func NewRK4(rhs RHS, n int, h float64) *RK4 {
	return &RK4{rhs: rhs, n: n, h: h, stop: math.Inf(1)}
}

func (s *RK4) Init(y0 []float64, t0 float64, opts Options) error {
	if s.closed {
		return ErrClosed
	}
	if len(y0) != s.n {
		return &InitError{Reason: "initial state length does not match system size"}
	}
	if err := opts.validate(s.n); err != nil {
		return &InitError{Reason: err.Error()}
	}
	if s.h <= 0 {
		return &InitError{Reason: "step size must be positive"}
	}
	s.t = t0
	s.y = append([]float64(nil), y0...)
	s.stats = Stats{}
	s.failErr = nil
	s.k1 = make([]float64, s.n)
	s.k2 = make([]float64, s.n)
	s.k3 = make([]float64, s.n)
	s.k4 = make([]float64, s.n)
	s.ytmp = make([]float64, s.n)
	s.phase = Ready
	if s.root != nil {
		s.glast = s.root(s.t, s.y)
	}
	return nil
}

func (s *RK4) ReinitAt(t float64, y []float64) error {
	if s.closed {
		return ErrClosed
	}
	if s.phase == Uninitialized {
		return &InitError{Reason: "reinit before init"}
	}
	if len(y) != s.n {
		return &InitError{Reason: "reinit state length does not match system size"}
	}
	s.t = t
	copy(s.y, y)
	s.stats.Reinits++
	s.rootHit = false
	if s.root != nil {
		s.glast = s.root(s.t, s.y)
	}
	if s.phase != Failed {
		s.phase = Ready
	}
	return nil
}

func (s *RK4) SetInput(level float64) { s.input = level }
func (s *RK4) SetStopTime(t float64)  { s.stop = t }

func (s *RK4) SetRootFunc(g RootFunc, tol float64) {
	s.root = g
	if tol <= 0 {
		tol = 1e-9
	}
	s.rootTol = tol
	if g != nil && s.phase != Uninitialized {
		s.glast = g(s.t, s.y)
	}
}

func (s *RK4) RootFound() (float64, bool) { return s.rootTime, s.rootHit }

func (s *RK4) Time() float64    { return s.t }
func (s *RK4) State() []float64 { return s.y }
func (s *RK4) Phase() Phase     { return s.phase }
func (s *RK4) Stats() Stats     { return s.stats }

func (s *RK4) Close() error {
	s.closed = true
	s.phase = Uninitialized
	return nil
}

func (s *RK4) AdvanceTo(target float64) (float64, error) {
	if s.closed {
		return s.t, ErrClosed
	}
	switch s.phase {
	case Uninitialized:
		return s.t, &InitError{Reason: "advance before init"}
	case Failed:
		return s.t, &Error{Time: s.t, Err: s.failErr}
	}
	if target > s.stop {
		target = s.stop
	}

	s.phase = Stepping
	s.rootHit = false

	for s.t < target {
		h := s.h
		tNew := s.t + h
		if tNew >= target {
			tNew = target
			h = target - s.t
		}
		tlast := s.t
		ylast := append([]float64(nil), s.y...)

		if err := s.step(h, tNew); err != nil {
			s.phase = Failed
			s.failErr = err
			return s.t, &Error{Time: s.t, Err: err}
		}
		s.stats.Steps++

		if s.root != nil {
			gnew := s.root(s.t, s.y)
			gold := s.glast
			s.glast = gnew
			if gold != 0 && gnew != 0 && (gold > 0) != (gnew > 0) {
				rootT := bisectRoot(s.root, tlast, s.t, ylast, s.y, s.rootTol)
				w := (rootT - tlast) / (s.t - tlast)
				for i := range s.y {
					s.y[i] = ylast[i] + w*(s.y[i]-ylast[i])
				}
				s.t = rootT
				s.glast = s.root(s.t, s.y)
				s.rootTime = rootT
				s.rootHit = true
				s.phase = Ready
				return s.t, nil
			}
		}
	}

	if s.t >= s.stop {
		s.phase = Finished
	} else {
		s.phase = Ready
	}
	return s.t, nil
}

func (s *RK4) step(h, tNew float64) error {
	eval := func(t float64, y, k []float64) error {
		s.stats.RHSEvals++
		return s.rhs(t, y, s.input, k)
	}

	if err := eval(s.t, s.y, s.k1); err != nil {
		return err
	}
	for i := range s.ytmp {
		s.ytmp[i] = s.y[i] + 0.5*h*s.k1[i]
	}
	if err := eval(s.t+0.5*h, s.ytmp, s.k2); err != nil {
		return err
	}
	for i := range s.ytmp {
		s.ytmp[i] = s.y[i] + 0.5*h*s.k2[i]
	}
	if err := eval(s.t+0.5*h, s.ytmp, s.k3); err != nil {
		return err
	}
	for i := range s.ytmp {
		s.ytmp[i] = s.y[i] + h*s.k3[i]
	}
	if err := eval(s.t+h, s.ytmp, s.k4); err != nil {
		return err
	}
	for i := range s.y {
		s.y[i] += h / 6 * (s.k1[i] + 2*s.k2[i] + 2*s.k3[i] + s.k4[i])
	}
	s.t = tNew
	return nil
}

// bisectRoot locates a sign change of g on [a, b] using linear
// interpolation of the state between the bracketing points.
func bisectRoot(g RootFunc, a, b float64, ya, yb []float64, tol float64) float64 {
	yr := make([]float64, len(ya))
	at := func(t float64) float64 {
		w := (t - a) / (b - a)
		for i := range yr {
			yr[i] = ya[i] + w*(yb[i]-ya[i])
		}
		return g(t, yr)
	}
	fa := at(a)
	for b-a > tol {
		m := 0.5 * (a + b)
		fm := at(m)
		if fm == 0 {
			return m
		}
		if (fa > 0) == (fm > 0) {
			a, fa = m, fm
		} else {
			b = m
		}
	}
	return 0.5 * (a + b)
}
