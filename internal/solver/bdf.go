package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Step controller constants, in the range used by the classic BDF codes.
const (
	safety       = 0.9
	minScale     = 0.2
	maxScale     = 10.0
	newtonMaxIt  = 4
	newtonRate   = 0.33 // required WRMS norm of the last correction
	maxRejects   = 10   // consecutive rejections before giving up
	maxZeroSteps = 500
	defaultOrder = 5
	hminDefault  = 1e-14 // relative to the current time scale
)

// BDF is a variable-step, variable-order (1..5) backward differentiation
// session. The implicit equation at each step is solved by modified Newton
// iteration; the iteration matrix alpha*I - J is factorized with gonum's
// LU and reused until convergence degrades.
type BDF struct {
	rhs RHS
	jac Jacobian // optional analytic Jacobian
	n   int

	opts    Options
	phase   Phase
	stats   Stats
	failErr error // first fatal error, reported on every later AdvanceTo

	t     float64
	y     []float64
	input float64
	stop  float64

	// History of accepted points, most recent first. hist[0] is (t, y).
	histT     []float64
	histY     [][]float64
	order     int
	h         float64
	sameOrder int // accepted steps since the last order change

	ewt []float64 // error weights, refreshed each step

	lu      *mat.LU
	luMat   *mat.Dense
	luFresh bool

	root     RootFunc
	rootTol  float64
	rootTime float64
	rootHit  bool
	glast    float64

	// scratch buffers
	ypred, ycur, fcur, delta, resid []float64
	jbuf                            []float64

	closed bool
}

// NewBDF creates an uninitialized BDF session for an n-state system. jac
// may be nil, in which case the Jacobian is approximated by forward
// differences.
func NewBDF(rhs RHS, jac Jacobian, n int) *BDF {
	return &BDF{rhs: rhs, jac: jac, n: n, stop: math.Inf(1)}
}

func (s *BDF) Init(y0 []float64, t0 float64, opts Options) error {
	if s.closed {
		return ErrClosed
	}
	if len(y0) != s.n {
		return &InitError{Reason: "initial state length does not match system size"}
	}
	if err := opts.validate(s.n); err != nil {
		return &InitError{Reason: err.Error()}
	}
	if opts.MaxOrder == 0 {
		opts.MaxOrder = defaultOrder
	}
	if opts.MaxOrder < 1 || opts.MaxOrder > 5 {
		return &InitError{Reason: "max order must be in [1,5]"}
	}

	s.opts = opts
	s.t = t0
	s.y = append([]float64(nil), y0...)
	s.stats = Stats{}
	s.failErr = nil

	s.ewt = make([]float64, s.n)
	s.ypred = make([]float64, s.n)
	s.ycur = make([]float64, s.n)
	s.fcur = make([]float64, s.n)
	s.delta = make([]float64, s.n)
	s.resid = make([]float64, s.n)
	s.jbuf = make([]float64, s.n*s.n)
	s.luMat = mat.NewDense(s.n, s.n, nil)
	s.lu = &mat.LU{}
	s.luFresh = false

	s.resetHistory()
	s.phase = Ready
	return nil
}

// resetHistory drops multistep memory: order back to 1, step size chosen
// from the local derivative magnitude.
func (s *BDF) resetHistory() {
	s.histT = []float64{s.t}
	s.histY = [][]float64{append([]float64(nil), s.y...)}
	s.order = 1
	s.sameOrder = 0
	s.luFresh = false
	s.h = 0 // picked on the next AdvanceTo
	s.rootHit = false
	if s.root != nil {
		s.glast = s.root(s.t, s.y)
	}
}

func (s *BDF) ReinitAt(t float64, y []float64) error {
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
	s.resetHistory()
	s.stats.Reinits++
	if s.phase != Failed {
		s.phase = Ready
	}
	return nil
}

func (s *BDF) SetInput(level float64) { s.input = level }

func (s *BDF) SetStopTime(t float64) { s.stop = t }

func (s *BDF) SetRootFunc(g RootFunc, tol float64) {
	s.root = g
	if tol <= 0 {
		tol = 1e-9
	}
	s.rootTol = tol
	if g != nil && s.phase != Uninitialized {
		s.glast = g(s.t, s.y)
	}
}

func (s *BDF) RootFound() (float64, bool) { return s.rootTime, s.rootHit }

func (s *BDF) Time() float64    { return s.t }
func (s *BDF) State() []float64 { return s.y }
func (s *BDF) Phase() Phase     { return s.phase }
func (s *BDF) Stats() Stats     { return s.stats }

func (s *BDF) Close() error {
	s.closed = true
	s.phase = Uninitialized
	return nil
}

func (s *BDF) fail(err error) (float64, error) {
	s.phase = Failed
	s.failErr = err
	return s.t, &Error{Time: s.t, Err: err}
}

func (s *BDF) AdvanceTo(target float64) (float64, error) {
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
	if target <= s.t {
		return s.t, nil
	}

	s.phase = Stepping
	s.rootHit = false
	zeroSteps := 0
	rejects := 0

	if s.h == 0 {
		s.h = s.initialStep(target)
	}

	for s.t < target {
		h := s.h
		if s.opts.MaxStep > 0 {
			h = math.Min(h, s.opts.MaxStep)
		}
		// Land exactly on the target, avoiding a sliver step from
		// floating-point residue.
		tNew := s.t + h
		if tNew >= target {
			tNew = target
			h = target - s.t
		}
		if h < s.hmin() && tNew != target {
			return s.fail(ErrStepTooSmall)
		}

		tlast := s.t
		ylast := append([]float64(nil), s.y...)

		accepted, errNorm, err := s.tryStep(tNew)
		if err != nil {
			return s.fail(err)
		}

		if !accepted {
			rejects++
			s.stats.Rejected++
			if rejects >= maxRejects {
				return s.fail(ErrNonConvergence)
			}
			// Shrink; repeated trouble also drops the order.
			scale := math.Max(minScale, safety*math.Pow(errNorm, -1.0/float64(s.order+1)))
			if errNorm == 0 {
				scale = minScale
			}
			s.h = h * math.Min(scale, 0.5)
			if rejects >= 3 && s.order > 1 {
				s.order--
				s.sameOrder = 0
			}
			continue
		}

		rejects = 0
		s.stats.Steps++
		if s.t == tlast {
			zeroSteps++
			if zeroSteps >= maxZeroSteps {
				return s.fail(ErrTooManyZero)
			}
		} else {
			zeroSteps = 0
		}

		// Root crossing inside the accepted step?
		if s.root != nil {
			if stopAt, hit := s.checkRoot(tlast, ylast); hit {
				s.rootTime = stopAt
				s.rootHit = true
				s.phase = Ready
				return s.t, nil
			}
		}

		s.adjustAfterStep(errNorm)
	}

	if s.t >= s.stop {
		s.phase = Finished
	} else {
		s.phase = Ready
	}
	return s.t, nil
}

func (s *BDF) hmin() float64 {
	if s.opts.MinStep > 0 {
		return s.opts.MinStep
	}
	return hminDefault * math.Max(1, math.Abs(s.t))
}

// initialStep picks a first step so that h*||f|| stays small in the
// tolerance-weighted norm.
func (s *BDF) initialStep(target float64) float64 {
	s.updateWeights(s.y)
	if err := s.evalRHS(s.t, s.y, s.fcur); err != nil {
		return (target - s.t) * 1e-6
	}
	fn := s.wrms(s.fcur)
	h := 0.01
	if fn > 0 {
		h = 0.1 / fn
	}
	h = math.Min(h, (target-s.t)/10)
	if s.opts.MaxStep > 0 {
		h = math.Min(h, s.opts.MaxStep)
	}
	return math.Max(h, s.hmin()*10)
}

func (s *BDF) evalRHS(t float64, y, dy []float64) error {
	s.stats.RHSEvals++
	return s.rhs(t, y, s.input, dy)
}

func (s *BDF) updateWeights(y []float64) {
	for i := range s.ewt {
		atol := s.opts.AbsTol
		if s.opts.AbsVec != nil {
			atol = s.opts.AbsVec[i]
		}
		s.ewt[i] = 1.0 / (s.opts.RelTol*math.Abs(y[i]) + atol)
	}
}

// wrms is the tolerance-weighted root-mean-square norm.
func (s *BDF) wrms(v []float64) float64 {
	sum := 0.0
	for i, x := range v {
		w := x * s.ewt[i]
		sum += w * w
	}
	return math.Sqrt(sum / float64(len(v)))
}

// tryStep attempts one BDF step to tNew at the current order. It returns
// whether the step passed the local error test, and the error norm for the
// step-size controller. A non-nil error is fatal.
func (s *BDF) tryStep(tNew float64) (bool, float64, error) {
	q := s.order
	if q > len(s.histT) {
		q = len(s.histT)
	}

	// Derivative weights of the interpolating polynomial through
	// (tNew, yNew) and the q most recent history points, evaluated at
	// tNew: alpha*yNew + sum_j beta_j*hist_j = f(tNew, yNew).
	nodes := make([]float64, q+1)
	nodes[0] = tNew
	copy(nodes[1:], s.histT[:q])
	alpha, beta := lagrangeDerivWeights(nodes)

	// Predictor: extrapolate the history polynomial to tNew.
	s.predict(tNew, q)
	copy(s.ycur, s.ypred)

	// psi collects the known part of the residual.
	psi := make([]float64, s.n)
	for j := 0; j < q; j++ {
		for i := 0; i < s.n; i++ {
			psi[i] += beta[j] * s.histY[j][i]
		}
	}

	s.updateWeights(s.y)

	converged, err := s.newton(tNew, alpha, psi)
	if err != nil {
		return false, 0, err
	}
	if !converged {
		// Treat like a failed error test with a large norm so the
		// controller shrinks the step.
		return false, math.Pow(2/safety, float64(s.order+1)), nil
	}

	// Local error estimate from the predictor-corrector difference.
	for i := range s.delta {
		s.delta[i] = (s.ycur[i] - s.ypred[i]) / float64(q+1)
	}
	errNorm := s.wrms(s.delta)
	if errNorm > 1 {
		return false, errNorm, nil
	}

	// Accept: push the new point onto the history.
	s.t = tNew
	copy(s.y, s.ycur)
	s.pushHistory(tNew, s.ycur)
	return true, errNorm, nil
}

// predict extrapolates the interpolating polynomial through the q most
// recent history points to tNew.
func (s *BDF) predict(tNew float64, q int) {
	for i := range s.ypred {
		s.ypred[i] = 0
	}
	for j := 0; j < q; j++ {
		lj := 1.0
		for m := 0; m < q; m++ {
			if m == j {
				continue
			}
			lj *= (tNew - s.histT[m]) / (s.histT[j] - s.histT[m])
		}
		for i := 0; i < s.n; i++ {
			s.ypred[i] += lj * s.histY[j][i]
		}
	}
}

// newton solves alpha*y + psi = f(t, y) for y, starting from the predictor
// value in ycur. The iteration matrix alpha*I - J is refreshed lazily.
func (s *BDF) newton(t, alpha float64, psi []float64) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if !s.luFresh || attempt > 0 {
			if err := s.factorize(t, alpha); err != nil {
				return false, err
			}
		}

		copy(s.ycur, s.ypred)
		for it := 0; it < newtonMaxIt; it++ {
			s.stats.NewtonIters++
			if err := s.evalRHS(t, s.ycur, s.fcur); err != nil {
				return false, err
			}
			for i := 0; i < s.n; i++ {
				s.resid[i] = s.fcur[i] - alpha*s.ycur[i] - psi[i]
			}
			rv := mat.NewVecDense(s.n, s.resid)
			dv := mat.NewVecDense(s.n, s.delta)
			if err := s.lu.SolveVecTo(dv, false, rv); err != nil {
				break
			}
			for i := 0; i < s.n; i++ {
				s.ycur[i] += s.delta[i]
			}
			if !isFiniteVec(s.ycur) {
				break
			}
			if s.wrms(s.delta) < newtonRate {
				return true, nil
			}
		}
		// Retry once with a fresh Jacobian before reporting failure.
		s.luFresh = false
	}
	return false, nil
}

// factorize builds and LU-factorizes alpha*I - J at (t, ycur).
func (s *BDF) factorize(t, alpha float64) error {
	if s.jac != nil {
		s.stats.JacEvals++
		if err := s.jac(t, s.ycur, s.input, s.jbuf); err != nil {
			return err
		}
	} else {
		if err := s.numJac(t, s.ycur); err != nil {
			return err
		}
	}
	for i := 0; i < s.n; i++ {
		for j := 0; j < s.n; j++ {
			v := -s.jbuf[i*s.n+j]
			if i == j {
				v += alpha
			}
			s.luMat.Set(i, j, v)
		}
	}
	s.lu.Factorize(s.luMat)
	s.luFresh = true
	return nil
}

// numJac approximates the Jacobian by forward differences.
func (s *BDF) numJac(t float64, y []float64) error {
	s.stats.JacEvals++
	if err := s.evalRHS(t, y, s.fcur); err != nil {
		return err
	}
	f0 := append([]float64(nil), s.fcur...)
	pert := make([]float64, s.n)
	copy(pert, y)
	for j := 0; j < s.n; j++ {
		dy := math.Sqrt(2.2e-16) * math.Max(math.Abs(y[j]), 1e-5)
		pert[j] = y[j] + dy
		if err := s.evalRHS(t, pert, s.fcur); err != nil {
			return err
		}
		for i := 0; i < s.n; i++ {
			s.jbuf[i*s.n+j] = (s.fcur[i] - f0[i]) / dy
		}
		pert[j] = y[j]
	}
	return nil
}

func (s *BDF) pushHistory(t float64, y []float64) {
	keep := s.opts.MaxOrder + 1
	s.histT = append([]float64{t}, s.histT...)
	s.histY = append([][]float64{append([]float64(nil), y...)}, s.histY...)
	if len(s.histT) > keep {
		s.histT = s.histT[:keep]
		s.histY = s.histY[:keep]
	}
}

// adjustAfterStep grows the step size and raises the order once enough
// history at the current order has accumulated.
func (s *BDF) adjustAfterStep(errNorm float64) {
	s.sameOrder++

	// Raise order after q+1 smooth steps, once history allows it.
	if s.order < s.opts.MaxOrder && s.sameOrder > s.order+1 && len(s.histT) > s.order+1 {
		s.order++
		s.sameOrder = 0
	}

	var scale float64
	if errNorm <= 0 {
		scale = maxScale
	} else {
		scale = safety * math.Pow(errNorm, -1.0/float64(s.order+1))
		scale = math.Min(maxScale, math.Max(minScale, scale))
	}
	s.h *= scale
	if s.opts.MaxStep > 0 && s.h > s.opts.MaxStep {
		s.h = s.opts.MaxStep
	}
}

// checkRoot looks for a sign change of the root function over the last
// accepted step and, if found, locates it with the Illinois method on the
// linear interpolant and rewinds the session to the root.
func (s *BDF) checkRoot(tlast float64, ylast []float64) (float64, bool) {
	gnew := s.root(s.t, s.y)
	gold := s.glast
	s.glast = gnew

	if gold == 0 || gnew == 0 {
		if gnew == 0 {
			return s.t, true
		}
		return 0, false
	}
	if (gold > 0) == (gnew > 0) {
		return 0, false
	}

	// Illinois iteration on g(interp(t)).
	a, b := tlast, s.t
	fa, fb := gold, gnew
	yr := make([]float64, s.n)
	interp := func(t float64) float64 {
		w := (t - tlast) / (s.t - tlast)
		for i := range yr {
			yr[i] = ylast[i] + w*(s.y[i]-ylast[i])
		}
		return s.root(t, yr)
	}
	for i := 0; i < 100 && b-a > s.rootTol; i++ {
		c := b - fb*(b-a)/(fb-fa)
		if c <= a || c >= b {
			c = 0.5 * (a + b)
		}
		fc := interp(c)
		if fc == 0 {
			a, b = c, c
			break
		}
		// Replace the endpoint sharing the new sign; halving the stale
		// endpoint keeps the bracket shrinking (Illinois variant).
		if (fc > 0) == (fb > 0) {
			b, fb = c, fc
			fa *= 0.5
		} else {
			a, fa = c, fc
			fb *= 0.5
		}
	}
	rootT := 0.5 * (a + b)

	// Rewind the session to the root; history restarts there.
	w := (rootT - tlast) / (s.t - tlast)
	for i := range s.y {
		s.y[i] = ylast[i] + w*(s.y[i]-ylast[i])
	}
	s.t = rootT
	s.histT = []float64{s.t}
	s.histY = [][]float64{append([]float64(nil), s.y...)}
	s.order = 1
	s.sameOrder = 0
	s.glast = s.root(s.t, s.y)
	return rootT, true
}

func isFiniteVec(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// lagrangeDerivWeights returns the derivative weights of the Lagrange
// interpolating polynomial through the given nodes, evaluated at nodes[0]:
// p'(x0) = alpha*y0 + sum_j beta[j]*y_{j+1}.
func lagrangeDerivWeights(nodes []float64) (alpha float64, beta []float64) {
	x0 := nodes[0]
	n := len(nodes)

	for m := 1; m < n; m++ {
		alpha += 1 / (x0 - nodes[m])
	}

	beta = make([]float64, n-1)
	for j := 1; j < n; j++ {
		num := 1.0
		den := 1.0
		for m := 0; m < n; m++ {
			if m == j {
				continue
			}
			if m != 0 {
				num *= x0 - nodes[m]
			}
			den *= nodes[j] - nodes[m]
		}
		beta[j-1] = num / den
	}
	return alpha, beta
}
