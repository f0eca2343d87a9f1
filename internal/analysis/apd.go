package analysis

import "math"

// ActionPotential summarizes one detected action potential in a voltage
// trace.
type ActionPotential struct {
	Upstroke float64 // time of the threshold crossing
	Peak     float64 // maximum potential
	PeakTime float64
	APD      float64 // duration until repolarization, 0 if unfinished
}

// APDOptions tunes action potential detection.
type APDOptions struct {
	// Threshold separates rest from excitation; crossings upward mark an
	// upstroke.
	Threshold float64
	// Repolarization is the recovery fraction ending the action
	// potential, e.g. 0.9 for APD90.
	Repolarization float64
}

// DefaultAPDOptions matches the common APD90 convention with a -20 mV
// detection threshold.
func DefaultAPDOptions() APDOptions {
	return APDOptions{Threshold: -20, Repolarization: 0.9}
}

// DetectAPs scans a voltage trace for action potentials. times and v must
// be the same length; times must be increasing.
func DetectAPs(times, v []float64, opts APDOptions) []ActionPotential {
	var aps []ActionPotential
	n := len(v)
	if n != len(times) || n < 2 {
		return nil
	}

	rest := v[0]
	i := 0
	for i < n-1 {
		// Find the next upward threshold crossing.
		for i < n-1 && !(v[i] < opts.Threshold && v[i+1] >= opts.Threshold) {
			i++
		}
		if i >= n-1 {
			break
		}
		up := crossingTime(times[i], times[i+1], v[i], v[i+1], opts.Threshold)

		ap := ActionPotential{Upstroke: up, Peak: math.Inf(-1)}
		j := i + 1
		for ; j < n && v[j] >= opts.Threshold; j++ {
			if v[j] > ap.Peak {
				ap.Peak = v[j]
				ap.PeakTime = times[j]
			}
		}

		// Repolarization level measured from rest to peak.
		level := ap.Peak - opts.Repolarization*(ap.Peak-rest)
		for k := j; k < n; k++ {
			if v[k] <= level {
				ap.APD = crossingTime(times[k-1], times[k], v[k-1], v[k], level) - up
				break
			}
		}
		aps = append(aps, ap)
		i = j
	}
	return aps
}

// MaxUpstrokeVelocity returns the largest forward-difference dV/dt in the
// trace, the classic dV/dt_max excitability measure.
func MaxUpstrokeVelocity(times, v []float64) float64 {
	best := 0.0
	for i := 1; i < len(v) && i < len(times); i++ {
		dt := times[i] - times[i-1]
		if dt <= 0 {
			continue
		}
		if d := (v[i] - v[i-1]) / dt; d > best {
			best = d
		}
	}
	return best
}

// crossingTime linearly interpolates the time at which the signal passes
// the given level between two samples.
func crossingTime(t0, t1, v0, v1, level float64) float64 {
	if v1 == v0 {
		return t0
	}
	return t0 + (t1-t0)*(level-v0)/(v1-v0)
}
