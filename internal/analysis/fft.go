// Package analysis provides post-run signal analysis: frequency content
// and action potential measurements on logged traces.
package analysis

import (
	"math"
	"math/cmplx"
)

// FFT computes the discrete Fourier transform with an iterative radix-2
// algorithm. Input is zero-padded to the next power of two.
func FFT(data []float64) []complex128 {
	n := 1
	for n < len(data) {
		n <<= 1
	}

	buf := make([]complex128, n)
	for i, v := range data {
		buf[i] = complex(v, 0)
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				a := buf[start+k]
				b := buf[start+k+size/2] * w
				buf[start+k] = a + b
				buf[start+k+size/2] = a - b
				w *= step
			}
		}
	}
	return buf
}

// PowerSpectrum returns the one-sided amplitude spectrum of a uniformly
// sampled signal and the frequency of each bin. dt is the sample spacing.
func PowerSpectrum(data []float64, dt float64) (freqs, power []float64) {
	// Remove the mean so the DC bin does not swamp the oscillation peak.
	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))
	centered := make([]float64, len(data))
	for i, v := range data {
		centered[i] = v - mean
	}

	spec := FFT(centered)
	n := len(spec)
	half := n / 2

	freqs = make([]float64, half)
	power = make([]float64, half)
	for i := 0; i < half; i++ {
		freqs[i] = float64(i) / (float64(n) * dt)
		power[i] = cmplx.Abs(spec[i])
	}
	return freqs, power
}

// DominantFrequency returns the frequency of the strongest non-DC spectral
// component.
func DominantFrequency(data []float64, dt float64) float64 {
	freqs, power := PowerSpectrum(data, dt)
	best, bestPow := 0.0, 0.0
	for i := 1; i < len(power); i++ {
		if power[i] > bestPow {
			best, bestPow = freqs[i], power[i]
		}
	}
	return best
}
