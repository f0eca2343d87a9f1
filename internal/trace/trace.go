// Package trace holds the time series logged during a simulation run.
package trace

import (
	"fmt"
	"math"
)

// Log is an append-only record of sampled values: one shared time column
// plus one named column per logged variable. All columns always have the
// same length.
type Log struct {
	times   []float64
	names   []string
	columns [][]float64
	index   map[string]int
}

// New creates an empty log with the given variable names. Names must be
// unique and non-empty.
func New(names []string) (*Log, error) {
	index := make(map[string]int, len(names))
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("trace: column %d has an empty name", i)
		}
		if _, dup := index[n]; dup {
			return nil, fmt.Errorf("trace: duplicate column %q", n)
		}
		index[n] = i
	}
	return &Log{
		names:   append([]string(nil), names...),
		columns: make([][]float64, len(names)),
		index:   index,
	}, nil
}

// Append records one sample. The time must be strictly greater than the
// previous sample's and values must match the column count.
func (l *Log) Append(t float64, values []float64) error {
	if len(values) != len(l.names) {
		return fmt.Errorf("trace: got %d values for %d columns", len(values), len(l.names))
	}
	if n := len(l.times); n > 0 && t <= l.times[n-1] {
		return fmt.Errorf("trace: sample at t=%g does not advance past t=%g", t, l.times[len(l.times)-1])
	}
	l.times = append(l.times, t)
	for i, v := range values {
		l.columns[i] = append(l.columns[i], v)
	}
	return nil
}

// Len returns the number of samples.
func (l *Log) Len() int { return len(l.times) }

// Times returns the shared time column. The slice is owned by the log.
func (l *Log) Times() []float64 { return l.times }

// Names returns the column names in declaration order.
func (l *Log) Names() []string { return l.names }

// Column returns the values for a named variable.
func (l *Log) Column(name string) ([]float64, bool) {
	i, ok := l.index[name]
	if !ok {
		return nil, false
	}
	return l.columns[i], true
}

// ColumnAt returns the values for the i-th variable.
func (l *Log) ColumnAt(i int) []float64 { return l.columns[i] }

// Sampler produces the ordered sequence of times at which a run is logged.
type Sampler interface {
	// Next returns the first sample time strictly greater than t, or
	// false when the schedule is exhausted.
	Next(t float64) (float64, bool)
}

// PeriodicSampler logs at tmin + i*interval for i = 0, 1, ... while the
// sample time stays below tmax (half-open on the right). The index form
// avoids drift from repeated addition.
type PeriodicSampler struct {
	tmin, tmax, interval float64
}

// NewPeriodicSampler returns a sampler over [tmin, tmax) with the given
// spacing.
func NewPeriodicSampler(tmin, tmax, interval float64) (*PeriodicSampler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("trace: log interval must be positive, got %g", interval)
	}
	if tmax < tmin {
		return nil, fmt.Errorf("trace: log window [%g, %g) is inverted", tmin, tmax)
	}
	return &PeriodicSampler{tmin: tmin, tmax: tmax, interval: interval}, nil
}

func (s *PeriodicSampler) Next(t float64) (float64, bool) {
	var i float64
	if t >= s.tmin {
		i = math.Floor((t-s.tmin)/s.interval) + 1
	}
	next := s.tmin + i*s.interval
	// Floating point can land the computed point at or below t.
	for next <= t {
		i++
		next = s.tmin + i*s.interval
	}
	if next >= s.tmax {
		return 0, false
	}
	return next, true
}

// PointSampler logs at an explicit, strictly increasing list of times.
type PointSampler struct {
	points []float64
}

// NewPointSampler validates and copies the sample times.
func NewPointSampler(points []float64) (*PointSampler, error) {
	for i := 1; i < len(points); i++ {
		if points[i] <= points[i-1] {
			return nil, fmt.Errorf("trace: sample times must be strictly increasing (point %d)", i)
		}
	}
	return &PointSampler{points: append([]float64(nil), points...)}, nil
}

func (s *PointSampler) Next(t float64) (float64, bool) {
	for _, p := range s.points {
		if p > t {
			return p, true
		}
	}
	return 0, false
}
