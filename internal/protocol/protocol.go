// Package protocol defines the piecewise-constant external stimulus applied
// to a model during integration.
package protocol

import (
	"fmt"
	"math"
	"sort"
)

// Event is one timed stimulus: the level is applied over the half-open
// interval [Start, Start+Duration), repeating every Period when Period > 0.
// Multiplier limits the number of repeats; 0 means indefinitely.
type Event struct {
	Start      float64 `yaml:"start"`
	Duration   float64 `yaml:"duration"`
	Level      float64 `yaml:"level"`
	Period     float64 `yaml:"period"`
	Multiplier int     `yaml:"multiplier"`
}

// Protocol is an ordered, non-overlapping sequence of events. It is built
// once before a run and must not be mutated during integration.
type Protocol struct {
	events []Event
}

// New validates the events and returns a protocol with events sorted by
// start time.
func New(events []Event) (*Protocol, error) {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, e := range sorted {
		if e.Start < 0 {
			return nil, fmt.Errorf("protocol: event %d has negative start time %g", i, e.Start)
		}
		if e.Duration <= 0 {
			return nil, fmt.Errorf("protocol: event %d has non-positive duration %g", i, e.Duration)
		}
		if e.Period < 0 {
			return nil, fmt.Errorf("protocol: event %d has negative period %g", i, e.Period)
		}
		if e.Period > 0 && e.Duration > e.Period {
			return nil, fmt.Errorf("protocol: event %d overlaps its own repeats (duration %g > period %g)", i, e.Duration, e.Period)
		}
		if e.Multiplier < 0 {
			return nil, fmt.Errorf("protocol: event %d has negative multiplier %d", i, e.Multiplier)
		}
		if e.Multiplier > 0 && e.Period == 0 {
			return nil, fmt.Errorf("protocol: event %d has a multiplier but no period", i)
		}
	}

	p := &Protocol{events: sorted}
	if i, j, ok := p.repeatCollision(); ok {
		return nil, fmt.Errorf("protocol: repeats of events %d and %d overlap", i, j)
	}
	if t, ok := p.firstOverlap(); ok {
		return nil, fmt.Errorf("protocol: events overlap at t=%g", t)
	}
	return p, nil
}

// Events returns a copy of the validated events in start order.
func (p *Protocol) Events() []Event {
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// LevelAt returns the stimulus level at time t, or 0 when no event is
// active. Activity intervals are half-open, so at an event's start time the
// newly starting event wins.
func (p *Protocol) LevelAt(t float64) float64 {
	for _, e := range p.events {
		if active, level := e.levelAt(t); active {
			return level
		}
	}
	return 0
}

// NextBoundary returns the smallest event start or end strictly greater
// than t, considering future repetitions. The second return is false when
// no boundary remains.
func (p *Protocol) NextBoundary(t float64) (float64, bool) {
	next := math.Inf(1)
	for _, e := range p.events {
		if b, ok := e.nextBoundary(t); ok && b < next {
			next = b
		}
	}
	if math.IsInf(next, 1) {
		return 0, false
	}
	return next, true
}

// levelAt reports whether the event is active at t and its level.
func (e Event) levelAt(t float64) (bool, float64) {
	if t < e.Start {
		return false, 0
	}
	if e.Period == 0 {
		if t < e.Start+e.Duration {
			return true, e.Level
		}
		return false, 0
	}
	k := math.Floor((t - e.Start) / e.Period)
	if e.Multiplier > 0 && k >= float64(e.Multiplier) {
		return false, 0
	}
	if t < e.Start+k*e.Period+e.Duration {
		return true, e.Level
	}
	return false, 0
}

// nextBoundary returns the event's next start or end strictly after t.
func (e Event) nextBoundary(t float64) (float64, bool) {
	if t < e.Start {
		return e.Start, true
	}
	if e.Period == 0 {
		if end := e.Start + e.Duration; t < end {
			return end, true
		}
		return 0, false
	}

	k := math.Floor((t - e.Start) / e.Period)
	for ; ; k++ {
		if e.Multiplier > 0 && k >= float64(e.Multiplier) {
			// Last repeat may still have a pending end boundary.
			end := e.Start + float64(e.Multiplier-1)*e.Period + e.Duration
			if t < end {
				return end, true
			}
			return 0, false
		}
		start := e.Start + k*e.Period
		if t < start {
			return start, true
		}
		if end := start + e.Duration; t < end {
			return end, true
		}
	}
}

// repeatCollision checks every pair of indefinitely repeating events for a
// collision between their trains. The offset between a repeat of one train
// and a repeat of the other takes every value congruent to the start offset
// modulo gcd of the two periods, so the trains collide exactly when that
// residue lands inside either event's active window.
func (p *Protocol) repeatCollision() (int, int, bool) {
	for i, a := range p.events {
		if a.Period == 0 || a.Multiplier > 0 {
			continue
		}
		for j := i + 1; j < len(p.events); j++ {
			b := p.events[j]
			if b.Period == 0 || b.Multiplier > 0 {
				continue
			}
			g := gcdFloat(a.Period, b.Period)
			r := math.Mod(b.Start-a.Start, g)
			if r < 0 {
				r += g
			}
			if r < a.Duration || g-r < b.Duration {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// gcdFloat is the Euclidean gcd on positive step sizes, snapping remainders
// within tolerance of zero or of the divisor.
func gcdFloat(a, b float64) float64 {
	tol := 1e-9 * math.Max(a, b)
	for b > tol {
		r := math.Mod(a, b)
		if r > b-tol {
			r = 0
		}
		a, b = b, r
	}
	return a
}

// firstOverlap scans every boundary of every event and reports the first
// time two events are active at once. Indefinite-train pairs are decided
// exactly in repeatCollision; every remaining overlap must occur while some
// bounded event is active, so walking the merged boundary timeline up to
// the last bounded end is exact.
func (p *Protocol) firstOverlap() (float64, bool) {
	horizon := 0.0
	for _, e := range p.events {
		if e.Period == 0 {
			horizon = math.Max(horizon, e.Start+e.Duration)
		} else if e.Multiplier > 0 {
			horizon = math.Max(horizon, e.Start+float64(e.Multiplier-1)*e.Period+e.Duration)
		}
	}

	t := 0.0
	for t < horizon {
		active := 0
		for _, e := range p.events {
			if a, _ := e.levelAt(t); a {
				active++
			}
		}
		if active > 1 {
			return t, true
		}
		next, ok := p.NextBoundary(t)
		if !ok {
			break
		}
		t = next
	}
	return 0, false
}
