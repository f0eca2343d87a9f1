package engine

import (
	"context"
	"sync"

	"github.com/epsimlab/epsim/internal/solver"
	"github.com/epsimlab/epsim/internal/trace"
)

// Sweep runs the same model once per tolerance setting, in parallel. Each
// run gets its own Simulation and solver session.
type Sweep struct {
	base Config
	opts []solver.Options
}

// NewSweep prepares a tolerance sweep over the given solver settings.
func NewSweep(base Config, opts []solver.Options) *Sweep {
	return &Sweep{base: base, opts: opts}
}

// Run executes all sweep members and returns their traces in option order.
// The first error aborts the whole sweep.
func (s *Sweep) Run(ctx context.Context, duration float64, sampler trace.Sampler) ([]*trace.Log, error) {
	logs := make([]*trace.Log, len(s.opts))
	errs := make([]error, len(s.opts))

	var wg sync.WaitGroup
	for i := range s.opts {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			cfg := s.base
			cfg.Solver = s.opts[idx]
			sim, err := New(cfg)
			if err != nil {
				errs[idx] = err
				return
			}
			logs[idx], errs[idx] = sim.Run(ctx, duration, sampler)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return logs, nil
}
