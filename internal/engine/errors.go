package engine

import (
	"errors"
	"fmt"

	"github.com/epsimlab/epsim/internal/trace"
)

var errNonPositiveDuration = errors.New("engine: run duration must be positive")

// RunError reports a failed or interrupted run. Partial holds whatever was
// logged before the failure.
type RunError struct {
	Time    float64
	Partial *trace.Log
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("engine: run stopped at t=%g: %v", e.Time, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// BoundaryError reports that the solver did not land on a requested
// stimulus boundary or sample time. It indicates a solver defect rather
// than a user error.
type BoundaryError struct {
	Boundary float64
	Reached  float64
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("engine: solver stopped at t=%g instead of boundary t=%g", e.Reached, e.Boundary)
}
