package engine

import (
	"errors"
	"fmt"
)

// Setup errors surfaced before any stepping.
var (
	// ErrNotReady indicates Step was called before attachment completed
	// or after the run reached a terminal state.
	ErrNotReady = errors.New("engine: not in a steppable state")

	// ErrBadTimestep indicates a non-positive dt.
	ErrBadTimestep = errors.New("engine: dt must be positive")
)

// DivergenceError reports numerical breakdown mid-run: a non-finite
// state value or persistent clamping across the cluster. The engine
// preserves the last stable snapshot for inspection.
type DivergenceError struct {
	Step   int
	Time   float64
	Reason string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("engine: diverged at step %d (t=%.6g s): %s", e.Step, e.Time, e.Reason)
}
