// Package runner drives the simulation engine from start to horizon:
// fixed-step time loop, snapshot collection, observer notification, and
// cooperative cancellation. The runner owns run policy; the engine owns
// physics.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/tissuesim/internal/engine"
	"github.com/san-kum/tissuesim/internal/tissue"
)

// Observer receives a notification after every applied step, plus one
// final notification when the run ends carrying the engine's terminal
// status. Observers run on the stepping goroutine and must not retain
// the engine state.
type Observer interface {
	OnStep(step int, t float64, status engine.Status)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(step int, t float64, status engine.Status)

func (f ObserverFunc) OnStep(step int, t float64, status engine.Status) { f(step, t, status) }

// Termination is the reason the run loop ended.
type Termination int

const (
	Finalized Termination = iota
	Diverged
	Cancelled
)

func (tr Termination) String() string {
	switch tr {
	case Finalized:
		return "finalized"
	case Diverged:
		return "diverged"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("termination(%d)", int(tr))
}

// Config fixes the time loop: step size, horizon, and when to record
// snapshots.
type Config struct {
	Dt      float64 // [s]
	Horizon float64 // [s]

	// SnapshotEvery records a snapshot each k-th step; 0 disables the
	// cadence. The initial and final states are always recorded.
	SnapshotEvery int

	// Markers are explicit simulation times to snapshot at, in addition
	// to the cadence. Each marker fires once, at the first step whose
	// time reaches it.
	Markers []float64
}

// Result is everything a run produced. Snapshots are independent deep
// copies, safe to keep after the run.
type Result struct {
	Snapshots []*tissue.Snapshot
	Steps     int
	Warnings  int

	Termination Termination

	// Err holds the engine's divergence error when Termination is
	// Diverged, and LastStable the state before the failed step.
	Err        error
	LastStable *tissue.Snapshot
}

// Runner binds an engine to a run configuration.
type Runner struct {
	eng       *engine.Engine
	cfg       Config
	markers   []float64
	observers []Observer
}

func New(eng *engine.Engine, cfg Config) (*Runner, error) {
	if eng == nil {
		return nil, fmt.Errorf("runner: engine is required")
	}
	if cfg.Dt <= 0 {
		return nil, fmt.Errorf("runner: dt must be positive, got %g", cfg.Dt)
	}
	if cfg.Horizon <= 0 {
		return nil, fmt.Errorf("runner: horizon must be positive, got %g", cfg.Horizon)
	}
	if cfg.SnapshotEvery < 0 {
		return nil, fmt.Errorf("runner: snapshot cadence must be >= 0, got %d", cfg.SnapshotEvery)
	}
	markers := append([]float64(nil), cfg.Markers...)
	sort.Float64s(markers)
	for _, m := range markers {
		if m < 0 || m > cfg.Horizon {
			return nil, fmt.Errorf("runner: marker %g outside [0, horizon]", m)
		}
	}
	return &Runner{eng: eng, cfg: cfg, markers: markers}, nil
}

func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// Run steps the engine until the horizon, a divergence, or context
// cancellation. Cancellation is honored only between steps, so every
// recorded state is a fully applied step. The returned Result is valid
// in all three cases.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	steps := int(r.cfg.Horizon/r.cfg.Dt + 0.5)
	res := &Result{
		Snapshots: make([]*tissue.Snapshot, 0, r.snapshotCap(steps)),
	}

	st := r.eng.State()
	res.Snapshots = append(res.Snapshots, st.Snapshot())

	nextMarker := 0
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			res.Termination = Cancelled
			res.Warnings = r.eng.Warnings()
			r.notify(st.Step, st.Time, r.eng.Status())
			return res, ctx.Err()
		default:
		}

		if err := r.eng.Step(r.cfg.Dt); err != nil {
			res.Warnings = r.eng.Warnings()
			var dive *engine.DivergenceError
			if errors.As(err, &dive) {
				res.Termination = Diverged
				res.Err = err
				res.LastStable = r.eng.LastStable()
				r.notify(st.Step, st.Time, r.eng.Status())
				return res, err
			}
			return res, err
		}
		res.Steps++

		r.notify(st.Step, st.Time, r.eng.Status())

		take := r.cfg.SnapshotEvery > 0 && st.Step%r.cfg.SnapshotEvery == 0
		for nextMarker < len(r.markers) && r.markers[nextMarker] <= st.Time {
			take = true
			nextMarker++
		}
		if take {
			res.Snapshots = append(res.Snapshots, st.Snapshot())
		}
	}

	r.eng.Finalize()
	res.Termination = Finalized
	res.Warnings = r.eng.Warnings()
	r.notify(st.Step, st.Time, r.eng.Status())

	// Always close with the terminal state, unless the cadence already
	// recorded this exact step.
	if last := res.Snapshots[len(res.Snapshots)-1]; last.Step != st.Step {
		res.Snapshots = append(res.Snapshots, st.Snapshot())
	}
	return res, nil
}

func (r *Runner) snapshotCap(steps int) int {
	n := 2 + len(r.markers)
	if r.cfg.SnapshotEvery > 0 {
		n += steps / r.cfg.SnapshotEvery
	}
	return n
}

func (r *Runner) notify(step int, t float64, status engine.Status) {
	for _, o := range r.observers {
		o.OnStep(step, t, status)
	}
}
