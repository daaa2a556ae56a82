// Package engine advances the tissue state through time. One step runs
// six ordered phases with a synchronization barrier between them:
// membrane currents, gating update, gap-junction exchange,
// concentration integration, capacitive voltage closure, and the
// stability check. Phases 1-4 are data-parallel across cells and
// junctions; no phase overlaps the next.
package engine

import (
	"fmt"
	"math"

	"github.com/san-kum/tissuesim/internal/channels"
	"github.com/san-kum/tissuesim/internal/geometry"
	"github.com/san-kum/tissuesim/internal/ion"
	"github.com/san-kum/tissuesim/internal/network"
	"github.com/san-kum/tissuesim/internal/solver"
	"github.com/san-kum/tissuesim/internal/stim"
	"github.com/san-kum/tissuesim/internal/tissue"
)

// Status is the engine's run-state machine.
type Status int

const (
	Uninitialized Status = iota
	Ready
	Stepping
	Finalized
	Diverged
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Stepping:
		return "stepping"
	case Finalized:
		return "finalized"
	case Diverged:
		return "diverged"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Params are the numerical policy knobs. Threshold defaults were
// chosen empirically; they are configuration, not contract.
type Params struct {
	// ClampTolerance flags a non-negativity clamp as a stability
	// warning when the clamped overshoot exceeds this fraction of the
	// pre-clamp concentration.
	ClampTolerance float64

	// DivergedCellFraction and DivergedSteps set the divergence
	// policy: warnings covering more than the fraction of cells for
	// this many consecutive steps end the run.
	DivergedCellFraction float64
	DivergedSteps        int

	// Workers bounds phase parallelism; 0 uses all CPUs.
	Workers int

	// Scheme selects the gating integration scheme ("euler" or
	// "rushlarsen"). Concentrations and voltage always use forward
	// Euler.
	Scheme string
}

func DefaultParams() Params {
	return Params{
		ClampTolerance:       0.1,
		DivergedCellFraction: 0.3,
		DivergedSteps:        5,
	}
}

// attRef locates one channel instance on a cell: attachment index plus
// the slot inside the attachment's target list.
type attRef struct {
	att  int
	slot int
}

// Engine owns the tissue state for the duration of a run.
type Engine struct {
	cluster *geometry.Cluster
	net     *network.Net
	atts    []*channels.Attachment
	state   *tissue.State
	stim    stim.Protocol
	scheme  solver.Scheme
	p       Params

	status     Status
	warnings   int // cumulative clamp warnings
	consecBad  int // consecutive steps over the warning fraction
	lastStable *tissue.Snapshot

	perCell  [][]attRef
	maxGates int

	// Step scratch, sized once. flux and chargeFlux accumulate net
	// molar flow [mol/s] and charge flow [A] per cell; jFlux holds
	// per-junction per-species flow A->B so the junction phase can run
	// in parallel without write contention.
	flux       [][]float64
	chargeFlux []float64
	jFlux      [][]float64
	warnCell   []bool
}

// New wires geometry, connectivity, channel attachments, stimulus, and
// initial state together, transitioning Uninitialized -> Ready. All
// attachment errors surface here, never mid-run.
func New(cl *geometry.Cluster, net *network.Net, atts []*channels.Attachment, st *tissue.State, protocol stim.Protocol, p Params) (*Engine, error) {
	if cl == nil || net == nil || st == nil {
		return nil, fmt.Errorf("engine: geometry, connectivity and state are all required")
	}
	if st.NumCells() != len(cl.Cells) {
		return nil, fmt.Errorf("engine: state sized for %d cells, cluster has %d", st.NumCells(), len(cl.Cells))
	}
	sch := solver.ByName(p.Scheme)
	if sch == nil {
		return nil, fmt.Errorf("engine: unknown gating scheme %q", p.Scheme)
	}
	if protocol == nil {
		protocol = stim.NewNone()
	}
	if p.ClampTolerance <= 0 {
		p.ClampTolerance = DefaultParams().ClampTolerance
	}
	if p.DivergedCellFraction <= 0 {
		p.DivergedCellFraction = DefaultParams().DivergedCellFraction
	}
	if p.DivergedSteps <= 0 {
		p.DivergedSteps = DefaultParams().DivergedSteps
	}

	nCells := len(cl.Cells)
	nSpecies := len(st.Species)

	e := &Engine{
		cluster:    cl,
		net:        net,
		atts:       atts,
		state:      st,
		stim:       protocol,
		scheme:     sch,
		p:          p,
		status:     Ready,
		perCell:    make([][]attRef, nCells),
		flux:       make([][]float64, nSpecies),
		chargeFlux: make([]float64, nCells),
		jFlux:      make([][]float64, len(net.Junctions)),
		warnCell:   make([]bool, nCells),
	}
	for si := range e.flux {
		e.flux[si] = make([]float64, nCells)
	}
	for ji := range e.jFlux {
		e.jFlux[ji] = make([]float64, nSpecies)
	}
	if len(st.Gates) != len(atts) {
		return nil, fmt.Errorf("engine: state carries gating for %d attachments, engine was handed %d", len(st.Gates), len(atts))
	}
	for ai, att := range atts {
		if len(st.Gates[ai]) != len(att.Cells) {
			return nil, fmt.Errorf("engine: attachment %q gating sized for %d cells, targets %d",
				att.Model.Name(), len(st.Gates[ai]), len(att.Cells))
		}
		if g := att.Model.NumGates(); g > e.maxGates {
			e.maxGates = g
		}
		for slot, ci := range att.Cells {
			if ci < 0 || ci >= nCells {
				return nil, fmt.Errorf("engine: attachment %q targets cell %d outside cluster", att.Model.Name(), ci)
			}
			e.perCell[ci] = append(e.perCell[ci], attRef{att: ai, slot: slot})
		}
	}
	e.lastStable = st.Snapshot()
	return e, nil
}

func (e *Engine) Status() Status { return e.status }

// Warnings returns the cumulative clamp-warning count.
func (e *Engine) Warnings() int { return e.warnings }

// State exposes the live state for the run controller's snapshotting.
// External consumers must only receive State.Snapshot() copies.
func (e *Engine) State() *tissue.State { return e.state }

// LastStable is the snapshot taken after the most recent successful
// step, preserved across a divergence for inspection.
func (e *Engine) LastStable() *tissue.Snapshot { return e.lastStable }

// Finalize marks the horizon reached. Stepping past it is an error.
func (e *Engine) Finalize() {
	if e.status == Ready || e.status == Stepping {
		e.status = Finalized
	}
}

// Step advances the state by dt. The step is either fully applied or,
// on divergence, abandoned in favor of the last stable snapshot.
func (e *Engine) Step(dt float64) error {
	if e.status != Ready && e.status != Stepping {
		return ErrNotReady
	}
	if dt <= 0 {
		return ErrBadTimestep
	}
	e.status = Stepping

	st := e.state
	nCells := st.NumCells()
	nSpecies := len(st.Species)

	for si := range e.flux {
		clearFloats(e.flux[si])
	}
	clearFloats(e.chargeFlux)

	// Phase 1: membrane currents. Channels operate on the
	// environment-facing membrane; stimulus current spans the whole
	// membrane and carries charge only.
	parallelFor(nCells, e.p.Workers, 16, func(start, end int) {
		cIn := make([]float64, nSpecies)
		fluxDensity := make([]float64, nSpecies)
		for ci := start; ci < end; ci++ {
			for si := 0; si < nSpecies; si++ {
				cIn[si] = st.Conc[si][ci]
			}
			env := channels.Env{Vm: st.Vm[ci], CIn: cIn, COut: st.Bath, Temp: st.Params.Temp}
			clearFloats(fluxDensity)
			for _, ref := range e.perCell[ci] {
				att := e.atts[ref.att]
				att.Model.Flux(env, st.Gates[ref.att][ref.slot], att.Density, fluxDensity)
			}
			area := e.net.EnvArea[ci]
			charge := 0.0
			for si := 0; si < nSpecies; si++ {
				mol := fluxDensity[si] * area
				e.flux[si][ci] += mol
				charge += float64(st.Species[si].Valence) * ion.Faraday * mol
			}
			charge += e.stim.Current(ci, st.Time, st.Vm[ci]) * e.cluster.Cells[ci].MemArea
			e.chargeFlux[ci] = charge
		}
	})

	// Phase 2: gating update, clamped to the unit domain after
	// integration. Uses the voltages and concentrations the phase-1
	// barrier finalized.
	parallelFor(nCells, e.p.Workers, 16, func(start, end int) {
		cIn := make([]float64, nSpecies)
		work := make([]float64, e.maxGates)
		dst := make([]float64, e.maxGates)
		for ci := start; ci < end; ci++ {
			if len(e.perCell[ci]) == 0 {
				continue
			}
			for si := 0; si < nSpecies; si++ {
				cIn[si] = st.Conc[si][ci]
			}
			vm := st.Vm[ci]
			for _, ref := range e.perCell[ci] {
				model := e.atts[ref.att].Model
				gates := st.Gates[ref.att][ref.slot]
				for gi := range gates {
					y := gates[gi]
					deriv := func(yv float64) float64 {
						copy(work[:len(gates)], gates)
						work[gi] = yv
						model.GatingDeriv(vm, work[:len(gates)], cIn, dst[:len(gates)])
						return dst[gi]
					}
					g := e.scheme.Advance(y, deriv, dt)
					if g < 0 {
						g = 0
					} else if g > 1 {
						g = 1
					}
					gates[gi] = g
				}
			}
		}
	})

	// Phase 3: gap-junction exchange. Per-junction flows land in
	// junction-local scratch; accumulation into cells happens after
	// the barrier so the phase parallelizes without contention.
	parallelFor(len(e.net.Junctions), e.p.Workers, 32, func(start, end int) {
		for ji := start; ji < end; ji++ {
			j := &e.net.Junctions[ji]
			vj := st.Vm[j.B] - st.Vm[j.A]
			for si := 0; si < nSpecies; si++ {
				sp := st.Species[si]
				if sp.D == 0 {
					e.jFlux[ji][si] = 0
					continue
				}
				// Electrodiffusion from A into B through the gated pore:
				// the concentration gradient drives Fick diffusion and
				// the transjunctional voltage drives the ohmic current.
				f := channels.Electroflux(
					st.Conc[si][j.B], st.Conc[si][j.A],
					sp.D*j.Open, j.Length, sp.Valence, vj, st.Params.Temp)
				e.jFlux[ji][si] = f * j.Area
			}
			inf := e.net.Params.OpenInf(vj)
			open := j.Open + dt*(inf-j.Open)/e.net.Params.GateTau
			if open < e.net.Params.MinOpen {
				open = e.net.Params.MinOpen
			} else if open > 1 {
				open = 1
			}
			j.Open = open
		}
	})
	for ji := range e.net.Junctions {
		j := &e.net.Junctions[ji]
		for si := 0; si < nSpecies; si++ {
			mol := e.jFlux[ji][si]
			if mol == 0 {
				continue
			}
			e.flux[si][j.A] -= mol
			e.flux[si][j.B] += mol
			q := float64(st.Species[si].Valence) * ion.Faraday * mol
			e.chargeFlux[j.A] -= q
			e.chargeFlux[j.B] += q
		}
	}

	// Phase 4: concentration integration with non-negativity clamping.
	parallelFor(nCells, e.p.Workers, 16, func(start, end int) {
		for ci := start; ci < end; ci++ {
			warned := false
			vol := e.cluster.Cells[ci].Volume
			for si := 0; si < nSpecies; si++ {
				c0 := st.Conc[si][ci]
				c := c0 + dt*e.flux[si][ci]/vol
				if c < 0 {
					if c0 > 0 && -c > e.p.ClampTolerance*c0 {
						warned = true
					}
					c = 0
				}
				st.Conc[si][ci] = c
			}
			e.warnCell[ci] = warned
		}
	})

	// Phase 5: voltage closure. Voltage is never integrated on its
	// own; it is the accumulated charge over the membrane capacitance.
	parallelFor(nCells, e.p.Workers, 64, func(start, end int) {
		for ci := start; ci < end; ci++ {
			st.Charge[ci] += e.chargeFlux[ci] * dt
			st.Vm[ci] = st.Charge[ci] / (ion.MembraneCap * e.cluster.Cells[ci].MemArea)
		}
	})

	st.Step++
	st.Time += dt

	// Phase 6: stability check and divergence policy.
	if reason := e.checkFinite(); reason != "" {
		e.status = Diverged
		return &DivergenceError{Step: st.Step, Time: st.Time, Reason: reason}
	}
	warnedCells := 0
	for _, w := range e.warnCell {
		if w {
			warnedCells++
		}
	}
	e.warnings += warnedCells
	if float64(warnedCells) > e.p.DivergedCellFraction*float64(nCells) {
		e.consecBad++
	} else {
		e.consecBad = 0
	}
	if e.consecBad >= e.p.DivergedSteps {
		e.status = Diverged
		return &DivergenceError{
			Step: st.Step, Time: st.Time,
			Reason: fmt.Sprintf("concentration clamping in >%.0f%% of cells for %d consecutive steps",
				e.p.DivergedCellFraction*100, e.consecBad),
		}
	}

	e.lastStable = st.Snapshot()
	return nil
}

func (e *Engine) checkFinite() string {
	st := e.state
	for ci, v := range st.Vm {
		if !finite(v) {
			return fmt.Sprintf("non-finite voltage in cell %d", ci)
		}
	}
	for si := range st.Conc {
		for ci, c := range st.Conc[si] {
			if !finite(c) {
				return fmt.Sprintf("non-finite %s concentration in cell %d", st.Species[si].Name, ci)
			}
		}
	}
	for ai := range st.Gates {
		for _, gates := range st.Gates[ai] {
			for _, g := range gates {
				if !finite(g) {
					return fmt.Sprintf("non-finite gating value in attachment %d", ai)
				}
			}
		}
	}
	return ""
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clearFloats(a []float64) {
	for i := range a {
		a[i] = 0
	}
}
