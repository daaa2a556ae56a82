// Package tissue holds the mutable simulation state of a cell cluster:
// per-cell voltage and charge, intracellular concentrations, and
// channel gating values. The simulation engine owns the state for the
// duration of a run; everyone else reads snapshots.
package tissue

import (
	"fmt"

	"github.com/san-kum/tissuesim/internal/channels"
	"github.com/san-kum/tissuesim/internal/geometry"
	"github.com/san-kum/tissuesim/internal/ion"
)

// Region is a circular initial-condition patch: a wound site or
// stimulus zone overriding the species defaults inside its radius.
type Region struct {
	Centre geometry.Vec2
	Radius float64

	Vm   *float64        // optional resting-voltage override [V]
	Conc map[int]float64 // species index -> intracellular concentration
}

// Params fixes the initial conditions applied by New and Reset.
type Params struct {
	Vm0     float64 // resting voltage for unpatched cells [V]
	Temp    float64
	Regions []Region
}

func DefaultParams() Params {
	return Params{Vm0: -70e-3, Temp: ion.DefaultTemp}
}

// State is the aggregate simulation state. Voltage is not independent:
// it is recomputed from Charge through the capacitive relation, so the
// two can never drift apart.
type State struct {
	Species []ion.Species
	Params  Params

	Step int
	Time float64

	Vm     []float64   // [cell] membrane voltage [V]
	Charge []float64   // [cell] accumulated membrane charge [C]
	Conc   [][]float64 // [species][cell] intracellular [mol/m^3]
	Bath   []float64   // [species] extracellular, spatially uniform

	// Gates[a][k] is the gate vector for attachment a's k-th target
	// cell.
	Gates [][][]float64

	// initial holds the post-construction copy Reset restores.
	initial *Snapshot
}

// Snapshot is an independent deep copy of the observable state, safe to
// hand to exporters while the engine keeps stepping.
type Snapshot struct {
	Step  int
	Time  float64
	Vm    []float64
	Conc  [][]float64
	Bath  []float64
	Gates [][][]float64
}

// New builds the initial state: species defaults interpolated with
// region patches, charge seeded from the capacitive relation, gates at
// their voltage steady state.
func New(cl *geometry.Cluster, species []ion.Species, atts []*channels.Attachment, p Params) (*State, error) {
	n := len(cl.Cells)
	if p.Temp <= 0 {
		return nil, fmt.Errorf("tissue: temperature must be positive, got %g", p.Temp)
	}

	s := &State{
		Species: species,
		Params:  p,
		Vm:      make([]float64, n),
		Charge:  make([]float64, n),
		Conc:    make([][]float64, len(species)),
		Bath:    make([]float64, len(species)),
		Gates:   make([][][]float64, len(atts)),
	}
	for si, sp := range species {
		s.Bath[si] = sp.COut
		s.Conc[si] = make([]float64, n)
		for ci := range s.Conc[si] {
			s.Conc[si][ci] = sp.CIn
		}
	}
	for ci := range cl.Cells {
		s.Vm[ci] = p.Vm0
	}

	for _, r := range p.Regions {
		if r.Radius <= 0 {
			return nil, fmt.Errorf("tissue: region radius must be positive, got %g", r.Radius)
		}
		for ci, c := range cl.Cells {
			if c.Centre.Dist(r.Centre) > r.Radius {
				continue
			}
			if r.Vm != nil {
				s.Vm[ci] = *r.Vm
			}
			for si, v := range r.Conc {
				if si < 0 || si >= len(species) {
					return nil, fmt.Errorf("tissue: region references species index %d", si)
				}
				if v < 0 {
					return nil, fmt.Errorf("tissue: region concentration %g < 0", v)
				}
				s.Conc[si][ci] = v
			}
		}
	}

	// Seed charge so voltage and charge agree from step zero.
	for ci, c := range cl.Cells {
		s.Charge[ci] = ion.MembraneCap * c.MemArea * s.Vm[ci]
	}

	for ai, att := range atts {
		s.Gates[ai] = make([][]float64, len(att.Cells))
		for k, ci := range att.Cells {
			s.Gates[ai][k] = att.Model.InitGates(s.Vm[ci])
		}
	}

	s.initial = s.Snapshot()
	return s, nil
}

// Snapshot deep-copies the observable state.
func (s *State) Snapshot() *Snapshot {
	snap := &Snapshot{
		Step:  s.Step,
		Time:  s.Time,
		Vm:    append([]float64(nil), s.Vm...),
		Bath:  append([]float64(nil), s.Bath...),
		Conc:  make([][]float64, len(s.Conc)),
		Gates: make([][][]float64, len(s.Gates)),
	}
	for si := range s.Conc {
		snap.Conc[si] = append([]float64(nil), s.Conc[si]...)
	}
	for ai := range s.Gates {
		snap.Gates[ai] = make([][]float64, len(s.Gates[ai]))
		for k := range s.Gates[ai] {
			snap.Gates[ai][k] = append([]float64(nil), s.Gates[ai][k]...)
		}
	}
	return snap
}

// Reset restores the configured initial conditions.
func (s *State) Reset(cl *geometry.Cluster) {
	init := s.initial
	s.Step = 0
	s.Time = 0
	copy(s.Vm, init.Vm)
	copy(s.Bath, init.Bath)
	for si := range s.Conc {
		copy(s.Conc[si], init.Conc[si])
	}
	for ai := range s.Gates {
		for k := range s.Gates[ai] {
			copy(s.Gates[ai][k], init.Gates[ai][k])
		}
	}
	for ci, c := range cl.Cells {
		s.Charge[ci] = ion.MembraneCap * c.MemArea * s.Vm[ci]
	}
}

// NumCells returns the cluster size the state was built for.
func (s *State) NumCells() int { return len(s.Vm) }
