// Package network derives the gap-junction graph from a cell cluster's
// neighbor candidates and marks environment-facing membrane.
package network

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/tissuesim/internal/geometry"
)

// ConnectivityError reports a coupling configuration the cluster cannot
// satisfy, surfaced at setup before any stepping.
type ConnectivityError struct {
	Reason string
}

func (e *ConnectivityError) Error() string {
	return "network: " + e.Reason
}

// Rule selects which candidate pairs become junctions.
type Rule string

const (
	// RuleAll couples every candidate pair.
	RuleAll Rule = "all"
	// RuleRandom couples each candidate pair with probability Prob.
	RuleRandom Rule = "random"
	// RuleExcludeBoundary couples all pairs not touching a boundary cell.
	RuleExcludeBoundary Rule = "exclude-boundary"
)

// Params controls junction placement and voltage gating.
type Params struct {
	Rule Rule
	Prob float64 // coupling probability for RuleRandom
	Seed int64

	// RequireConnected fails construction if any cell ends up with no
	// junction at all. Implied by RuleAll.
	RequireConnected bool

	// Junction geometry: each junction occupies AreaFrac of a
	// characteristic membrane patch and spans Length between the two
	// cytoplasms.
	AreaFrac float64
	Length   float64 // [m]

	// Voltage gating of the junction open fraction: monotone closure
	// above VThreshold of transjunctional voltage magnitude.
	VThreshold float64 // [V]
	GateSlope  float64 // [V]
	GateTau    float64 // [s]
	MinOpen    float64 // residual open fraction when fully closed
}

func DefaultParams() Params {
	return Params{
		Rule:       RuleAll,
		Prob:       1.0,
		AreaFrac:   0.1,
		Length:     1.5e-8,
		VThreshold: 15e-3,
		GateSlope:  5e-3,
		GateTau:    0.5,
		MinOpen:    0.05,
	}
}

// OpenInf is the steady-state open fraction for a transjunctional
// voltage: a sigmoid in |vj| that closes monotonically above the
// threshold, the connexin-like gating response.
func (p Params) OpenInf(vj float64) float64 {
	if vj < 0 {
		vj = -vj
	}
	return p.MinOpen + (1-p.MinOpen)/(1+math.Exp((vj-p.VThreshold)/p.GateSlope))
}

// GapJunction couples cells A and B (A < B). Area and Length fix its
// geometric permeability; Open is mutable gating state, written by the
// simulation engine every step and never removed during a run.
type GapJunction struct {
	A, B   int
	Area   float64 // junction cross-section [m^2]
	Length float64 // cytoplasm-to-cytoplasm distance [m]
	Open   float64 // gated open fraction in [MinOpen, 1]
}

// Net is the finalized connectivity: the junction edge list, a per-cell
// index into it, and the environment-facing membrane area per cell.
type Net struct {
	Junctions []GapJunction
	Params    Params

	// ByCell[i] lists indices into Junctions touching cell i.
	ByCell [][]int

	// EnvArea[i] is the membrane area of cell i exposed to the
	// extracellular bath rather than to a neighbor [m^2].
	EnvArea []float64
}

// Build finalizes the gap-junction set over the cluster's candidate
// adjacency. Deterministic for a fixed seed.
func Build(cl *geometry.Cluster, p Params) (*Net, error) {
	if p.Rule == RuleRandom && (p.Prob < 0 || p.Prob > 1) {
		return nil, &ConnectivityError{Reason: fmt.Sprintf("coupling probability %g outside [0,1]", p.Prob)}
	}
	rng := rand.New(rand.NewSource(p.Seed))

	// Junction cross-section approximated from the shared-edge scale of
	// the tessellation: edge length ~ cell radius.
	area := p.AreaFrac * cl.Params.Height * cl.Params.CellRadius

	n := &Net{
		Params:  p,
		ByCell:  make([][]int, len(cl.Cells)),
		EnvArea: make([]float64, len(cl.Cells)),
	}

	for _, pair := range cl.Candidates {
		a, b := pair[0], pair[1]
		keep := false
		switch p.Rule {
		case RuleAll:
			keep = true
		case RuleRandom:
			keep = rng.Float64() < p.Prob
		case RuleExcludeBoundary:
			keep = !cl.Cells[a].Boundary && !cl.Cells[b].Boundary
		default:
			return nil, &ConnectivityError{Reason: fmt.Sprintf("unknown coupling rule %q", p.Rule)}
		}
		if !keep {
			continue
		}
		idx := len(n.Junctions)
		n.Junctions = append(n.Junctions, GapJunction{
			A: a, B: b, Area: area, Length: p.Length, Open: 1,
		})
		n.ByCell[a] = append(n.ByCell[a], idx)
		n.ByCell[b] = append(n.ByCell[b], idx)
	}

	if p.Rule == RuleAll || p.RequireConnected {
		for i, js := range n.ByCell {
			if len(js) == 0 {
				return nil, &ConnectivityError{Reason: fmt.Sprintf("cell %d has no gap junctions under rule %q", i, p.Rule)}
			}
		}
	}

	for i, c := range cl.Cells {
		occupied := float64(len(n.ByCell[i])) * area
		env := c.MemArea - occupied
		// Junctions can never swallow the whole membrane.
		if env < 0.1*c.MemArea {
			env = 0.1 * c.MemArea
		}
		n.EnvArea[i] = env
	}
	return n, nil
}
