// Package channels defines the catalog of ion-channel and pump kinetic
// models attachable to cell membranes.
//
// Each model implements [Model], exposing the instantaneous per-species
// membrane flux and the time-derivative of its gating variables:
//
//	m, _ := NewRegistry().Get("nav")
//	gates := m.InitGates(-0.07)
//	m.Flux(env, gates, 1, flux)
//
// Fluxes are in mol/(m^2 s), positive into the cell. Gating variables
// are open fractions bounded to [0, 1].
package channels

import (
	"math"

	"github.com/san-kum/tissuesim/internal/ion"
)

// Env carries the local membrane conditions a model needs to evaluate
// its flux: voltage, concentrations on both faces, and temperature.
type Env struct {
	Vm   float64   // membrane voltage, inside minus outside [V]
	CIn  []float64 // intracellular concentrations per species [mol/m^3]
	COut []float64 // extracellular concentrations per species [mol/m^3]
	Temp float64   // [K]
}

// Model is one kinetic family. Implementations are immutable templates;
// per-cell gating state lives with the tissue, not the model.
type Model interface {
	Name() string
	NumGates() int

	// InitGates returns steady-state gating values at the given voltage.
	InitGates(vm float64) []float64

	// GatingDeriv writes d(gate)/dt [1/s] into dst.
	GatingDeriv(vm float64, gates []float64, cIn []float64, dst []float64)

	// Flux accumulates the per-species membrane flux [mol/m^2 s,
	// positive into the cell] into dst, scaled by density.
	Flux(env Env, gates []float64, density float64, dst []float64)
}

// Electroflux is the Goldman flux equation for electrodiffusion across
// a barrier of thickness d: the flux of a species with valence z and
// barrier diffusion constant dm, given inside and outside
// concentrations and the inside-minus-outside voltage. Falls back to
// Fick diffusion as the voltage term vanishes. Positive flux is into
// the "in" side. Gap junctions use it with their own span in place of
// the membrane thickness.
func Electroflux(cIn, cOut, dm, d float64, z int, vm, temp float64) float64 {
	alpha := float64(z) * vm * ion.Faraday / (ion.GasConst * temp)
	if math.Abs(alpha) < 1e-9 {
		return -(dm / d) * (cIn - cOut)
	}
	expA := math.Exp(-alpha)
	deno := 1 - expA
	return -((dm * alpha) / d) * (cIn - cOut*expA) / deno
}

func electroflux(cIn, cOut, dm float64, z int, vm, temp float64) float64 {
	return Electroflux(cIn, cOut, dm, ion.MembraneThickness, z, vm, temp)
}

// clampGate bounds a gating variable to [0, 1]. The rate equations are
// ill-behaved at extreme voltages, so integration must re-bound them.
func clampGate(g float64) float64 {
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}

// vtrap evaluates x / (e^x - 1), the singular factor in HH rate
// constants, with its removable singularity at x = 0 filled in.
func vtrap(x float64) float64 {
	if math.Abs(x) < 1e-7 {
		return 1 - x/2
	}
	return x / math.Expm1(x)
}
