package channels

import "github.com/san-kum/tissuesim/internal/ion"

// Leak models the ungated background permeability of the membrane. Per
// species membrane diffusion constants set the resting potential:
// potassium dominates, so an undisturbed cell settles near E_K.
type Leak struct {
	Dm [ion.NumSpecies]float64
}

func NewLeak() *Leak {
	l := &Leak{}
	l.Dm[ion.Na] = 1.0e-18
	l.Dm[ion.K] = 15.0e-18
	l.Dm[ion.Cl] = 2.0e-18
	l.Dm[ion.Ca] = 1.0e-19
	return l
}

func (c *Leak) Name() string                { return "leak" }
func (c *Leak) NumGates() int               { return 0 }
func (c *Leak) InitGates(float64) []float64 { return nil }

func (c *Leak) GatingDeriv(float64, []float64, []float64, []float64) {}

func (c *Leak) Flux(env Env, _ []float64, density float64, dst []float64) {
	for s := 0; s < ion.NumSpecies; s++ {
		if c.Dm[s] == 0 {
			continue
		}
		z := defaultValence[s]
		dst[s] += electroflux(env.CIn[s], env.COut[s], density*c.Dm[s], z, env.Vm, env.Temp)
	}
}

// defaultValence mirrors ion.DefaultSpecies; kept as a flat table so
// leak flux needs no species slice in the hot path.
var defaultValence = [ion.NumSpecies]int{
	ion.Na: 1, ion.K: 1, ion.Cl: -1, ion.Ca: 2, ion.H: 1, ion.Protein: -1,
}
