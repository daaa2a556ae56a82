package channels

import "github.com/san-kum/tissuesim/internal/ion"

// KCa is a calcium-activated potassium channel: its single gate relaxes
// toward a Hill function of intracellular Ca2+ rather than of voltage,
// giving the catalog its ligand-gated variant.
type KCa struct {
	DmMax float64
	Km    float64 // half-activation Ca2+ concentration [mol/m^3]
	Hill  float64
	Tau   float64 // gate relaxation time constant [s]
}

func NewKCa() *KCa {
	return &KCa{
		DmMax: 1.0e-15,
		Km:    1.0e-3,
		Hill:  2,
		Tau:   5e-3,
	}
}

func (c *KCa) Name() string  { return "kca" }
func (c *KCa) NumGates() int { return 1 }

func (c *KCa) openInf(cCa float64) float64 {
	if cCa <= 0 {
		return 0
	}
	x := cCa / c.Km
	xn := x
	for i := 1; i < int(c.Hill); i++ {
		xn *= x
	}
	return xn / (1 + xn)
}

func (c *KCa) InitGates(float64) []float64 {
	// Gate starts closed; it opens only as Ca2+ accumulates.
	return []float64{0}
}

func (c *KCa) GatingDeriv(_ float64, gates []float64, cIn []float64, dst []float64) {
	dst[0] = (c.openInf(cIn[ion.Ca]) - gates[0]) / c.Tau
}

func (c *KCa) Flux(env Env, gates []float64, density float64, dst []float64) {
	dm := density * c.DmMax * gates[0]
	dst[ion.K] += electroflux(env.CIn[ion.K], env.COut[ion.K], dm, 1, env.Vm, env.Temp)
}
