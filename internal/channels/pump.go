package channels

import (
	"math"

	"github.com/san-kum/tissuesim/internal/ion"
)

// NaKPump is the Na+/K+-ATPase: active transport of 3 Na+ out and 2 K+
// in per ATP hydrolyzed. The rate is the thermodynamic form: a maximum
// turnover scaled by how far the transport reaction sits from its
// ATP-coupled equilibrium, saturated by Michaelis-Menten terms in the
// transported species.
type NaKPump struct {
	AlphaMax float64 // maximum pump rate [mol/m^2 s]

	// Fixed metabolite pool [mol/m^3]; a metabolism module would make
	// these dynamic.
	CATP, CADP, CPi float64

	DeltaGATP float64 // standard free energy of ATP hydrolysis [J/mol], negative

	KmNa, KmK, KmATP float64
}

func NewNaKPump() *NaKPump {
	return &NaKPump{
		AlphaMax:  1.0e-7,
		CATP:      1.5,
		CADP:      0.1,
		CPi:       0.5,
		DeltaGATP: -37000,
		KmNa:      12.0,
		KmK:       0.2,
		KmATP:     0.5,
	}
}

func (c *NaKPump) Name() string                { return "nakpump" }
func (c *NaKPump) NumGates() int               { return 0 }
func (c *NaKPump) InitGates(float64) []float64 { return nil }

func (c *NaKPump) GatingDeriv(float64, []float64, []float64, []float64) {}

func (c *NaKPump) Flux(env Env, _ []float64, density float64, dst []float64) {
	cNai, cNao := env.CIn[ion.Na], env.COut[ion.Na]
	cKi, cKo := env.CIn[ion.K], env.COut[ion.K]

	// Reaction quotient of ATP + 3 Na_in + 2 K_out -> ADP + Pi + 3 Na_out + 2 K_in.
	qNum := c.CADP * c.CPi * math.Pow(cNao, 3) * math.Pow(cKi, 2)
	qDen := c.CATP * math.Pow(cNai, 3) * math.Pow(cKo, 2)
	if qDen == 0 {
		qDen = 1e-10
	}
	q := qNum / qDen

	rt := ion.GasConst * env.Temp
	keq := math.Exp(-c.DeltaGATP/rt + ion.Faraday*env.Vm/rt)

	alpha := density * c.AlphaMax * (1 - q/keq)

	// Enzyme saturation in the transported substrates and ATP.
	na3 := math.Pow(cNai/c.KmNa, 3)
	ko2 := math.Pow(cKo/c.KmK, 2)
	atp := c.CATP / c.KmATP
	sat := (na3 * ko2 * atp) / ((1 + na3) * (1 + ko2) * (1 + atp))

	fNa := -alpha * sat // Na+ out of the cell when pumping forward
	fK := -(2.0 / 3.0) * fNa

	dst[ion.Na] += fNa
	dst[ion.K] += fK
}
