package channels

import (
	"math"

	"github.com/san-kum/tissuesim/internal/ion"
)

// NaV is the Hodgkin-Huxley voltage-gated sodium channel with m^3 h
// gating. Rate constants follow the classic squid-axon fits with the
// membrane potential expressed in mV relative to a -40 mV activation
// reference; rates are per millisecond and scaled to SI seconds.
type NaV struct {
	DmMax float64 // peak membrane diffusion constant for Na [m^2/s]
}

func NewNaV() *NaV {
	return &NaV{DmMax: 4.28e-14}
}

func (c *NaV) Name() string  { return "nav" }
func (c *NaV) NumGates() int { return 2 } // m, h

func (c *NaV) rates(vm float64) (am, bm, ah, bh float64) {
	v := vm*1000 + 40.0
	am = vtrap((25 - v) / 10)
	bm = 4.0 * math.Exp(-v/18)
	ah = 0.07 * math.Exp(-v/20)
	bh = 1.0 / (1 + math.Exp((30-v)/10))
	return
}

func (c *NaV) InitGates(vm float64) []float64 {
	am, bm, ah, bh := c.rates(vm)
	return []float64{
		clampGate(am / (am + bm)),
		clampGate(ah / (ah + bh)),
	}
}

func (c *NaV) GatingDeriv(vm float64, gates []float64, _ []float64, dst []float64) {
	am, bm, ah, bh := c.rates(vm)
	m, h := gates[0], gates[1]
	dst[0] = (am*(1-m) - bm*m) * 1e3
	dst[1] = (ah*(1-h) - bh*h) * 1e3
}

func (c *NaV) Flux(env Env, gates []float64, density float64, dst []float64) {
	m, h := gates[0], gates[1]
	dm := density * c.DmMax * m * m * m * h
	dst[ion.Na] += electroflux(env.CIn[ion.Na], env.COut[ion.Na], dm, 1, env.Vm, env.Temp)
}

// Kv is the Hodgkin-Huxley delayed-rectifier potassium channel with n^4
// gating, referenced to -20 mV.
type Kv struct {
	DmMax float64
}

func NewKv() *Kv {
	return &Kv{DmMax: 1.28e-14}
}

func (c *Kv) Name() string  { return "kv" }
func (c *Kv) NumGates() int { return 1 } // n

func (c *Kv) rates(vm float64) (an, bn float64) {
	v := vm*1000 + 20.0
	an = 0.1 * vtrap((10-v)/10)
	bn = 0.125 * math.Exp(-v/80)
	return
}

func (c *Kv) InitGates(vm float64) []float64 {
	an, bn := c.rates(vm)
	return []float64{clampGate(an / (an + bn))}
}

func (c *Kv) GatingDeriv(vm float64, gates []float64, _ []float64, dst []float64) {
	an, bn := c.rates(vm)
	n := gates[0]
	dst[0] = (an*(1-n) - bn*n) * 1e3
}

func (c *Kv) Flux(env Env, gates []float64, density float64, dst []float64) {
	n := gates[0]
	dm := density * c.DmMax * n * n * n * n
	dst[ion.K] += electroflux(env.CIn[ion.K], env.COut[ion.K], dm, 1, env.Vm, env.Temp)
}
