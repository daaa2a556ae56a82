// Package metrics computes summary diagnostics over a run by observing
// the live state once per step.
package metrics

import (
	"math"

	"github.com/san-kum/tissuesim/internal/engine"
	"github.com/san-kum/tissuesim/internal/runner"
	"github.com/san-kum/tissuesim/internal/tissue"
)

type Metric interface {
	Name() string
	Observe(st *tissue.State)
	Value() float64
	Reset()
}

// Attach registers metrics on a runner, sampling the engine's state
// after every applied step.
func Attach(r *runner.Runner, st *tissue.State, ms ...Metric) {
	r.AddObserver(runner.ObserverFunc(func(step int, t float64, status engine.Status) {
		for _, m := range ms {
			m.Observe(st)
		}
	}))
}

// PeakVoltage tracks the most depolarized membrane voltage seen
// anywhere in the cluster [V].
type PeakVoltage struct {
	peak float64
	seen bool
}

func NewPeakVoltage() *PeakVoltage { return &PeakVoltage{} }

func (p *PeakVoltage) Name() string { return "peak_voltage" }

func (p *PeakVoltage) Observe(st *tissue.State) {
	for _, vm := range st.Vm {
		if !p.seen || vm > p.peak {
			p.peak = vm
			p.seen = true
		}
	}
}

func (p *PeakVoltage) Value() float64 { return p.peak }
func (p *PeakVoltage) Reset()        { p.peak = 0; p.seen = false }

// MeanVoltage is the time average of the spatial mean voltage [V].
type MeanVoltage struct {
	sum     float64
	samples int
}

func NewMeanVoltage() *MeanVoltage { return &MeanVoltage{} }

func (m *MeanVoltage) Name() string { return "mean_voltage" }

func (m *MeanVoltage) Observe(st *tissue.State) {
	if len(st.Vm) == 0 {
		return
	}
	total := 0.0
	for _, vm := range st.Vm {
		total += vm
	}
	m.sum += total / float64(len(st.Vm))
	m.samples++
}

func (m *MeanVoltage) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanVoltage) Reset() { m.sum = 0; m.samples = 0 }

// ChargeDrift reports the relative change of total membrane charge
// since the first observation. For a cluster with no transmembrane
// current it should stay near zero; large drift flags a leaky step.
type ChargeDrift struct {
	initial float64
	latest  float64
	seen    bool
}

func NewChargeDrift() *ChargeDrift { return &ChargeDrift{} }

func (c *ChargeDrift) Name() string { return "charge_drift" }

func (c *ChargeDrift) Observe(st *tissue.State) {
	total := 0.0
	for _, q := range st.Charge {
		total += q
	}
	if !c.seen {
		c.initial = total
		c.seen = true
	}
	c.latest = total
}

func (c *ChargeDrift) Value() float64 {
	if !c.seen || c.initial == 0 {
		return 0
	}
	return math.Abs(c.latest-c.initial) / math.Abs(c.initial)
}

func (c *ChargeDrift) Reset() { c.initial = 0; c.latest = 0; c.seen = false }

// SpikeCount counts upward threshold crossings of one probed cell.
type SpikeCount struct {
	cell      int
	threshold float64
	above     bool
	count     int
}

// NewSpikeCount watches the given cell; crossings of threshold [V]
// from below count as one spike each.
func NewSpikeCount(cell int, threshold float64) *SpikeCount {
	return &SpikeCount{cell: cell, threshold: threshold}
}

func (s *SpikeCount) Name() string { return "spike_count" }

func (s *SpikeCount) Observe(st *tissue.State) {
	if s.cell < 0 || s.cell >= len(st.Vm) {
		return
	}
	vm := st.Vm[s.cell]
	if vm >= s.threshold && !s.above {
		s.count++
		s.above = true
	} else if vm < s.threshold {
		s.above = false
	}
}

func (s *SpikeCount) Value() float64 { return float64(s.count) }
func (s *SpikeCount) Reset()        { s.above = false; s.count = 0 }
