package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/tissuesim/internal/tissue"
)

func stateWith(vm []float64, charge []float64) *tissue.State {
	return &tissue.State{Vm: vm, Charge: charge}
}

func TestPeakVoltage(t *testing.T) {
	m := NewPeakVoltage()
	m.Observe(stateWith([]float64{-70e-3, -65e-3}, nil))
	m.Observe(stateWith([]float64{25e-3, -80e-3}, nil))
	m.Observe(stateWith([]float64{-60e-3, -60e-3}, nil))

	if got := m.Value(); got != 25e-3 {
		t.Errorf("peak = %g, want 25e-3", got)
	}

	m.Reset()
	m.Observe(stateWith([]float64{-90e-3}, nil))
	if got := m.Value(); got != -90e-3 {
		t.Errorf("peak after reset = %g, want -90e-3", got)
	}
}

func TestMeanVoltage(t *testing.T) {
	m := NewMeanVoltage()
	m.Observe(stateWith([]float64{-60e-3, -80e-3}, nil))
	m.Observe(stateWith([]float64{-50e-3, -50e-3}, nil))

	want := (-70e-3 + -50e-3) / 2
	if got := m.Value(); math.Abs(got-want) > 1e-12 {
		t.Errorf("mean = %g, want %g", got, want)
	}
}

func TestChargeDriftOnConservedSystem(t *testing.T) {
	m := NewChargeDrift()
	m.Observe(stateWith(nil, []float64{-1e-12, -2e-12}))
	m.Observe(stateWith(nil, []float64{-2e-12, -1e-12}))

	if got := m.Value(); got != 0 {
		t.Errorf("drift = %g, want 0 for redistributed charge", got)
	}

	m.Observe(stateWith(nil, []float64{-1.5e-12, -3e-12}))
	if got := m.Value(); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("drift = %g, want 0.5", got)
	}
}

func TestSpikeCount(t *testing.T) {
	m := NewSpikeCount(0, -10e-3)

	trace := []float64{-70e-3, -30e-3, 5e-3, 30e-3, -20e-3, -70e-3, 15e-3, -60e-3}
	for _, vm := range trace {
		m.Observe(stateWith([]float64{vm}, nil))
	}

	if got := m.Value(); got != 2 {
		t.Errorf("spikes = %g, want 2", got)
	}
}

func TestSpikeCountIgnoresMissingCell(t *testing.T) {
	m := NewSpikeCount(5, -10e-3)
	m.Observe(stateWith([]float64{0}, nil))
	if got := m.Value(); got != 0 {
		t.Errorf("spikes = %g, want 0", got)
	}
}
