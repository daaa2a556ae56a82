// Package stim provides externally applied stimulus protocols: current
// injections and voltage clamps applied to target cells during a run.
package stim

// Protocol supplies the applied membrane current density for a cell at
// time t [A/m^2], positive inward (depolarizing). The engine treats the
// injected current as pure charge: it shifts voltage without moving any
// tracked species.
type Protocol interface {
	Current(cell int, t, vm float64) float64
}

// None applies no stimulus.
type None struct{}

func NewNone() *None { return &None{} }

func (*None) Current(int, float64, float64) float64 { return 0 }

// Pulse injects a constant current into the target cells during
// [Start, Stop).
type Pulse struct {
	Amp         float64 // [A/m^2]
	Start, Stop float64 // [s]
	targets     map[int]bool
}

func NewPulse(amp, start, stop float64, cells []int) *Pulse {
	p := &Pulse{Amp: amp, Start: start, Stop: stop, targets: make(map[int]bool, len(cells))}
	for _, c := range cells {
		p.targets[c] = true
	}
	return p
}

func (p *Pulse) Current(cell int, t, _ float64) float64 {
	if t < p.Start || t >= p.Stop || !p.targets[cell] {
		return 0
	}
	return p.Amp
}

// Train injects periodic pulses of the given width from Start onward.
type Train struct {
	Amp    float64
	Start  float64
	Period float64
	Width  float64
	target map[int]bool
}

func NewTrain(amp, start, period, width float64, cells []int) *Train {
	tr := &Train{Amp: amp, Start: start, Period: period, Width: width, target: make(map[int]bool, len(cells))}
	for _, c := range cells {
		tr.target[c] = true
	}
	return tr
}

func (tr *Train) Current(cell int, t, _ float64) float64 {
	if tr.Period <= 0 || t < tr.Start || !tr.target[cell] {
		return 0
	}
	phase := t - tr.Start
	for phase >= tr.Period {
		phase -= tr.Period
	}
	if phase < tr.Width {
		return tr.Amp
	}
	return 0
}

// Clamp holds the target cells near a set-point voltage by injecting a
// proportional feedback current, the voltage-clamp analog of a P
// controller.
type Clamp struct {
	Target float64 // [V]
	Gain   float64 // [S/m^2]
	cells  map[int]bool
}

func NewClamp(target, gain float64, cells []int) *Clamp {
	c := &Clamp{Target: target, Gain: gain, cells: make(map[int]bool, len(cells))}
	for _, ci := range cells {
		c.cells[ci] = true
	}
	return c
}

func (c *Clamp) Current(cell int, _, vm float64) float64 {
	if !c.cells[cell] {
		return 0
	}
	return c.Gain * (c.Target - vm)
}
