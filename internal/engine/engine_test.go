package engine

import (
	"math"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/san-kum/tissuesim/internal/channels"
	"github.com/san-kum/tissuesim/internal/geometry"
	"github.com/san-kum/tissuesim/internal/ion"
	"github.com/san-kum/tissuesim/internal/network"
	"github.com/san-kum/tissuesim/internal/solver"
	"github.com/san-kum/tissuesim/internal/stim"
	"github.com/san-kum/tissuesim/internal/tissue"
)

// syntheticCluster hand-builds an n-cell cluster with uniform geometry
// so tests control areas and volumes exactly.
func syntheticCluster(n int) *geometry.Cluster {
	p := geometry.DefaultParams()
	square := []geometry.Vec2{{X: 0, Y: 0}, {X: 1e-5, Y: 0}, {X: 1e-5, Y: 1e-5}, {X: 0, Y: 1e-5}}
	cells := make([]geometry.Cell, n)
	var cands [][2]int
	for i := range cells {
		cells[i] = geometry.Cell{
			Index:   i,
			Centre:  geometry.Vec2{X: float64(i) * 1e-5, Y: 0},
			Verts:   square,
			MemArea: 3.14e-10,
			Volume:  7.85e-16,
		}
		if i > 0 {
			cands = append(cands, [2]int{i - 1, i})
		}
	}
	return &geometry.Cluster{Cells: cells, Params: p, Candidates: cands}
}

// isolatedNet builds a junction-free network for single-cell scenarios.
func isolatedNet(t *testing.T, cl *geometry.Cluster) *network.Net {
	t.Helper()
	np := network.DefaultParams()
	np.Rule = network.RuleRandom
	np.Prob = 0
	net, err := network.Build(cl, np)
	if err != nil {
		t.Fatalf("network build failed: %v", err)
	}
	return net
}

// coupledNet builds a chain network whose junctions stay fully open
// (gating threshold far above any test voltage).
func coupledNet(t *testing.T, cl *geometry.Cluster) *network.Net {
	t.Helper()
	np := network.DefaultParams()
	np.VThreshold = 10 // volts: gate never closes in tests
	net, err := network.Build(cl, np)
	if err != nil {
		t.Fatalf("network build failed: %v", err)
	}
	return net
}

func TestEngineStateMachine(t *testing.T) {
	cl := syntheticCluster(1)
	net := isolatedNet(t, cl)
	st, err := tissue.New(cl, ion.DefaultSpecies(), nil, tissue.DefaultParams())
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	e, err := New(cl, net, nil, st, nil, DefaultParams())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if e.Status() != Ready {
		t.Fatalf("status after New = %v, want Ready", e.Status())
	}

	if err := e.Step(0); err != ErrBadTimestep {
		t.Errorf("zero dt: got %v", err)
	}
	if err := e.Step(1e-4); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if e.Status() != Stepping {
		t.Errorf("status mid-run = %v, want Stepping", e.Status())
	}

	e.Finalize()
	if e.Status() != Finalized {
		t.Errorf("status after Finalize = %v", e.Status())
	}
	if err := e.Step(1e-4); err != ErrNotReady {
		t.Errorf("step after Finalize: got %v, want ErrNotReady", err)
	}
}

func TestZeroFluxSystemIsInvariant(t *testing.T) {
	// No channels, no stimulus, identical cells: nothing may move.
	cl := syntheticCluster(2)
	net := coupledNet(t, cl)
	st, err := tissue.New(cl, ion.DefaultSpecies(), nil, tissue.DefaultParams())
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	e, err := New(cl, net, nil, st, nil, DefaultParams())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	q0 := st.Charge[0] + st.Charge[1]
	for i := 0; i < 200; i++ {
		if err := e.Step(1e-4); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if q := st.Charge[0] + st.Charge[1]; math.Abs(q-q0) > 1e-12*math.Abs(q0) {
		t.Errorf("total charge drifted: %g -> %g", q0, q)
	}
	for si, sp := range st.Species {
		for ci := 0; ci < 2; ci++ {
			if st.Conc[si][ci] != sp.CIn {
				t.Errorf("%s in cell %d moved: %g", sp.Name, ci, st.Conc[si][ci])
			}
		}
	}
	if e.Warnings() != 0 {
		t.Errorf("zero-flux run produced %d warnings", e.Warnings())
	}
}

func TestJunctionExchangeConservesChargeAndMass(t *testing.T) {
	g := NewWithT(t)

	cl := syntheticCluster(2)
	net := coupledNet(t, cl)

	tp := tissue.DefaultParams()
	tp.Regions = []tissue.Region{{
		Centre: cl.Cells[0].Centre,
		Radius: 1e-6,
		Conc:   map[int]float64{ion.K: 200},
	}}
	st, err := tissue.New(cl, ion.DefaultSpecies(), nil, tp)
	g.Expect(err).NotTo(HaveOccurred())

	e, err := New(cl, net, nil, st, nil, DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	vol := cl.Cells[0].Volume
	q0 := st.Charge[0] + st.Charge[1]
	k0 := (st.Conc[ion.K][0] + st.Conc[ion.K][1]) * vol

	// Charged transfer equilibrates electrically within ~1e-7 s, so the
	// step must resolve the junction RC time.
	for i := 0; i < 500; i++ {
		g.Expect(e.Step(1e-8)).To(Succeed())
	}

	q1 := st.Charge[0] + st.Charge[1]
	k1 := (st.Conc[ion.K][0] + st.Conc[ion.K][1]) * vol
	g.Expect(q1).To(BeNumerically("~", q0, 1e-9*math.Abs(q0)+1e-20))
	g.Expect(k1).To(BeNumerically("~", k0, 1e-9*k0))

	// K moved down its gradient, cell 0 -> cell 1.
	g.Expect(st.Conc[ion.K][0]).To(BeNumerically("<", 200))
	g.Expect(st.Conc[ion.K][1]).To(BeNumerically(">", 139))
}

func TestTwoCellDiffusionTimeConstant(t *testing.T) {
	g := NewWithT(t)

	cl := syntheticCluster(2)
	net := coupledNet(t, cl)

	// A single neutral tracer species: no electrical feedback, so the
	// decay of the concentration difference is a clean exponential
	// with tau = L*V / (2*D*A).
	species := []ion.Species{{Name: "X", Valence: 0, D: 1e-9, CIn: 1.0, COut: 1.0}}
	tp := tissue.DefaultParams()
	tp.Vm0 = 0
	tp.Regions = []tissue.Region{{
		Centre: cl.Cells[0].Centre,
		Radius: 1e-6,
		Conc:   map[int]float64{0: 2.0},
	}}
	st, err := tissue.New(cl, species, nil, tp)
	g.Expect(err).NotTo(HaveOccurred())

	e, err := New(cl, net, nil, st, nil, DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	j := net.Junctions[0]
	vol := cl.Cells[0].Volume
	tau := j.Length * vol / (2 * species[0].D * j.Area)

	dt := tau / 1000
	prevDiff := st.Conc[0][0] - st.Conc[0][1]
	steps := 1000 // one time constant
	for i := 0; i < steps; i++ {
		g.Expect(e.Step(dt)).To(Succeed())
		diff := st.Conc[0][0] - st.Conc[0][1]
		g.Expect(diff).To(BeNumerically(">=", -1e-15), "difference should never change sign")
		g.Expect(diff).To(BeNumerically("<=", prevDiff+1e-15), "convergence should be monotone")
		prevDiff = diff
	}

	// After one tau the difference should have decayed to 1/e.
	want := 1.0 * math.Exp(-1)
	g.Expect(prevDiff).To(BeNumerically("~", want, 0.02*want))

	// And the junction stayed open: no voltage across it.
	g.Expect(net.Junctions[0].Open).To(BeNumerically("~", 1.0, 1e-6))
}

func TestVoltageClosureMatchesExternalRecomputation(t *testing.T) {
	g := NewWithT(t)

	cl := syntheticCluster(1)
	net := isolatedNet(t, cl)
	species := ion.DefaultSpecies()

	reg := channels.NewRegistry()
	leak, err := reg.Attach("leak", []int{0}, 1)
	g.Expect(err).NotTo(HaveOccurred())

	st, err := tissue.New(cl, species, []*channels.Attachment{leak}, tissue.DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	e, err := New(cl, net, []*channels.Attachment{leak}, st, nil, DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	dt := 1e-5
	model := channels.NewLeak()
	capArea := ion.MembraneCap * cl.Cells[0].MemArea

	for i := 0; i < 200; i++ {
		// Recompute the expected voltage increment from the snapshot
		// the engine is about to consume.
		cIn := make([]float64, len(species))
		for si := range species {
			cIn[si] = st.Conc[si][0]
		}
		env := channels.Env{Vm: st.Vm[0], CIn: cIn, COut: st.Bath, Temp: st.Params.Temp}
		flux := make([]float64, len(species))
		model.Flux(env, nil, 1, flux)

		charge := 0.0
		for si, sp := range species {
			charge += float64(sp.Valence) * ion.Faraday * flux[si] * net.EnvArea[0]
		}
		wantVm := st.Vm[0] + dt*charge/capArea

		g.Expect(e.Step(dt)).To(Succeed())
		g.Expect(st.Vm[0]).To(BeNumerically("~", wantVm, 1e-12))

		// The capacitive relation holds identically at every step.
		g.Expect(st.Vm[0]).To(Equal(st.Charge[0] / capArea))
	}
}

func hhAttachments(t *testing.T, reg *channels.Registry, cells []int) []*channels.Attachment {
	t.Helper()
	var atts []*channels.Attachment
	for _, name := range []string{"leak", "nav", "kv"} {
		a, err := reg.Attach(name, cells, 1)
		if err != nil {
			t.Fatalf("attach %s: %v", name, err)
		}
		atts = append(atts, a)
	}
	return atts
}

func TestSingleCellActionPotential(t *testing.T) {
	g := NewWithT(t)

	cl := syntheticCluster(1)
	net := isolatedNet(t, cl)
	atts := hhAttachments(t, channels.NewRegistry(), []int{0})

	st, err := tissue.New(cl, ion.DefaultSpecies(), atts, tissue.DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	pulse := stim.NewPulse(1.0, 5e-3, 8e-3, []int{0})
	e, err := New(cl, net, atts, st, pulse, DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	dt := 1e-5
	steps := 3000 // 30 ms
	peak := math.Inf(-1)
	preStim := st.Vm[0]
	for i := 0; i < steps; i++ {
		g.Expect(e.Step(dt)).To(Succeed())
		if st.Vm[0] > peak {
			peak = st.Vm[0]
		}
		for si := range st.Species {
			g.Expect(st.Conc[si][0]).To(BeNumerically(">=", 0))
		}
	}

	// Resting state sits in the physiological range before the pulse.
	g.Expect(preStim).To(BeNumerically(">", -90e-3))
	g.Expect(preStim).To(BeNumerically("<", -50e-3))

	// The transient rises past 0 mV and repolarizes well below the
	// firing range by the end of the window.
	g.Expect(peak).To(BeNumerically(">", 0))
	g.Expect(st.Vm[0]).To(BeNumerically("<", -40e-3))
	g.Expect(e.Status()).To(Equal(Stepping))
}

func TestDeterministicAcrossRuns(t *testing.T) {
	run := func() *tissue.Snapshot {
		cl := syntheticCluster(4)
		net := coupledNet(t, cl)
		atts := hhAttachments(t, channels.NewRegistry(), []int{0, 1, 2, 3})

		st, err := tissue.New(cl, ion.DefaultSpecies(), atts, tissue.DefaultParams())
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		p := DefaultParams()
		p.Workers = 4
		e, err := New(cl, net, atts, st, stim.NewPulse(100, 0, 1e-3, []int{0}), p)
		if err != nil {
			t.Fatalf("engine: %v", err)
		}
		for i := 0; i < 500; i++ {
			if err := e.Step(1e-8); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
		}
		return st.Snapshot()
	}

	a, b := run(), run()
	for ci := range a.Vm {
		if a.Vm[ci] != b.Vm[ci] {
			t.Fatalf("cell %d voltage differs between identical runs: %g vs %g", ci, a.Vm[ci], b.Vm[ci])
		}
	}
	for si := range a.Conc {
		for ci := range a.Conc[si] {
			if a.Conc[si][ci] != b.Conc[si][ci] {
				t.Fatalf("species %d cell %d differs between identical runs", si, ci)
			}
		}
	}
}

func TestAbsurdTimestepDiverges(t *testing.T) {
	g := NewWithT(t)

	cl := syntheticCluster(1)
	net := isolatedNet(t, cl)
	atts := hhAttachments(t, channels.NewRegistry(), []int{0})

	st, err := tissue.New(cl, ion.DefaultSpecies(), atts, tissue.DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	e, err := New(cl, net, atts, st, stim.NewPulse(1.0, 0, 1e3, []int{0}), DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	var stepErr error
	for i := 0; i < 200; i++ {
		if stepErr = e.Step(0.1); stepErr != nil {
			break
		}
	}

	g.Expect(stepErr).To(HaveOccurred())
	g.Expect(stepErr).To(BeAssignableToTypeOf(&DivergenceError{}))
	g.Expect(e.Status()).To(Equal(Diverged))

	// The preserved snapshot is finite even though the live state blew
	// up.
	last := e.LastStable()
	g.Expect(last).NotTo(BeNil())
	for _, v := range last.Vm {
		g.Expect(math.IsNaN(v) || math.IsInf(v, 0)).To(BeFalse(), "last stable snapshot must be finite")
	}

	// A diverged engine refuses further stepping.
	g.Expect(e.Step(1e-5)).To(Equal(ErrNotReady))
}

func TestMismatchedAttachmentsRejectedAtSetup(t *testing.T) {
	cl := syntheticCluster(1)
	net := isolatedNet(t, cl)
	atts := hhAttachments(t, channels.NewRegistry(), []int{0})

	// State built without the attachments the engine is handed: the
	// shape mismatch must surface here, not as an index panic mid-step.
	st, err := tissue.New(cl, ion.DefaultSpecies(), nil, tissue.DefaultParams())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if _, err := New(cl, net, atts, st, nil, DefaultParams()); err == nil {
		t.Error("expected error for gating/attachment mismatch")
	}

	// And the per-attachment target lists must agree as well.
	narrow, err := channels.NewRegistry().Attach("nav", []int{0}, 1)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	st2, err := tissue.New(cl, ion.DefaultSpecies(), []*channels.Attachment{narrow}, tissue.DefaultParams())
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	wide := &channels.Attachment{Model: narrow.Model, Cells: []int{0, 0}, Density: 1}
	if _, err := New(cl, net, []*channels.Attachment{wide}, st2, nil, DefaultParams()); err == nil {
		t.Error("expected error for mismatched attachment target count")
	}
}

func TestRushLarsenSchemePreservesContract(t *testing.T) {
	g := NewWithT(t)

	cl := syntheticCluster(1)
	net := isolatedNet(t, cl)
	atts := hhAttachments(t, channels.NewRegistry(), []int{0})

	st, err := tissue.New(cl, ion.DefaultSpecies(), atts, tissue.DefaultParams())
	g.Expect(err).NotTo(HaveOccurred())

	p := DefaultParams()
	p.Scheme = "rushlarsen"
	e, err := New(cl, net, atts, st, stim.NewPulse(1.0, 5e-3, 8e-3, []int{0}), p)
	g.Expect(err).NotTo(HaveOccurred())

	peak := math.Inf(-1)
	for i := 0; i < 3000; i++ {
		g.Expect(e.Step(1e-5)).To(Succeed())
		if st.Vm[0] > peak {
			peak = st.Vm[0]
		}
	}
	g.Expect(peak).To(BeNumerically(">", 0))
	g.Expect(st.Vm[0]).To(BeNumerically("<", -40e-3))
}

func TestUnknownSchemeRejectedAtSetup(t *testing.T) {
	cl := syntheticCluster(1)
	net := isolatedNet(t, cl)
	st, err := tissue.New(cl, ion.DefaultSpecies(), nil, tissue.DefaultParams())
	if err != nil {
		t.Fatalf("state: %v", err)
	}

	p := DefaultParams()
	p.Scheme = "rk4"
	if _, err := New(cl, net, nil, st, nil, p); err == nil {
		t.Error("expected error for unknown gating scheme")
	}
	if _, ok := solver.ByName("euler").(*solver.Euler); !ok {
		t.Error("default scheme should be euler")
	}
}
