package runner_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/tissuesim/internal/channels"
	"github.com/san-kum/tissuesim/internal/engine"
	"github.com/san-kum/tissuesim/internal/geometry"
	"github.com/san-kum/tissuesim/internal/ion"
	"github.com/san-kum/tissuesim/internal/network"
	"github.com/san-kum/tissuesim/internal/runner"
	"github.com/san-kum/tissuesim/internal/stim"
	"github.com/san-kum/tissuesim/internal/tissue"
)

// chainCluster hand-builds a row of identical cells.
func chainCluster(n int) *geometry.Cluster {
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
	return &geometry.Cluster{Cells: cells, Params: geometry.DefaultParams(), Candidates: cands}
}

// quietEngine has no channels and identical cells: stable at any dt.
func quietEngine() *engine.Engine {
	cl := chainCluster(2)
	net, err := network.Build(cl, network.DefaultParams())
	Expect(err).NotTo(HaveOccurred())
	st, err := tissue.New(cl, ion.DefaultSpecies(), nil, tissue.DefaultParams())
	Expect(err).NotTo(HaveOccurred())
	e, err := engine.New(cl, net, nil, st, nil, engine.DefaultParams())
	Expect(err).NotTo(HaveOccurred())
	return e
}

// excitableEngine carries the full HH complement on a single cell with
// a sustained stimulus, so an oversized step blows it up quickly.
func excitableEngine() *engine.Engine {
	cl := chainCluster(1)
	np := network.DefaultParams()
	np.Rule = network.RuleRandom
	np.Prob = 0
	net, err := network.Build(cl, np)
	Expect(err).NotTo(HaveOccurred())

	reg := channels.NewRegistry()
	var atts []*channels.Attachment
	for _, name := range []string{"leak", "nav", "kv"} {
		a, err := reg.Attach(name, []int{0}, 1)
		Expect(err).NotTo(HaveOccurred())
		atts = append(atts, a)
	}
	st, err := tissue.New(cl, ion.DefaultSpecies(), atts, tissue.DefaultParams())
	Expect(err).NotTo(HaveOccurred())
	e, err := engine.New(cl, net, atts, st, stim.NewPulse(1.0, 0, 1e3, []int{0}), engine.DefaultParams())
	Expect(err).NotTo(HaveOccurred())
	return e
}

var _ = Describe("Runner", func() {
	Describe("configuration validation", func() {
		It("rejects a non-positive step", func() {
			_, err := runner.New(quietEngine(), runner.Config{Dt: 0, Horizon: 1})
			Expect(err).To(HaveOccurred())
		})

		It("rejects a non-positive horizon", func() {
			_, err := runner.New(quietEngine(), runner.Config{Dt: 1e-4, Horizon: -1})
			Expect(err).To(HaveOccurred())
		})

		It("rejects a negative snapshot cadence", func() {
			_, err := runner.New(quietEngine(), runner.Config{Dt: 1e-4, Horizon: 1, SnapshotEvery: -1})
			Expect(err).To(HaveOccurred())
		})

		It("rejects markers outside the horizon", func() {
			_, err := runner.New(quietEngine(), runner.Config{Dt: 1e-4, Horizon: 1e-2, Markers: []float64{2e-2}})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("a complete run", func() {
		It("steps exactly to the horizon and finalizes the engine", func() {
			e := quietEngine()
			r, err := runner.New(e, runner.Config{Dt: 1e-4, Horizon: 1e-2})
			Expect(err).NotTo(HaveOccurred())

			res, err := r.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Steps).To(Equal(100))
			Expect(res.Termination).To(Equal(runner.Finalized))
			Expect(e.Status()).To(Equal(engine.Finalized))
		})

		It("always records the initial and terminal states", func() {
			r, err := runner.New(quietEngine(), runner.Config{Dt: 1e-4, Horizon: 1e-2})
			Expect(err).NotTo(HaveOccurred())

			res, err := r.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Snapshots).To(HaveLen(2))
			Expect(res.Snapshots[0].Step).To(Equal(0))
			Expect(res.Snapshots[1].Step).To(Equal(100))
		})
	})

	Describe("snapshot collection", func() {
		It("records on the step cadence", func() {
			r, err := runner.New(quietEngine(), runner.Config{Dt: 1e-4, Horizon: 1e-2, SnapshotEvery: 10})
			Expect(err).NotTo(HaveOccurred())

			res, err := r.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			// Initial state plus steps 10, 20, ..., 100.
			Expect(res.Snapshots).To(HaveLen(11))
			Expect(res.Snapshots[1].Step).To(Equal(10))
			Expect(res.Snapshots[10].Step).To(Equal(100))
		})

		It("fires each time marker once", func() {
			r, err := runner.New(quietEngine(), runner.Config{
				Dt:      1e-4,
				Horizon: 1e-2,
				Markers: []float64{5e-3, 1e-2},
			})
			Expect(err).NotTo(HaveOccurred())

			res, err := r.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Snapshots).To(HaveLen(3))
			Expect(res.Snapshots[1].Time).To(BeNumerically("~", 5e-3, 1e-4))
			Expect(res.Snapshots[2].Time).To(BeNumerically("~", 1e-2, 1e-4))
		})
	})

	Describe("observers", func() {
		It("notifies once per applied step and once at termination", func() {
			r, err := runner.New(quietEngine(), runner.Config{Dt: 1e-4, Horizon: 1e-3})
			Expect(err).NotTo(HaveOccurred())

			var steps []int
			var statuses []engine.Status
			lastT := -1.0
			r.AddObserver(runner.ObserverFunc(func(step int, t float64, status engine.Status) {
				steps = append(steps, step)
				statuses = append(statuses, status)
				Expect(t).To(BeNumerically(">=", lastT))
				lastT = t
			}))

			_, err = r.Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			// Ten per-step notifications, then the terminal one.
			Expect(steps).To(HaveLen(11))
			Expect(steps[0]).To(Equal(1))
			Expect(steps[9]).To(Equal(10))
			for _, s := range statuses[:10] {
				Expect(s).To(Equal(engine.Stepping))
			}
			Expect(steps[10]).To(Equal(10))
			Expect(statuses[10]).To(Equal(engine.Finalized))
		})
	})

	Describe("cancellation", func() {
		It("stops between steps and reports a usable partial result", func() {
			r, err := runner.New(quietEngine(), runner.Config{Dt: 1e-4, Horizon: 1})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			notified := 0
			r.AddObserver(runner.ObserverFunc(func(step int, t float64, status engine.Status) {
				notified++
				if step == 10 {
					cancel()
				}
			}))

			res, err := r.Run(ctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.Termination).To(Equal(runner.Cancelled))
			Expect(res.Steps).To(Equal(10))

			// Ten step notifications plus the final one after the cancel
			// took effect.
			Expect(notified).To(Equal(11))
		})
	})

	Describe("divergence", func() {
		It("surfaces the engine error and the last stable state", func() {
			r, err := runner.New(excitableEngine(), runner.Config{Dt: 0.1, Horizon: 100})
			Expect(err).NotTo(HaveOccurred())

			res, err := r.Run(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(err).To(BeAssignableToTypeOf(&engine.DivergenceError{}))
			Expect(res.Termination).To(Equal(runner.Diverged))
			Expect(res.Err).To(Equal(err))
			Expect(res.LastStable).NotTo(BeNil())
		})
	})
})
