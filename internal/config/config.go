// Package config is the declarative intake for a simulation: everything
// a run needs, loadable from YAML, validated before any core package
// sees it, and assembled into a ready engine.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/tissuesim/internal/channels"
	"github.com/san-kum/tissuesim/internal/engine"
	"github.com/san-kum/tissuesim/internal/geometry"
	"github.com/san-kum/tissuesim/internal/ion"
	"github.com/san-kum/tissuesim/internal/network"
	"github.com/san-kum/tissuesim/internal/solver"
	"github.com/san-kum/tissuesim/internal/stim"
	"github.com/san-kum/tissuesim/internal/tissue"
)

// Coupled tissue carries a fast electrical relaxation across gap
// junctions, so the default step must stay below its time constant.
const (
	DefaultDt            = 5e-9
	DefaultDuration      = 1e-4
	DefaultSnapshotEvery = 2000
)

type Config struct {
	Name string `yaml:"name"`
	Seed int64  `yaml:"seed"`

	Geometry GeometryConfig  `yaml:"geometry"`
	Network  NetworkConfig   `yaml:"network"`
	Channels []ChannelConfig `yaml:"channels"`
	Regions  []RegionConfig  `yaml:"regions"`
	Stimulus StimulusConfig  `yaml:"stimulus"`
	Sim      SimConfig       `yaml:"sim"`
}

type GeometryConfig struct {
	WorldX     float64 `yaml:"world_x"`
	WorldY     float64 `yaml:"world_y"`
	CellRadius float64 `yaml:"cell_radius"`
	Height     float64 `yaml:"height"`
	Noise      float64 `yaml:"noise"`
	CircleCrop bool    `yaml:"circle_crop"`
	RelaxIters int     `yaml:"relax_iters"`
}

type NetworkConfig struct {
	Rule             string  `yaml:"rule"`
	Prob             float64 `yaml:"prob"`
	RequireConnected bool    `yaml:"require_connected"`
	VThreshold       float64 `yaml:"v_threshold"`
	GateTau          float64 `yaml:"gate_tau"`
	MinOpen          float64 `yaml:"min_open"`
}

// ChannelConfig attaches one channel model. An empty cell list means
// every cell in the cluster.
type ChannelConfig struct {
	Model   string  `yaml:"model"`
	Cells   []int   `yaml:"cells"`
	Density float64 `yaml:"density"`
}

// RegionConfig patches initial conditions inside a circle. Centre
// coordinates are fractions of the world extent, concentrations are
// keyed by species name.
type RegionConfig struct {
	X      float64            `yaml:"x"`
	Y      float64            `yaml:"y"`
	Radius float64            `yaml:"radius"`
	Vm     *float64           `yaml:"vm"`
	Conc   map[string]float64 `yaml:"conc"`
}

type StimulusConfig struct {
	Kind   string  `yaml:"kind"` // none, pulse, train, clamp
	Amp    float64 `yaml:"amp"`
	Start  float64 `yaml:"start"`
	Stop   float64 `yaml:"stop"`
	Period float64 `yaml:"period"`
	Width  float64 `yaml:"width"`
	Target float64 `yaml:"target"`
	Gain   float64 `yaml:"gain"`
	Cells  []int   `yaml:"cells"`
}

type SimConfig struct {
	Dt            float64 `yaml:"dt"`
	Duration      float64 `yaml:"duration"`
	SnapshotEvery int     `yaml:"snapshot_every"`
	Scheme        string  `yaml:"scheme"`
	Vm0           float64 `yaml:"vm0"`
	Temp          float64 `yaml:"temp"`

	ClampTolerance       float64 `yaml:"clamp_tolerance"`
	DivergedCellFraction float64 `yaml:"diverged_cell_fraction"`
	DivergedSteps        int     `yaml:"diverged_steps"`
	Workers              int     `yaml:"workers"`
}

func DefaultConfig() *Config {
	gp := geometry.DefaultParams()
	np := network.DefaultParams()
	tp := tissue.DefaultParams()
	return &Config{
		Name: "default",
		Geometry: GeometryConfig{
			WorldX:     gp.WorldX,
			WorldY:     gp.WorldY,
			CellRadius: gp.CellRadius,
			Height:     gp.Height,
			Noise:      gp.Noise,
			CircleCrop: gp.CircleCrop,
			RelaxIters: gp.RelaxIters,
		},
		Network: NetworkConfig{
			Rule:             string(np.Rule),
			Prob:             np.Prob,
			RequireConnected: np.RequireConnected,
			VThreshold:       np.VThreshold,
			GateTau:          np.GateTau,
			MinOpen:          np.MinOpen,
		},
		Channels: []ChannelConfig{{Model: "leak"}, {Model: "nakpump"}},
		Stimulus: StimulusConfig{Kind: "none"},
		Sim: SimConfig{
			Dt:            DefaultDt,
			Duration:      DefaultDuration,
			SnapshotEvery: DefaultSnapshotEvery,
			Scheme:        "euler",
			Vm0:           tp.Vm0,
			Temp:          tp.Temp,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects malformed input before any construction starts.
func (c *Config) Validate() error {
	if c.Sim.Dt <= 0 {
		return fmt.Errorf("config: dt must be positive, got %g", c.Sim.Dt)
	}
	if c.Sim.Duration <= 0 {
		return fmt.Errorf("config: duration must be positive, got %g", c.Sim.Duration)
	}
	if c.Sim.SnapshotEvery < 0 {
		return fmt.Errorf("config: snapshot_every must be >= 0")
	}
	if solver.ByName(c.Sim.Scheme) == nil {
		return fmt.Errorf("config: unknown gating scheme %q", c.Sim.Scheme)
	}
	if c.Geometry.CellRadius <= 0 || c.Geometry.WorldX <= 0 || c.Geometry.WorldY <= 0 || c.Geometry.Height <= 0 {
		return fmt.Errorf("config: geometry extents must be positive")
	}
	switch network.Rule(c.Network.Rule) {
	case network.RuleAll, network.RuleRandom, network.RuleExcludeBoundary:
	default:
		return fmt.Errorf("config: unknown coupling rule %q", c.Network.Rule)
	}

	reg := channels.NewRegistry()
	for _, ch := range c.Channels {
		if _, err := reg.Get(ch.Model); err != nil {
			return err
		}
		if ch.Density < 0 {
			return fmt.Errorf("config: negative density for channel %q", ch.Model)
		}
	}

	species := ion.DefaultSpecies()
	for _, r := range c.Regions {
		if r.Radius <= 0 {
			return fmt.Errorf("config: region radius must be positive")
		}
		for name := range r.Conc {
			if ion.ByName(species, name) < 0 {
				return fmt.Errorf("config: region references unknown species %q", name)
			}
		}
	}

	switch c.Stimulus.Kind {
	case "", "none", "pulse", "clamp":
	case "train":
		if c.Stimulus.Period <= 0 {
			return fmt.Errorf("config: train stimulus needs a positive period, got %g", c.Stimulus.Period)
		}
		if c.Stimulus.Width < 0 {
			return fmt.Errorf("config: train stimulus width must be >= 0, got %g", c.Stimulus.Width)
		}
	default:
		return fmt.Errorf("config: unknown stimulus kind %q", c.Stimulus.Kind)
	}
	return nil
}

// System is a fully wired simulation ready to hand to the runner.
type System struct {
	Config  *Config
	Cluster *geometry.Cluster
	Net     *network.Net
	Atts    []*channels.Attachment
	State   *tissue.State
	Engine  *engine.Engine
}

// Assemble validates the configuration and constructs the whole stack:
// geometry, connectivity, channel attachments, initial state, engine.
func (c *Config) Assemble() (*System, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	gp := geometry.DefaultParams()
	gp.WorldX = c.Geometry.WorldX
	gp.WorldY = c.Geometry.WorldY
	gp.CellRadius = c.Geometry.CellRadius
	gp.Height = c.Geometry.Height
	gp.Noise = c.Geometry.Noise
	gp.CircleCrop = c.Geometry.CircleCrop
	if c.Geometry.RelaxIters > 0 {
		gp.RelaxIters = c.Geometry.RelaxIters
	}
	gp.Seed = c.Seed
	cl, err := geometry.Build(gp)
	if err != nil {
		return nil, err
	}

	np := network.DefaultParams()
	np.Rule = network.Rule(c.Network.Rule)
	np.Prob = c.Network.Prob
	np.RequireConnected = c.Network.RequireConnected
	np.Seed = c.Seed
	if c.Network.VThreshold > 0 {
		np.VThreshold = c.Network.VThreshold
	}
	if c.Network.GateTau > 0 {
		np.GateTau = c.Network.GateTau
	}
	if c.Network.MinOpen > 0 {
		np.MinOpen = c.Network.MinOpen
	}
	net, err := network.Build(cl, np)
	if err != nil {
		return nil, err
	}

	allCells := make([]int, len(cl.Cells))
	for i := range allCells {
		allCells[i] = i
	}
	reg := channels.NewRegistry()
	var atts []*channels.Attachment
	for _, ch := range c.Channels {
		cells := ch.Cells
		if len(cells) == 0 {
			cells = allCells
		}
		att, err := reg.Attach(ch.Model, cells, ch.Density)
		if err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}

	species := ion.DefaultSpecies()
	tp := tissue.DefaultParams()
	tp.Vm0 = c.Sim.Vm0
	if c.Sim.Temp > 0 {
		tp.Temp = c.Sim.Temp
	}
	for _, r := range c.Regions {
		region := tissue.Region{
			Centre: geometry.Vec2{X: r.X * gp.WorldX, Y: r.Y * gp.WorldY},
			Radius: r.Radius,
			Vm:     r.Vm,
		}
		if len(r.Conc) > 0 {
			region.Conc = make(map[int]float64, len(r.Conc))
			for name, v := range r.Conc {
				region.Conc[ion.ByName(species, name)] = v
			}
		}
		tp.Regions = append(tp.Regions, region)
	}
	st, err := tissue.New(cl, species, atts, tp)
	if err != nil {
		return nil, err
	}

	ep := engine.DefaultParams()
	ep.Scheme = c.Sim.Scheme
	ep.Workers = c.Sim.Workers
	if c.Sim.ClampTolerance > 0 {
		ep.ClampTolerance = c.Sim.ClampTolerance
	}
	if c.Sim.DivergedCellFraction > 0 {
		ep.DivergedCellFraction = c.Sim.DivergedCellFraction
	}
	if c.Sim.DivergedSteps > 0 {
		ep.DivergedSteps = c.Sim.DivergedSteps
	}
	eng, err := engine.New(cl, net, atts, st, c.buildStimulus(), ep)
	if err != nil {
		return nil, err
	}

	return &System{Config: c, Cluster: cl, Net: net, Atts: atts, State: st, Engine: eng}, nil
}

func (c *Config) buildStimulus() stim.Protocol {
	s := c.Stimulus
	switch s.Kind {
	case "pulse":
		return stim.NewPulse(s.Amp, s.Start, s.Stop, s.Cells)
	case "train":
		return stim.NewTrain(s.Amp, s.Start, s.Period, s.Width, s.Cells)
	case "clamp":
		return stim.NewClamp(s.Target, s.Gain, s.Cells)
	}
	return stim.NewNone()
}
