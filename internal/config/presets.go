package config

import "sort"

func f(v float64) *float64 { return &v }

// Presets are ready-to-run configurations. Each returns a fresh copy so
// callers can mutate freely.
var Presets = map[string]func() *Config{
	// One isolated excitable cell firing a single action potential.
	"single-cell": func() *Config {
		cfg := DefaultConfig()
		cfg.Name = "single-cell"
		cfg.Geometry.WorldX = 1.2e-5
		cfg.Geometry.WorldY = 1.2e-5
		cfg.Geometry.CircleCrop = false
		cfg.Geometry.Noise = 0
		cfg.Network.Rule = "random"
		cfg.Network.Prob = 0
		cfg.Channels = []ChannelConfig{
			{Model: "leak"}, {Model: "nav"}, {Model: "kv"}, {Model: "nakpump"},
		}
		cfg.Stimulus = StimulusConfig{Kind: "pulse", Amp: 1.0, Start: 5e-3, Stop: 8e-3, Cells: []int{0}}
		cfg.Sim.Dt = 1e-5
		cfg.Sim.Duration = 0.05
		cfg.Sim.SnapshotEvery = 50
		cfg.Sim.Scheme = "rushlarsen"
		return cfg
	},

	// Two passive cells equilibrating a potassium gradient through one
	// gap junction.
	"two-cell": func() *Config {
		cfg := DefaultConfig()
		cfg.Name = "two-cell"
		cfg.Geometry.WorldX = 2.2e-5
		cfg.Geometry.WorldY = 1.2e-5
		cfg.Geometry.CircleCrop = false
		cfg.Geometry.Noise = 0
		cfg.Channels = nil
		cfg.Regions = []RegionConfig{
			{X: 0.25, Y: 0.5, Radius: 6e-6, Conc: map[string]float64{"K": 200}},
		}
		cfg.Sim.Dt = 1e-9
		cfg.Sim.Duration = 2e-5
		cfg.Sim.SnapshotEvery = 500
		return cfg
	},

	// A round cluster with a depolarized wound patch, passive membrane
	// plus pump and calcium-gated potassium.
	"tissue": func() *Config {
		cfg := DefaultConfig()
		cfg.Name = "tissue"
		cfg.Channels = []ChannelConfig{
			{Model: "leak"}, {Model: "nakpump"}, {Model: "kca"},
		}
		cfg.Regions = []RegionConfig{
			{X: 0.5, Y: 0.5, Radius: 1.5e-5, Vm: f(-20e-3)},
		}
		return cfg
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	mk, ok := Presets[name]
	if !ok {
		return nil
	}
	return mk()
}

// ListPresets returns the preset names, sorted.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
