package config

import "sort"

var Presets = map[string]*Config{
	// Four scalar states stepped by 0.1 over two passes.
	"reference": withDefaults(func(c *Config) {
		c.Passes = 2
		c.Step = StepConfig{Kind: "increment", Delta: 0.1}
		c.States = []StateConfig{
			{Name: "v1", Value: 0.1},
			{Name: "v2", Value: 0.2},
			{Name: "v3", Value: 0.3},
			{Name: "v4", Value: 0.4},
		}
	}),
	"decay": withDefaults(func(c *Config) {
		c.Passes = 10
		c.Step = StepConfig{
			Kind: "dynamics", Model: "decay", Integrator: "rk4",
			Rate: 0.5, Dt: 0.1, Substeps: 10, TimeKey: "t",
		}
		c.States = []StateConfig{
			{Name: "x", Value: 1.0},
			{Name: "y", Value: 2.0},
		}
	}),
	"logistic": withDefaults(func(c *Config) {
		c.Passes = 20
		c.Step = StepConfig{
			Kind: "dynamics", Model: "logistic", Integrator: "rk4",
			Rate: 1.2, Capacity: 10, Dt: 0.5, Substeps: 5, TimeKey: "t",
		}
		c.States = []StateConfig{
			{Name: "population", Value: 0.5},
		}
	}),
}

func withDefaults(fn func(*Config)) *Config {
	cfg := DefaultConfig()
	fn(cfg)
	return cfg
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
