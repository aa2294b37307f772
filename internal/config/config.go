package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/simbridge/internal/logging"
	"github.com/san-kum/simbridge/internal/step"
)

const (
	DefaultListen            = "127.0.0.1:25333"
	DefaultEndpoint          = "ws://127.0.0.1:25333/"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultCompletionTimeout = 30 * time.Second
	DefaultPasses            = 2
	DefaultDataDir           = ".simbridge"
	DefaultDelta             = 0.1
	DefaultDt                = 0.01
	DefaultSubsteps          = 1
	DefaultWriteTimeout      = 5 * time.Second
	DefaultReadLimit         = 4 << 20
)

type Config struct {
	Listen            string        `yaml:"listen"`
	Endpoint          string        `yaml:"endpoint"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadLimit         int64         `yaml:"read_limit"`
	Passes            int           `yaml:"passes"`
	Interval          time.Duration `yaml:"interval"`
	BestEffortResults bool          `yaml:"best_effort_results"`
	LogLevel          string        `yaml:"log_level"`
	DataDir           string        `yaml:"data_dir"`
	Step              StepConfig    `yaml:"step"`
	States            []StateConfig `yaml:"states"`
}

type StepConfig struct {
	Kind         string  `yaml:"kind"`
	Delta        float64 `yaml:"delta"`
	Model        string  `yaml:"model,omitempty"`
	Integrator   string  `yaml:"integrator,omitempty"`
	Dt           float64 `yaml:"dt,omitempty"`
	Substeps     int     `yaml:"substeps,omitempty"`
	Rate         float64 `yaml:"rate,omitempty"`
	Capacity     float64 `yaml:"capacity,omitempty"`
	TimeKey      string  `yaml:"time_key,omitempty"`
	SignalInStep bool    `yaml:"signal_in_step,omitempty"`
}

// StateConfig is one seeded state. Order in the file is the order the host
// adds them.
type StateConfig struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:            DefaultListen,
		Endpoint:          DefaultEndpoint,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		CompletionTimeout: DefaultCompletionTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		ReadLimit:         DefaultReadLimit,
		Passes:            DefaultPasses,
		LogLevel:          logging.LevelInfo,
		DataDir:           DefaultDataDir,
		Step: StepConfig{
			Kind:       "increment",
			Delta:      DefaultDelta,
			Integrator: "rk4",
			Dt:         DefaultDt,
			Substeps:   DefaultSubsteps,
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
		return nil, fmt.Errorf("parse %s: %w", path, err)
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

// Validate reports the first setting that cannot produce a working run.
func (c *Config) Validate() error {
	if c.Passes < 0 {
		return fmt.Errorf("passes must not be negative, got %d", c.Passes)
	}
	if c.HandshakeTimeout < 0 || c.CompletionTimeout < 0 || c.Interval < 0 {
		return fmt.Errorf("timeouts and interval must not be negative")
	}
	if c.WriteTimeout < 0 || c.ReadLimit < 0 {
		return fmt.Errorf("write_timeout and read_limit must not be negative")
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}

	reg := step.NewRegistry()
	if !slices.Contains(reg.ListSteps(), c.Step.Kind) {
		return fmt.Errorf("unknown step: %s", c.Step.Kind)
	}
	if c.Step.Kind == "dynamics" {
		if c.Step.Dt <= 0 {
			return fmt.Errorf("dynamics step needs a positive dt, got %g", c.Step.Dt)
		}
		if _, err := reg.GetModel(c.Step.Model, c.StepParams()); err != nil {
			return err
		}
		if _, err := reg.GetIntegrator(c.Step.Integrator); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.States))
	for i, s := range c.States {
		if s.Name == "" {
			return fmt.Errorf("state %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("state %q listed twice", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// StepParams converts the step section for step.Registry.Build.
func (c *Config) StepParams() step.Params {
	return step.Params{
		Kind:         c.Step.Kind,
		Delta:        c.Step.Delta,
		Model:        c.Step.Model,
		Integrator:   c.Step.Integrator,
		Dt:           c.Step.Dt,
		Substeps:     c.Step.Substeps,
		Rate:         c.Step.Rate,
		Capacity:     c.Step.Capacity,
		TimeKey:      c.Step.TimeKey,
		SignalInStep: c.Step.SignalInStep,
	}
}

// StateNames returns the seeded state names in order.
func (c *Config) StateNames() []string {
	names := make([]string, len(c.States))
	for i, s := range c.States {
		names[i] = s.Name
	}
	return names
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.States = append([]StateConfig(nil), c.States...)
	return &out
}
