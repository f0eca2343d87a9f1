// Package config loads and saves run configurations.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/epsimlab/epsim/internal/protocol"
)

const (
	DefaultDuration    = 1000.0
	DefaultLogInterval = 1.0
	DefaultRelTol      = 1e-4
	DefaultAbsTol      = 1e-6
)

// Config describes one simulation run.
type Config struct {
	Model    string  `yaml:"model"`
	Duration float64 `yaml:"duration"`

	Solver SolverConfig `yaml:"solver"`
	Log    LogConfig    `yaml:"log"`

	// Pacing overrides the model's default protocol when non-empty.
	Pacing []protocol.Event `yaml:"pacing,omitempty"`

	// InitState overrides the model's initial conditions when non-empty.
	InitState []float64 `yaml:"init_state,omitempty"`
}

type SolverConfig struct {
	RelTol           float64 `yaml:"rtol"`
	AbsTol           float64 `yaml:"atol"`
	MaxStep          float64 `yaml:"max_step,omitempty"`
	MaxOrder         int     `yaml:"max_order,omitempty"`
	SymbolicJacobian bool    `yaml:"symbolic_jacobian,omitempty"`
}

type LogConfig struct {
	Interval float64 `yaml:"interval"`
	// Points logs at an explicit list of times instead of periodically.
	Points []float64 `yaml:"points,omitempty"`
	// Variables restricts the logged columns; empty logs everything.
	Variables []string `yaml:"variables,omitempty"`
}

// DefaultConfig returns a runnable configuration for the named model.
func DefaultConfig(model string) *Config {
	return &Config{
		Model:    model,
		Duration: DefaultDuration,
		Solver:   SolverConfig{RelTol: DefaultRelTol, AbsTol: DefaultAbsTol},
		Log:      LogConfig{Interval: DefaultLogInterval},
	}
}

// Load reads a YAML configuration, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig("hh")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks ranges; model and pacing contents are validated where
// they are consumed.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: model name is required")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("config: duration must be positive, got %g", c.Duration)
	}
	if c.Solver.RelTol <= 0 || c.Solver.AbsTol <= 0 {
		return fmt.Errorf("config: tolerances must be positive")
	}
	if len(c.Log.Points) == 0 && c.Log.Interval <= 0 {
		return fmt.Errorf("config: log interval must be positive")
	}
	return nil
}
