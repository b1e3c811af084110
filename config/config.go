// Package config loads runtime configuration from an optional YAML file and
// the environment, environment winning. All knobs have working defaults; an
// empty configuration yields a fully in-memory engine.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration with YAML and env string parsing ("30s",
// "10m").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler (used by env parsing).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runtime configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"AGENTRELAY_LOG_LEVEL" yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `env:"AGENTRELAY_LOG_FORMAT" yaml:"log_format"`

	// EventBufferSize is the per-subscriber bus buffer.
	EventBufferSize int `env:"AGENTRELAY_EVENT_BUFFER_SIZE" yaml:"event_buffer_size"`

	// CheckpointPath enables the SQLite checkpoint store when set; empty
	// keeps checkpoints in memory.
	CheckpointPath string `env:"AGENTRELAY_CHECKPOINT_PATH" yaml:"checkpoint_path"`

	// RetentionWindow is how long terminal executions stay queryable.
	RetentionWindow Duration `env:"AGENTRELAY_RETENTION_WINDOW" yaml:"retention_window"`

	// DelegationTimeout is the ceiling for in-flight delegations before the
	// owning execution is force-failed.
	DelegationTimeout Duration `env:"AGENTRELAY_DELEGATION_TIMEOUT" yaml:"delegation_timeout"`
	// SweepInterval is how often the timeout sweep runs.
	SweepInterval Duration `env:"AGENTRELAY_SWEEP_INTERVAL" yaml:"sweep_interval"`

	// ConfirmationTimeout bounds the wait for sensitive tool approvals.
	ConfirmationTimeout Duration `env:"AGENTRELAY_CONFIRMATION_TIMEOUT" yaml:"confirmation_timeout"`

	// MaxGraphSteps bounds node invocations per execution.
	MaxGraphSteps int `env:"AGENTRELAY_MAX_GRAPH_STEPS" yaml:"max_graph_steps"`

	// PollInterval, MaxPolls, StagnationPolls and ReconcileModulus drive the
	// client reconciliation loop.
	PollInterval     Duration `env:"AGENTRELAY_POLL_INTERVAL" yaml:"poll_interval"`
	MaxPolls         int      `env:"AGENTRELAY_MAX_POLLS" yaml:"max_polls"`
	StagnationPolls  int      `env:"AGENTRELAY_STAGNATION_POLLS" yaml:"stagnation_polls"`
	ReconcileModulus int      `env:"AGENTRELAY_RECONCILE_MODULUS" yaml:"reconcile_modulus"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:            "info",
		LogFormat:           "text",
		EventBufferSize:     64,
		RetentionWindow:     Duration(30 * time.Minute),
		DelegationTimeout:   Duration(10 * time.Minute),
		SweepInterval:       Duration(30 * time.Second),
		ConfirmationTimeout: Duration(5 * time.Minute),
		MaxGraphSteps:       48,
		PollInterval:        Duration(2 * time.Second),
		MaxPolls:            45,
		StagnationPolls:     3,
		ReconcileModulus:    8,
	}
}

// LoadOptions configures Load.
type LoadOptions struct {
	// Path of an optional YAML file. A missing file is not an error when
	// the path came from the default.
	Path string
}

// Load builds the configuration: defaults, then the YAML file (when given),
// then environment overrides.
func Load(optFns ...func(o *LoadOptions)) (Config, error) {
	opts := LoadOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := Default()

	if opts.Path != "" {
		raw, err := os.ReadFile(opts.Path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("event_buffer_size must be positive, got %d", c.EventBufferSize)
	}
	if c.MaxGraphSteps <= 0 {
		return fmt.Errorf("max_graph_steps must be positive, got %d", c.MaxGraphSteps)
	}
	if c.MaxPolls <= 0 {
		return fmt.Errorf("max_polls must be positive, got %d", c.MaxPolls)
	}
	if c.ReconcileModulus <= 0 {
		return fmt.Errorf("reconcile_modulus must be positive, got %d", c.ReconcileModulus)
	}
	if c.PollInterval.Std() <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval.Std())
	}
	if c.DelegationTimeout.Std() <= 0 {
		return fmt.Errorf("delegation_timeout must be positive, got %s", c.DelegationTimeout.Std())
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
