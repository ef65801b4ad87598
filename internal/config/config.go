package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sharnoff/ensemble/internal/logger"
	"github.com/sharnoff/ensemble/internal/workload"
)

// Config is the full configuration of the ensemble executable.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Tasks   TasksConfig   `koanf:"tasks"`
	Run     RunConfig     `koanf:"run"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TasksConfig configures the demo workloads.
type TasksConfig struct {
	// Delay is how long each workload sleeps between its start and completion messages.
	Delay time.Duration `koanf:"delay"`
	// Cooperative lists the workload kinds that stop early on cancellation.
	Cooperative []string `koanf:"cooperative"`
}

// RunConfig configures the orchestrator.
type RunConfig struct {
	// Limit is the maximum number of tasks running at once. 0 means unlimited.
	Limit int `koanf:"limit"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// Default returns the configuration used when no other source sets a value.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tasks: TasksConfig{
			Delay:       30 * time.Second,
			Cooperative: []string{string(workload.ResourceMetricsReport)},
		},
	}
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"log.level":         c.Log.Level,
		"log.format":        c.Log.Format,
		"tasks.delay":       c.Tasks.Delay,
		"tasks.cooperative": c.Tasks.Cooperative,
		"run.limit":         c.Run.Limit,
		"metrics.addr":      c.Metrics.Addr,
	}
}

// Validate checks the configuration, returning all problems found.
func (c Config) Validate() error {
	var errs []error

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be one of json, text; got %q", c.Log.Format))
	}

	if c.Tasks.Delay < 0 {
		errs = append(errs, fmt.Errorf("tasks.delay: cannot be negative, got %s", c.Tasks.Delay))
	}
	for _, name := range c.Tasks.Cooperative {
		if _, err := workload.ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("tasks.cooperative: %w", err))
		}
	}

	if c.Run.Limit < 0 {
		errs = append(errs, fmt.Errorf("run.limit: cannot be negative, got %d", c.Run.Limit))
	}

	return errors.Join(errs...)
}

// LoggerConfig returns the logger configuration described by c.
func (c Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	return cfg
}

// Load reads configuration from the YAML file at path (if not empty), the environment and the
// overrides, then validates it.
func Load(path string, overrides map[string]any) (*Config, error) {
	var cfg Config
	if err := NewLoader(WithConfigFile(path)).Load(&cfg, overrides); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
