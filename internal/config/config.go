// Package config provides configuration management for procrun.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

// Config holds all configuration options for a procrun invocation.
type Config struct {
	// Command. Executable and Arguments normally come from the positional
	// arguments; a config file may set them instead.
	WorkingDir  string   `json:"working_dir" yaml:"working_dir"`
	Executable  string   `json:"executable" yaml:"executable"`
	Arguments   string   `json:"arguments" yaml:"arguments"`
	CaptureFile string   `json:"capture_file" yaml:"capture_file"`
	Env         []string `json:"env" yaml:"env"`
	NoStdin     bool     `json:"no_stdin" yaml:"no_stdin"`

	// Runner
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"` // 0 = wait forever

	// Repetition and retry
	Repeat          int           `json:"repeat" yaml:"repeat"`
	Retries         int           `json:"retries" yaml:"retries"`
	BackoffInitial  time.Duration `json:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax      time.Duration `json:"backoff_max" yaml:"backoff_max"`
	BackoffMultiply float64       `json:"backoff_multiply" yaml:"backoff_multiply"`
	Interval        time.Duration `json:"interval" yaml:"interval"`               // minimum time between run starts
	IntervalJitter  time.Duration `json:"interval_jitter" yaml:"interval_jitter"` // random extra delay per run

	// Observability
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"` // empty = disabled
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"` // empty = disabled
	Verbose     bool   `json:"verbose" yaml:"verbose"`
	LogFormat   string `json:"log_format" yaml:"log_format"` // json, text
	LogLevel    string `json:"log_level" yaml:"log_level"`

	// Output
	Quiet bool `json:"quiet" yaml:"quiet"`
	TUI   bool `json:"tui" yaml:"tui"`
	Dump  bool `json:"dump" yaml:"dump"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd" yaml:"print_cmd"`
	SkipPreflight bool `json:"skip_preflight" yaml:"skip_preflight"`

	// ConfigFile is where the values above were loaded from, if anywhere.
	ConfigFile string `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Runner
		GracePeriod: process.DefaultGracePeriod,
		Timeout:     0, // Forever

		// Repetition and retry
		Repeat:          1,
		Retries:         0,
		BackoffInitial:  250 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		BackoffMultiply: 1.7,

		// Observability
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// LoadFile merges the YAML file at path over cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

// StartSpec returns the process description for this configuration.
func (c *Config) StartSpec() process.StartSpec {
	return process.NewStartSpec(c.WorkingDir, c.Executable, c.Arguments, c.CaptureFile)
}

// MaxAttempts returns the number of times a run may be attempted.
func (c *Config) MaxAttempts() int {
	return c.Retries + 1
}
