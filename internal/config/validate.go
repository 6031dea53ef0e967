package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randomizedcoder/go-procrun/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// Executable is required
	if strings.TrimSpace(cfg.Executable) == "" {
		errs = append(errs, ValidationError{
			Field:   "executable",
			Message: "an executable to run is required",
		})
	}

	// Arguments must split cleanly
	if _, err := cfg.StartSpec().Argv(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "arguments",
			Message: err.Error(),
		})
	}

	// Environment entries must be KEY=VALUE
	for _, kv := range cfg.Env {
		if i := strings.IndexByte(kv, '='); i <= 0 {
			errs = append(errs, ValidationError{
				Field:   "env",
				Message: fmt.Sprintf("expected KEY=VALUE (got %q)", kv),
			})
		}
	}

	// Grace period must be positive
	if cfg.GracePeriod <= 0 {
		errs = append(errs, ValidationError{
			Field:   "grace_period",
			Message: "must be positive",
		})
	}

	// Timeout may be zero (forever) but not negative
	if cfg.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must not be negative",
		})
	}

	if cfg.Repeat < 1 {
		errs = append(errs, ValidationError{
			Field:   "repeat",
			Message: "must be at least 1",
		})
	}

	if cfg.Interval < 0 || cfg.IntervalJitter < 0 {
		errs = append(errs, ValidationError{
			Field:   "interval",
			Message: "--interval and --interval-jitter must not be negative",
		})
	}

	if cfg.Retries < 0 {
		errs = append(errs, ValidationError{
			Field:   "retries",
			Message: "must not be negative",
		})
	}

	// Backoff settings only matter when retrying
	if cfg.Retries > 0 {
		if cfg.BackoffInitial <= 0 {
			errs = append(errs, ValidationError{
				Field:   "backoff_initial",
				Message: "must be positive",
			})
		}
		if cfg.BackoffMax < cfg.BackoffInitial {
			errs = append(errs, ValidationError{
				Field:   "backoff_max",
				Message: "must be >= backoff_initial",
			})
		}
		if cfg.BackoffMultiply < 1.0 {
			errs = append(errs, ValidationError{
				Field:   "backoff_multiply",
				Message: "must be >= 1.0",
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: %s (got %q)", strings.Join(logging.LevelNames, ", "), cfg.LogLevel),
		})
	}

	// The TUI owns the terminal
	if cfg.TUI && cfg.Quiet {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "--tui and --quiet cannot be combined",
		})
	}
	if cfg.TUI && cfg.PrintCmd {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "--tui has no effect with --print-cmd",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
