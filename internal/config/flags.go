package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

// envList is a custom flag type for repeatable --env flags.
type envList struct {
	values *[]string
}

func (e envList) String() string {
	if e.values == nil {
		return ""
	}
	return strings.Join(*e.values, ", ")
}

func (e envList) Set(value string) error {
	if !strings.Contains(value, "=") {
		return fmt.Errorf("expected KEY=VALUE, got %q", value)
	}
	*e.values = append(*e.values, value)
	return nil
}

func (e envList) Type() string {
	return "KEY=VALUE"
}

// NewFlagSet returns a flag set bound to cfg. The current values of cfg
// become the flag defaults. Parsing stops at the first positional
// argument, which is the executable; everything after it belongs to the
// child.
func NewFlagSet(name string, cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(io.Discard)

	// Command
	fs.StringVarP(&cfg.WorkingDir, "dir", "C", cfg.WorkingDir, "Working directory for the child")
	fs.StringVar(&cfg.CaptureFile, "capture", cfg.CaptureFile, "Also write the child's stdout to this file")
	fs.Var(envList{values: &cfg.Env}, "env", "Add KEY=VALUE to the child's environment (can repeat)")
	fs.BoolVar(&cfg.NoStdin, "no-stdin", cfg.NoStdin, "Give the child an empty stdin instead of ours")

	// Runner
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "How long to wait for output to drain after exit")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Kill the child if it runs longer than this (0 = never)")

	// Repetition and retry
	fs.IntVar(&cfg.Repeat, "repeat", cfg.Repeat, "Run the command this many times")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "Retry a failed run up to this many times")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "First retry delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum retry delay")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Retry delay growth factor")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Start repeated runs at most this often")
	fs.DurationVar(&cfg.IntervalJitter, "interval-jitter", cfg.IntervalJitter, "Random extra delay added to each interval")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write Prometheus metrics to this file on exit")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "trace", "debug", "info", "warn", "error"`)

	// Output
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, "Do not echo the child's output")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Show a live terminal view of the child's output")
	fs.BoolVar(&cfg.Dump, "dump", cfg.Dump, "Print the final run result record")

	// Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the command that would run and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "Load settings from this YAML file first")

	fs.BoolP("help", "h", false, "Show this help")

	return fs
}

// Parse builds the configuration from command-line arguments. Defaults
// are applied first, then the --config file if one is named, then the
// flags themselves. The first positional argument is the executable; the
// rest are joined into the argument string.
//
// Parse returns pflag.ErrHelp when --help is given.
func Parse(args []string) (*Config, error) {
	// First pass only finds --config. Flags are parsed again below so they
	// override the file.
	probe := DefaultConfig()
	if err := NewFlagSet("procrun", probe).Parse(args); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if probe.ConfigFile != "" {
		if err := LoadFile(probe.ConfigFile, cfg); err != nil {
			return nil, err
		}
	}

	fs := NewFlagSet("procrun", cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if help, _ := fs.GetBool("help"); help {
		return nil, pflag.ErrHelp
	}

	// Positional arguments: executable and its arguments
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Executable = rest[0]
		cfg.Arguments = process.JoinArguments(rest[1:])
	}

	return cfg, nil
}

// PrintUsage writes the categorized flag reference to w.
func PrintUsage(w io.Writer) {
	fs := NewFlagSet("procrun", DefaultConfig())

	fmt.Fprintf(w, `procrun - run an external command and stream its output

Usage:
  procrun [flags] <executable> [arguments...]
  procrun check <executable>
  procrun version

Command:
`)
	printFlagCategory(w, fs, []string{"dir", "capture", "env", "no-stdin"})

	fmt.Fprintf(w, "\nRunner:\n")
	printFlagCategory(w, fs, []string{"grace", "timeout"})

	fmt.Fprintf(w, "\nRepetition / Retry:\n")
	printFlagCategory(w, fs, []string{"repeat", "interval", "interval-jitter", "retries", "backoff-initial", "backoff-max", "backoff-multiply"})

	fmt.Fprintf(w, "\nOutput:\n")
	printFlagCategory(w, fs, []string{"quiet", "tui", "dump"})

	fmt.Fprintf(w, "\nObservability:\n")
	printFlagCategory(w, fs, []string{"metrics", "metrics-file", "verbose", "log-format", "log-level"})

	fmt.Fprintf(w, "\nDiagnostics:\n")
	printFlagCategory(w, fs, []string{"print-cmd", "skip-preflight", "config", "help"})

	fmt.Fprintf(w, `
Exit status is the child's exit status, 124 if it timed out, 127 if it
could not be started, and 1 for usage errors.

Examples:
  # Run once, streaming output
  procrun -C /src make test

  # Five runs with a time limit, duration percentiles at the end
  procrun --repeat 5 --timeout 30s ./bench.sh

  # Retry a flaky command, exposing metrics while it runs
  procrun --retries 3 --metrics :17092 -- curl -fsS https://example.com/

`)
}

// printFlagCategory prints flags matching the given names, in that order.
func printFlagCategory(w io.Writer, fs *pflag.FlagSet, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if f.Shorthand != "" {
			fmt.Fprintf(w, "  -%s, --%s", f.Shorthand, f.Name)
		} else {
			fmt.Fprintf(w, "      --%s", f.Name)
		}
		if typ := flagType(f); typ != "" {
			fmt.Fprintf(w, " %s", typ)
		}
		fmt.Fprintf(w, "\n    \t%s", f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *pflag.Flag) string {
	switch f.Value.Type() {
	case "bool":
		return ""
	case "float64":
		return "float"
	default:
		return f.Value.Type()
	}
}
