// Package main provides the procrun CLI entry point.
//
// procrun runs an external command, streams its stdout and stderr line by
// line, and exits with the command's exit code. It can repeat and retry the
// command, show a live terminal view, and export Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/randomizedcoder/go-procrun/internal/config"
	"github.com/randomizedcoder/go-procrun/internal/logging"
	"github.com/randomizedcoder/go-procrun/internal/orchestrator"
	"github.com/randomizedcoder/go-procrun/internal/preflight"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/procrun
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	exitCode := orchestrator.ExitOK

	rootCmd := &cobra.Command{
		Use:   "procrun [flags] <executable> [arguments...]",
		Short: "Run an external command and stream its output",
		Args:  cobra.ArbitraryArgs,
		// Flags belong to config.Parse; everything after the executable
		// belongs to the child.
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Run: func(cmd *cobra.Command, args []string) {
			exitCode = runCommand(args)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	checkCmd := &cobra.Command{
		Use:                "check [flags] <executable> [arguments...]",
		Short:              "Run the preflight checks for a command without running it",
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			exitCode = checkCommand(args)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("procrun %s\n", version)
		},
	}

	rootCmd.AddCommand(checkCmd, versionCmd)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return orchestrator.ExitConfigError
	}
	return exitCode
}

// parseConfig parses and validates the flags. ok is false when the caller
// should exit with code.
func parseConfig(args []string) (cfg *config.Config, code int, ok bool) {
	cfg, err := config.Parse(args)
	if errors.Is(err, pflag.ErrHelp) {
		config.PrintUsage(os.Stdout)
		return nil, orchestrator.ExitOK, false
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return nil, orchestrator.ExitConfigError, false
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return nil, orchestrator.ExitConfigError, false
	}
	return cfg, 0, true
}

func runCommand(args []string) int {
	if len(args) > 0 && (args[0] == "-version" || args[0] == "--version") {
		fmt.Printf("procrun %s\n", version)
		return orchestrator.ExitOK
	}

	cfg, code, ok := parseConfig(args)
	if !ok {
		return code
	}

	// The TUI owns the terminal; logs would corrupt it.
	var logger *slog.Logger
	if cfg.TUI {
		logger = logging.Discard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	logger.Debug("starting",
		"version", version,
		"command", cfg.StartSpec().String(),
		"repeat", cfg.Repeat,
		"retries", cfg.Retries,
		"timeout", cfg.Timeout.String(),
		"metrics_addr", cfg.MetricsAddr,
		"config_file", cfg.ConfigFile,
	)

	orch := orchestrator.New(cfg, logger, version)
	return orch.Run(context.Background())
}

func checkCommand(args []string) int {
	cfg, code, ok := parseConfig(args)
	if !ok {
		return code
	}

	result := preflight.RunAll(cfg.StartSpec())
	fmt.Printf("Preflight checks for: %s\n", cfg.StartSpec().String())
	preflight.PrintResults(os.Stdout, result)
	if !result.Passed {
		return orchestrator.ExitConfigError
	}
	return orchestrator.ExitOK
}
