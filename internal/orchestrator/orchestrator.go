// Package orchestrator runs one procrun session: preflight checks, the
// repeated and retried runs of a single command, live output, metrics and
// the exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kr/text"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-procrun/internal/config"
	"github.com/randomizedcoder/go-procrun/internal/dump"
	"github.com/randomizedcoder/go-procrun/internal/logging"
	"github.com/randomizedcoder/go-procrun/internal/metrics"
	"github.com/randomizedcoder/go-procrun/internal/preflight"
	"github.com/randomizedcoder/go-procrun/internal/process"
	"github.com/randomizedcoder/go-procrun/internal/stats"
	"github.com/randomizedcoder/go-procrun/internal/stream"
	"github.com/randomizedcoder/go-procrun/internal/supervisor"
	"github.com/randomizedcoder/go-procrun/internal/timeseries"
	"github.com/randomizedcoder/go-procrun/internal/tui"
)

// Process exit codes of a session.
const (
	ExitOK           = 0
	ExitConfigError  = 1
	ExitTimeout      = 124
	ExitLaunchFailed = 127
	ExitInterrupted  = 130
)

const (
	// tuiBufferSize is how many lines may wait for the display.
	tuiBufferSize    = 4096
	tuiDropThreshold = 0.01

	sampleInterval  = time.Second
	shutdownTimeout = 10 * time.Second

	// stderrTailLines is how much stderr a failed quiet session shows.
	stderrTailLines = 10
)

// Orchestrator coordinates all components of a session. Run it once.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	stdout io.Writer
	stderr io.Writer

	spec          process.StartSpec
	runner        *process.Runner
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	runStats      *stats.RunStats
	estimator     *stats.Estimator
	pacer         *Pacer
	rate          *timeseries.RateTracker
	jitter        *supervisor.JitterSource

	stdoutLog *logging.LineLogger
	stderrLog *logging.LineLogger
	traceLog  *logging.Writer

	tap     *stream.Tap[process.LineEvent]
	program *tea.Program // nil unless the TUI is enabled

	retries atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	run     int // 1-based index of the current run
	attempt int
	pid     int // 0 while no child is alive
	last    process.Result
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, version string) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	spec := cfg.StartSpec()

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		version:   version,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		spec:      spec,
		registry:  registry,
		runStats:  stats.NewRunStats(),
		estimator: stats.NewEstimator(),
		pacer:     NewPacer(cfg.Interval, cfg.IntervalJitter),
		rate:      timeseries.NewRateTracker(),
		jitter:    supervisor.NewJitterSourceFromTime(),
		traceLog:  logging.NewTraceWriter(logger, "runner"),
	}

	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:    version,
		Executable: spec.Executable,
	}, registry)
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, o.Status, logger)
	}

	// Output lines are only logged when nothing else shows them.
	lineLogger := logger
	if !cfg.Quiet {
		lineLogger = logging.Discard()
	}
	o.stdoutLog = logging.NewLineLogger(lineLogger, process.Stdout.String(), cfg.Verbose)
	o.stderrLog = logging.NewLineLogger(lineLogger, process.Stderr.String(), cfg.Verbose)

	if cfg.TUI {
		o.tap = stream.NewTap[process.LineEvent]("tui", tuiBufferSize, tuiDropThreshold)
	}

	var stdin io.Reader
	if cfg.NoStdin || cfg.TUI {
		stdin = strings.NewReader("")
	}
	o.runner = process.New(process.Options{
		GracePeriod:    cfg.GracePeriod,
		Timeout:        cfg.Timeout,
		Stdin:          stdin,
		Env:            cfg.Env,
		DisableCapture: true,
		Logger:         logger,
		Callbacks: process.Callbacks{
			OnStart: o.onStart,
		},
	})

	return o
}

// SetOutput replaces the writers the child's output, the summary and the
// dump go to. Call it before Run.
func (o *Orchestrator) SetOutput(stdout, stderr io.Writer) {
	o.stdout = stdout
	o.stderr = stderr
}

// Run executes the session and returns the process exit code for it. It
// blocks until every run has finished, ctx is cancelled, or SIGINT/SIGTERM
// arrives.
func (o *Orchestrator) Run(ctx context.Context) int {
	if o.config.PrintCmd {
		fmt.Fprintln(o.stdout, o.spec.CommandString())
		return ExitOK
	}

	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.spec)
		if !result.Passed || o.config.Verbose {
			preflight.PrintResults(o.stderr, result)
		}
		if !result.Passed {
			o.logger.Error("preflight_failed", "hint", "use --skip-preflight to override")
			return ExitConfigError
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			o.logger.Error("metrics_server_failed", "error", err)
			return ExitConfigError
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go o.handleSignals(ctx, sigCh)

	o.subscribe()
	stopSampler := o.startSampler()
	stopTUI := o.startTUI()

	res := o.runAll(ctx)

	stopTUI()
	stopSampler()
	o.shutdown()

	o.printExitSummary()
	o.printStderrTail(res)
	if o.config.Dump {
		if err := dump.Fprint(o.stdout, res, dump.Config{}); err != nil {
			o.logger.Warn("dump_failed", "error", err)
		}
	}

	return ExitCode(res)
}

// runAll runs the command the configured number of times. It returns the
// result of the last attempt made.
func (o *Orchestrator) runAll(ctx context.Context) process.Result {
	total := o.config.Repeat
	o.estimator.Start(total)

	if total > 1 {
		o.logger.Info("runs_starting",
			"runs", total,
			"interval", o.pacer.Interval().String(),
			"min_duration", o.pacer.EstimatedDuration(total).String(),
		)
	}

	var last process.Result
	for i := 0; i < total; i++ {
		if err := o.pacer.Wait(ctx, i); err != nil {
			o.logger.Info("runs_cancelled", "completed", i, "requested", total)
			break
		}

		o.mu.Lock()
		o.run = i + 1
		o.attempt = 0
		o.mu.Unlock()

		res, err := o.newSupervisor(i).Run(ctx)
		if res.RunID == "" {
			// Cancelled before the first attempt.
			break
		}
		last = res
		o.runStats.Record(res)
		o.logRunFinished(i, res)

		var launchErr *process.LaunchError
		if errors.As(err, &launchErr) {
			o.logger.Error("launch_failed", "error", err, "remaining_runs", total-i-1)
			break
		}
	}
	return last
}

func (o *Orchestrator) newSupervisor(index int) *supervisor.Supervisor {
	backoff := supervisor.NewBackoff(o.jitter.ForRun(index), supervisor.BackoffConfig{
		Initial:    o.config.BackoffInitial,
		Max:        o.config.BackoffMax,
		Multiplier: o.config.BackoffMultiply,
		Spread:     0.4,
	})
	return supervisor.New(supervisor.Config{
		Runner:      o.runner,
		Spec:        o.spec,
		Backoff:     backoff,
		Logger:      o.logger.With("run", index+1),
		MaxAttempts: o.config.MaxAttempts(),
		Callbacks: supervisor.Callbacks{
			OnStateChange: o.onStateChange,
			OnAttempt:     o.onAttempt,
			OnExit:        o.onExit,
			OnRetry:       o.onRetry,
		},
	})
}

func (o *Orchestrator) logRunFinished(index int, res process.Result) {
	attrs := []any{
		"run", index + 1,
		"outcome", res.Outcome(),
		"exit_code", res.ExitCode,
		"elapsed", res.Elapsed.String(),
	}
	if total := o.estimator.Total(); total > 1 {
		if p, err := o.estimator.Status(index); err == nil {
			attrs = append(attrs,
				"of", total,
				"percent", fmt.Sprintf("%.0f", p.Percent()),
				"remaining", p.Remaining.Round(time.Second).String(),
				"eta", p.ETA.Format(time.TimeOnly),
			)
		}
	}
	o.logger.Info("run_finished", attrs...)
}

// =============================================================================
// Subscribers and background work
// =============================================================================

// subscribe attaches the output consumers to the runner.
func (o *Orchestrator) subscribe() {
	o.runner.OnStdout(o.stdoutLog.HandleLine)
	o.runner.OnStderr(o.stderrLog.HandleLine)
	if logging.Enabled(o.logger, logging.LevelTrace) {
		o.runner.OnDebug(o.traceLog.WriteLine)
	}
	o.runner.OnLine(func(ev process.LineEvent) {
		o.rate.Add(len(ev.Line) + 1)
	})

	switch {
	case o.tap != nil:
		o.runner.OnLine(func(ev process.LineEvent) {
			o.tap.Feed(ev)
		})
	case !o.config.Quiet:
		out := process.LockedWriter(o.stdout)
		errOut := process.LockedWriter(o.stderr)
		o.runner.OnStdout(func(line string) { fmt.Fprintln(out, line) })
		o.runner.OnStderr(func(line string) { fmt.Fprintln(errOut, line) })
	}
}

// startSampler records an output rate sample every second until stopped.
func (o *Orchestrator) startSampler() (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				o.rate.RecordSample()
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// startTUI runs the live view. The returned func waits for the display to
// take every queued line and then closes it.
func (o *Orchestrator) startTUI() (stop func()) {
	if o.tap == nil {
		return func() {}
	}

	width, height := tui.TerminalSize(os.Stdout)
	model := tui.New(tui.Config{
		Command:     o.spec.CommandString(),
		TotalRuns:   o.config.Repeat,
		MetricsAddr: o.metricsAddr(),
		Aborter:     o,
		Rate:        o.rate,
		Drops:       o.tap,
		Width:       width,
		Height:      height,
	})
	o.program = tea.NewProgram(model, tea.WithAltScreen())

	programDone := make(chan struct{})
	go func() {
		defer close(programDone)
		if _, err := o.program.Run(); err != nil {
			o.logger.Error("tui_error", "error", err)
		}
	}()

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		tui.Forward(o.program, o.tap)
	}()

	return func() {
		o.tap.Close()
		<-forwardDone
		tui.SendQuit(o.program)
		<-programDone
	}
}

// handleSignals aborts the session on SIGINT or SIGTERM.
func (o *Orchestrator) handleSignals(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			o.logger.Info("received_signal", "signal", sig.String())
			if _, err := o.Abort(); err != nil {
				o.logger.Warn("abort_failed", "error", err)
			}
		}
	}
}

// shutdown publishes the final metrics and stops the metrics server.
func (o *Orchestrator) shutdown() {
	o.metrics.SetDroppedLines(o.droppedLines())

	if o.config.MetricsFile != "" {
		if err := metrics.WriteTextfile(o.config.MetricsFile, o.registry); err != nil {
			o.logger.Warn("metrics_file_failed", "path", o.config.MetricsFile, "error", err)
		} else {
			o.logger.Debug("metrics_file_written", "path", o.config.MetricsFile)
		}
	}

	if o.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := o.metricsServer.Shutdown(ctx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}
}

// =============================================================================
// Callback handlers
// =============================================================================

func (o *Orchestrator) onAttempt(attempt int) {
	o.mu.Lock()
	o.attempt = attempt
	o.mu.Unlock()
	o.metrics.RunStarted()
}

func (o *Orchestrator) onStart(runID string, spec process.StartSpec, pid int) {
	o.mu.Lock()
	o.pid = pid
	run, attempt := o.run, o.attempt
	o.mu.Unlock()

	o.logger.Debug("child_started", "run_id", runID, "pid", pid, "run", run, "attempt", attempt)
	o.send(tui.StartedMsg{RunID: runID, PID: pid, Run: run, Attempt: attempt})
}

func (o *Orchestrator) onExit(attempt int, res process.Result) {
	o.metrics.RunFinished(res)
	o.mu.Lock()
	o.pid = 0
	o.last = res
	o.mu.Unlock()
	o.send(tui.ExitedMsg{Result: res})
}

func (o *Orchestrator) onRetry(attempt int, delay time.Duration) {
	o.metrics.RunRetried()
	o.retries.Add(1)
}

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	if newState == supervisor.StateBackoff {
		o.send(tui.StateMsg{State: newState.String()})
	}
}

// send delivers msg to the TUI when it is running.
func (o *Orchestrator) send(msg tea.Msg) {
	if o.program != nil {
		o.program.Send(msg)
	}
}

// =============================================================================
// Summary
// =============================================================================

// wantSummary reports whether the session is worth summarizing. A single
// plain run already shows everything in its own output.
func (o *Orchestrator) wantSummary() bool {
	return o.config.Repeat > 1 || o.config.Retries > 0 || o.config.TUI || o.config.Verbose
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary() {
	if !o.wantSummary() {
		return
	}
	snap := o.runStats.Snapshot()
	summary := o.metrics.GenerateSummary()
	fmt.Fprint(o.stderr, stats.FormatExitSummary(&snap, stats.SummaryConfig{
		Command:      o.spec.CommandString(),
		Duration:     summary.Duration,
		Repeat:       o.config.Repeat,
		Retries:      o.retries.Load(),
		DroppedLines: o.droppedLines(),
		MetricsAddr:  o.metricsAddr(),
		MetricsFile:  o.config.MetricsFile,
	}))
}

// printStderrTail shows the last stderr lines of a failed quiet session,
// which would otherwise never be seen.
func (o *Orchestrator) printStderrTail(res process.Result) {
	if !o.config.Quiet || res.Outcome() == "ok" {
		return
	}
	lines := o.stderrLog.RecentLines(stderrTailLines)
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(o.stderr, "Last %d stderr lines:\n", len(lines))
	fmt.Fprint(o.stderr, text.Indent(strings.Join(lines, "\n")+"\n", "  "))
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

func (o *Orchestrator) droppedLines() int64 {
	if o.tap == nil {
		return 0
	}
	_, dropped, _ := o.tap.Stats()
	return dropped
}

// ExitCode maps the last result of a session to the process exit code: the
// child's own code, 124 after a timeout, 127 when it could not be started,
// 130 when nothing ran, and 1 for other failures.
func ExitCode(res process.Result) int {
	if res.RunID == "" {
		return ExitInterrupted
	}
	var (
		launchErr  *process.LaunchError
		timeoutErr *process.TimeoutError
	)
	switch {
	case errors.As(res.Err, &launchErr):
		return ExitLaunchFailed
	case errors.As(res.Err, &timeoutErr):
		return ExitTimeout
	case res.Err != nil, res.ExitCode < 0:
		return ExitConfigError
	default:
		return res.ExitCode
	}
}

// =============================================================================
// Control and accessors
// =============================================================================

// Abort ends the session: no further run or retry starts and the running
// child, if any, is killed. It satisfies tui.Aborter.
func (o *Orchestrator) Abort() (bool, error) {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	killed, err := o.runner.Abort()
	if errors.Is(err, process.ErrNoProcess) {
		return false, nil
	}
	return killed, err
}

// Result returns the result of the most recent attempt.
func (o *Orchestrator) Result() process.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Status describes the session for the metrics server's /status endpoint.
func (o *Orchestrator) Status() metrics.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := metrics.Status{
		Command:   o.spec.CommandString(),
		Running:   o.pid != 0,
		PID:       o.pid,
		Run:       o.run,
		TotalRuns: o.config.Repeat,
		Attempt:   o.attempt,
		ExitCode:  o.last.ExitCode,
	}
	if o.last.RunID != "" {
		st.Outcome = o.last.Outcome()
	}
	return st
}

// Stats returns the per-run statistics recorded so far.
func (o *Orchestrator) Stats() stats.Snapshot {
	return o.runStats.Snapshot()
}

// Runner returns the process runner for external access.
func (o *Orchestrator) Runner() *process.Runner {
	return o.runner
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the registry holding the session's metrics.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}
