package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-procrun/internal/stream"
)

// DefaultGracePeriod is how long each reader is given to drain its pipe
// after the child has exited.
const DefaultGracePeriod = 2 * time.Second

// Options configures a Runner.
type Options struct {
	// GracePeriod bounds the wait for each reader after the child exits.
	// Zero means DefaultGracePeriod.
	GracePeriod time.Duration

	// Timeout bounds the wait for the child to exit. When it elapses the
	// child is killed and Run returns a *TimeoutError. Zero waits forever.
	Timeout time.Duration

	// Stdin is given to the child. Nil inherits the caller's stdin.
	Stdin io.Reader

	// Env holds extra KEY=VALUE entries added to the caller's environment.
	Env []string

	// DisableCapture stops the runner from accumulating output. Run then
	// returns an empty string and subscribers are the only consumers.
	DisableCapture bool

	// Logger receives lifecycle events. Nil uses slog.Default().
	Logger *slog.Logger

	Callbacks Callbacks
}

// Callbacks are optional hooks around a run. They are called on the
// goroutine that called Run.
type Callbacks struct {
	// OnStart is called once the child has been created.
	OnStart func(runID string, spec StartSpec, pid int)

	// OnExit is called after cleanup, just before Run returns.
	OnExit func(res Result)
}

// Result describes a finished run.
type Result struct {
	RunID    string        `json:"run_id"`
	Spec     StartSpec     `json:"spec"`
	PID      int           `json:"pid"`
	ExitCode int           `json:"exit_code"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`

	StdoutLines int64 `json:"stdout_lines"`
	StderrLines int64 `json:"stderr_lines"`
	StdoutBytes int64 `json:"stdout_bytes"`
	StderrBytes int64 `json:"stderr_bytes"`

	// Aborted is set when Abort killed the child.
	Aborted bool `json:"aborted"`

	// TimedOut is set when the runner killed the child after Timeout.
	TimedOut bool `json:"timed_out"`

	Err error `json:"-"`
}

// Outcome classifies the run: ok, nonzero, aborted, launch_failed,
// timeout or error.
func (r Result) Outcome() string {
	if r.Aborted && r.Err == nil {
		return "aborted"
	}
	return Outcome(r.ExitCode, r.Err)
}

// Runner runs one external command at a time.
//
// Run blocks until the child has exited and its output has been drained.
// Calls to Run are serialized; a Runner may be reused once Run returns.
// Abort may be called from any goroutine.
type Runner struct {
	opts   Options
	logger *slog.Logger

	runMu sync.Mutex

	subMu      sync.Mutex
	stdoutSubs []func(string)
	stderrSubs []func(string)
	lineSubs   []func(LineEvent)
	debugSubs  []func(string)

	procMu  sync.Mutex
	proc    *os.Process
	aborted atomic.Bool

	// Written by Run. The buffers have one writer each (their reader)
	// and are read only after both readers are joined.
	spec     StartSpec
	exitCode int
	stdout   strings.Builder
	stderr   strings.Builder
	result   Result
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:     opts,
		logger:   logger,
		exitCode: -1,
	}
}

// OnStdout subscribes fn to every stdout line. Subscribers run on the
// reader goroutine and must not block, or the child stalls on a full pipe.
// Register subscribers before calling Run.
func (r *Runner) OnStdout(fn func(line string)) {
	r.subMu.Lock()
	r.stdoutSubs = append(r.stdoutSubs, fn)
	r.subMu.Unlock()
}

// OnStderr subscribes fn to every stderr line.
func (r *Runner) OnStderr(fn func(line string)) {
	r.subMu.Lock()
	r.stderrSubs = append(r.stderrSubs, fn)
	r.subMu.Unlock()
}

// OnLine subscribes fn to lines from both streams.
func (r *Runner) OnLine(fn func(ev LineEvent)) {
	r.subMu.Lock()
	r.lineSubs = append(r.lineSubs, fn)
	r.subMu.Unlock()
}

// OnDebug subscribes fn to the runner's progress messages. They are
// delivered on the goroutine that called Run.
func (r *Runner) OnDebug(fn func(message string)) {
	r.subMu.Lock()
	r.debugSubs = append(r.debugSubs, fn)
	r.subMu.Unlock()
}

// RunArgs is Run with the spec given field by field.
func (r *Runner) RunArgs(workingDir, command, arguments, captureFile string) (string, error) {
	return r.Run(NewStartSpec(workingDir, command, arguments, captureFile))
}

// Run starts the child described by spec, waits for it to exit, and
// returns everything it wrote to stdout, one "\n"-terminated line per line
// read. A non-zero exit code is not an error; see ExitCode.
//
// Errors are *LaunchError, *TimeoutError or *RunError.
func (r *Runner) Run(spec StartSpec) (string, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.spec = spec
	r.exitCode = -1
	r.stdout.Reset()
	r.stderr.Reset()
	r.aborted.Store(false)

	runID := uuid.NewString()
	inv := &invocation{
		runner: r,
		spec:   spec,
		subs:   r.snapshot(),
		log:    r.logger.With("run_id", runID),
	}
	res := Result{
		RunID:    runID,
		Spec:     spec,
		PID:      -1,
		ExitCode: -1,
		Started:  time.Now(),
	}

	out, err := r.execute(inv, &res)

	res.Elapsed = time.Since(res.Started)
	res.ExitCode = r.exitCode
	res.Aborted = r.aborted.Load()
	res.Err = err
	if inv.stdoutReader != nil {
		res.StdoutBytes, res.StdoutLines = inv.stdoutReader.Stats()
		res.StderrBytes, res.StderrLines = inv.stderrReader.Stats()
	}
	r.result = res

	if err != nil {
		inv.log.Error("process_failed", "spec", spec.String(), "error", err)
	}
	if r.opts.Callbacks.OnExit != nil {
		r.opts.Callbacks.OnExit(res)
	}
	return out, err
}

func (r *Runner) execute(inv *invocation, res *Result) (string, error) {
	spec := inv.spec

	argv, err := spec.Argv()
	if err != nil {
		return "", &LaunchError{Spec: spec, Err: err}
	}

	cmd := exec.Command(spec.Executable, argv...)
	cmd.Dir = spec.WorkingDirectory
	cmd.SysProcAttr = sysProcAttr()
	if len(r.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), r.opts.Env...)
	}
	if r.opts.Stdin != nil {
		cmd.Stdin = r.opts.Stdin
	} else {
		cmd.Stdin = os.Stdin
	}

	inv.debug(fmt.Sprintf("embedded process file name: %s", spec.Executable), "process_configured",
		"executable", spec.Executable,
		"arguments", spec.Arguments,
		"working_dir", spec.WorkingDirectory,
	)

	defer inv.release()
	if err := inv.openPipes(cmd); err != nil {
		return "", &RunError{Op: "pipe", Err: err}
	}

	inv.debug("calling process start", "process_starting")
	if err := cmd.Start(); err != nil {
		return "", &LaunchError{Spec: spec, Err: err}
	}
	// The child holds its own copies of the write ends. Ours must go, or
	// the readers never see EOF.
	inv.closeWriteEnds()

	// A failed launch leaves an existing capture file untouched.
	inv.openCapture()
	inv.stdoutReader = newReader(inv, Stdout, &r.stdout)
	inv.stderrReader = newReader(inv, Stderr, &r.stderr)

	res.PID = cmd.Process.Pid
	r.setProc(cmd.Process)
	inv.log.Info("process_started", "pid", res.PID, "spec", spec.String())
	if r.opts.Callbacks.OnStart != nil {
		r.opts.Callbacks.OnStart(res.RunID, spec, res.PID)
	}

	inv.debug("starting stream reader goroutines", "readers_starting")
	go inv.stdoutReader.Run()
	go inv.stderrReader.Run()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	inv.debug("waiting for external process to exit", "process_waiting")
	waitErr, exited := awaitExit(waitCh, r.opts.Timeout)
	if !exited {
		res.TimedOut = true
		inv.log.Warn("process_timeout", "pid", res.PID, "timeout", r.opts.Timeout.String())
		if kerr := killProcess(cmd.Process); kerr != nil {
			inv.log.Debug("kill_failed", "pid", res.PID, "error", kerr)
		}
		waitErr, exited = awaitExit(waitCh, r.opts.GracePeriod)
	}
	r.clearProc()

	inv.debug("joining stream reader goroutines", "readers_joining")
	inv.joinReaders(r.opts.GracePeriod)

	if exited {
		r.exitCode = exitCodeOf(cmd.ProcessState)
	}
	inv.debug(fmt.Sprintf("process call exited with code %d", r.exitCode), "process_exited",
		"pid", res.PID,
		"exit_code", r.exitCode,
	)

	if res.TimedOut {
		return "", &TimeoutError{
			Executable:       spec.Executable,
			WorkingDirectory: spec.WorkingDirectory,
			After:            r.opts.Timeout,
		}
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return "", &RunError{Op: "wait", Err: waitErr}
		}
	}
	for _, lr := range []*stream.LineReader{inv.stdoutReader, inv.stderrReader} {
		if err := lr.Err(); err != nil {
			return "", &RunError{Op: "read " + lr.Name(), Err: err}
		}
	}
	return r.stdout.String(), nil
}

// awaitExit waits for the child's Wait result. A non-positive limit waits
// forever. exited is false if the limit elapsed first.
func awaitExit(waitCh <-chan error, limit time.Duration) (err error, exited bool) {
	if limit <= 0 {
		return <-waitCh, true
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		return err, true
	case <-timer.C:
		return nil, false
	}
}

// Abort kills the running child immediately. The blocked Run then goes
// through its normal drain and cleanup and reports the signal exit code.
// It returns false with ErrNoProcess when nothing is running, or false with
// the OS error when the kill could not be delivered.
func (r *Runner) Abort() (bool, error) {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	if r.proc == nil {
		return false, ErrNoProcess
	}
	r.logger.Debug("process_abort_requested", "pid", r.proc.Pid)
	if err := killProcess(r.proc); err != nil {
		r.logger.Debug("process_abort_failed", "pid", r.proc.Pid, "error", err)
		return false, err
	}
	r.aborted.Store(true)
	return true, nil
}

// Running reports whether a child is currently alive.
func (r *Runner) Running() bool {
	r.procMu.Lock()
	defer r.procMu.Unlock()
	return r.proc != nil
}

func (r *Runner) setProc(p *os.Process) {
	r.procMu.Lock()
	r.proc = p
	r.procMu.Unlock()
}

func (r *Runner) clearProc() {
	r.procMu.Lock()
	r.proc = nil
	r.procMu.Unlock()
}

// ExitCode returns the exit code of the last run, or -1 if it is unknown
// (the child never started or was never reaped). It blocks while a Run is
// in progress.
func (r *Runner) ExitCode() int {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.exitCode
}

// Stderr returns everything the last run wrote to stderr.
func (r *Runner) Stderr() string {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.stderr.String()
}

// Spec returns the spec of the last run.
func (r *Runner) Spec() StartSpec {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.spec
}

// Result returns the outcome of the last run.
func (r *Runner) Result() Result {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.result
}

type subscribers struct {
	stdout []func(string)
	stderr []func(string)
	line   []func(LineEvent)
	debug  []func(string)
}

func (r *Runner) snapshot() subscribers {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return subscribers{
		stdout: slices.Clone(r.stdoutSubs),
		stderr: slices.Clone(r.stderrSubs),
		line:   slices.Clone(r.lineSubs),
		debug:  slices.Clone(r.debugSubs),
	}
}
