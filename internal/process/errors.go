package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"
)

// ErrNoProcess is returned by Abort when no child is running.
var ErrNoProcess = errors.New("no process is running")

// LaunchError means the child could not be created: the executable was not
// found or not executable, the working directory is unusable, or the
// argument string could not be split.
type LaunchError struct {
	Spec StartSpec
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q in %q: %v", e.Spec.Executable, e.Spec.WorkingDirectory, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// NotFound reports whether the executable could not be located.
func (e *LaunchError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
}

// Permission reports whether the OS refused to execute the file.
func (e *LaunchError) Permission() bool {
	return errors.Is(e.Err, fs.ErrPermission)
}

// TimeoutError means the child was still running when the runner gave up
// on it. The child has been sent a kill by the time this is returned.
type TimeoutError struct {
	Executable       string
	WorkingDirectory string
	After            time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("external process for file %q in directory %q failed to complete within %s",
		e.Executable, e.WorkingDirectory, e.After)
}

// RunError wraps any other failure while setting up, waiting on, or
// tearing down the child.
type RunError struct {
	Op  string
	Err error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v", e.Op, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Outcome classifies how a run ended. It is used as a metrics label and in
// summaries.
func Outcome(exitCode int, err error) string {
	var (
		launchErr  *LaunchError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.As(err, &launchErr):
		return "launch_failed"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case err != nil:
		return "error"
	case exitCode == 0:
		return "ok"
	default:
		return "nonzero"
	}
}
