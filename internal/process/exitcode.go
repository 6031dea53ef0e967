package process

import (
	"os"
	"syscall"
)

// exitCodeOf returns the exit code from a finished process. A child killed
// by a signal reports 128 + the signal number, as a shell would.
func exitCodeOf(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}
