package process

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// RunCommand runs command with args in the current directory and returns
// its exit code. Any of the callbacks may be nil. Output is not captured.
func RunCommand(command, args string, onStdout, onStderr, onDebug func(string)) (int, error) {
	r := New(Options{DisableCapture: true})
	if onStdout != nil {
		r.OnStdout(onStdout)
	}
	if onStderr != nil {
		r.OnStderr(onStderr)
	}
	if onDebug != nil {
		r.OnDebug(onDebug)
	}
	_, err := r.Run(StartSpec{Executable: command, Arguments: args})
	return r.ExitCode(), err
}

// RunForConsole runs command with args, echoing the child's stdout and the
// runner's progress messages to os.Stdout and the child's stderr to
// os.Stderr.
func RunForConsole(command, args string) (int, error) {
	out := LockedWriter(os.Stdout)
	return RunCommand(command, args,
		func(line string) { fmt.Fprintln(out, line) },
		func(line string) { fmt.Fprintln(os.Stderr, line) },
		func(msg string) { fmt.Fprintln(out, msg) },
	)
}

// LockedWriter serializes writes to w. Stdout lines and debug messages
// arrive on different goroutines.
func LockedWriter(w io.Writer) io.Writer {
	return &lockedWriter{w: w}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
