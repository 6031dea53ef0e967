package process

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// RunCommand
// =============================================================================

func TestRunCommand(t *testing.T) {
	requireShell(t)

	var (
		mu             sync.Mutex
		stdout, stderr []string
		debug          int
	)
	code, err := RunCommand("sh", `-c "echo out; echo err >&2; exit 4"`,
		func(line string) { mu.Lock(); stdout = append(stdout, line); mu.Unlock() },
		func(line string) { mu.Lock(); stderr = append(stderr, line); mu.Unlock() },
		func(string) { mu.Lock(); debug++; mu.Unlock() },
	)
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if code != 4 {
		t.Errorf("RunCommand() code = %d, want 4", code)
	}
	if len(stdout) != 1 || stdout[0] != "out" {
		t.Errorf("stdout = %q, want [out]", stdout)
	}
	if len(stderr) != 1 || stderr[0] != "err" {
		t.Errorf("stderr = %q, want [err]", stderr)
	}
	if debug == 0 {
		t.Error("expected debug messages")
	}
}

func TestRunCommand_NilCallbacks(t *testing.T) {
	requireShell(t)

	code, err := RunCommand("sh", `-c "echo ignored"`, nil, nil, nil)
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if code != 0 {
		t.Errorf("RunCommand() code = %d, want 0", code)
	}
}

func TestRunCommand_LaunchFailure(t *testing.T) {
	code, err := RunCommand("procrun-definitely-missing-binary", "", nil, nil, nil)

	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("RunCommand() error = %v, want *LaunchError", err)
	}
	if code != -1 {
		t.Errorf("RunCommand() code = %d, want -1", code)
	}
}

// =============================================================================
// RunForConsole
// =============================================================================

// redirect swaps *target for a pipe and returns a func that restores it and
// yields everything written.
func redirect(t *testing.T, target **os.File) func() string {
	t.Helper()
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	saved := *target
	*target = pw

	data := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(pr)
		pr.Close()
		data <- string(b)
	}()
	return func() string {
		*target = saved
		pw.Close()
		return <-data
	}
}

func TestRunForConsole(t *testing.T) {
	requireShell(t)

	restoreOut := redirect(t, &os.Stdout)
	restoreErr := redirect(t, &os.Stderr)
	code, err := RunForConsole("sh", `-c "echo out; echo err >&2; exit 3"`)
	gotErr := restoreErr()
	gotOut := restoreOut()

	if err != nil {
		t.Fatalf("RunForConsole() error = %v", err)
	}
	if code != 3 {
		t.Errorf("RunForConsole() code = %d, want 3", code)
	}
	if gotErr != "err\n" {
		t.Errorf("stderr = %q, want %q", gotErr, "err\n")
	}
	outLines := strings.Split(strings.TrimSuffix(gotOut, "\n"), "\n")
	found := false
	for _, line := range outLines {
		switch line {
		case "out":
			found = true
		case "err":
			t.Error("stderr line written to stdout")
		}
	}
	if !found {
		t.Errorf("stdout missing %q:\n%s", "out", gotOut)
	}
	if len(outLines) < 2 {
		t.Errorf("stdout has no debug messages:\n%s", gotOut)
	}
}

// =============================================================================
// LockedWriter
// =============================================================================

func TestLockedWriter_ConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	w := LockedWriter(&buf)

	const writers, lines = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < lines; j++ {
				w.Write([]byte("0123456789\n"))
			}
		}()
	}
	wg.Wait()

	got := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(got) != writers*lines {
		t.Fatalf("got %d lines, want %d", len(got), writers*lines)
	}
	for _, line := range got {
		if line != "0123456789" {
			t.Fatalf("interleaved line %q", line)
		}
	}
}
