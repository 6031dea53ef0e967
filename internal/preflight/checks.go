// Package preflight provides startup validation checks.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

// Note: RLIMIT_NPROC is not portable, so process limits are read from
// /proc/self/limits instead.

// fdsPerRun is the number of descriptors a single run holds open: two pipe
// pairs, an optional capture file and stdin, plus slack for the child.
const fdsPerRun = 16

// fdBaseline covers the runner's own descriptors (logging, metrics
// listener, textfile writes).
const fdBaseline = 32

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for spec.
func RunAll(spec process.StartSpec) *Result {
	result := &Result{
		Checks: make([]Check, 0, 5),
		Passed: true,
	}

	result.add(checkWorkingDirectory(spec.WorkingDirectory))
	result.add(checkExecutable(spec.WorkingDirectory, spec.Executable))
	result.add(checkArguments(spec))
	result.add(checkFileDescriptors(1))
	result.add(checkProcessLimit())

	return result
}

// checkWorkingDirectory verifies the directory exists and is a directory.
// An empty path means the caller's current directory.
func checkWorkingDirectory(dir string) Check {
	if dir == "" {
		return Check{
			Name:    "working_directory",
			Passed:  true,
			Message: "current directory",
		}
	}
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		return Check{
			Name:    "working_directory",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", dir, err),
		}
	case !info.IsDir():
		return Check{
			Name:    "working_directory",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a directory", dir),
		}
	}
	return Check{
		Name:    "working_directory",
		Passed:  true,
		Message: dir,
	}
}

// ResolveExecutable returns the path the OS would run for name. Bare names
// are looked up on PATH. Names with a separator are taken relative to dir.
func ResolveExecutable(dir, name string) (string, error) {
	if name == "" {
		return "", errors.New("executable is empty")
	}
	if !strings.ContainsRune(name, os.PathSeparator) && !strings.ContainsRune(name, '/') {
		return exec.LookPath(name)
	}

	path := name
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("%s: %w", path, fs.ErrPermission)
	}
	return path, nil
}

// checkExecutable verifies the executable resolves to a runnable file.
func checkExecutable(dir, name string) Check {
	path, err := ResolveExecutable(dir, name)
	if err != nil {
		return Check{
			Name:    "executable",
			Passed:  false,
			Message: fmt.Sprintf("%q not found or not executable: %v", name, err),
		}
	}
	return Check{
		Name:    "executable",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkArguments verifies the argument string splits cleanly.
func checkArguments(spec process.StartSpec) Check {
	argv, err := spec.Argv()
	if err != nil {
		return Check{
			Name:    "arguments",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Check{
		Name:    "arguments",
		Passed:  true,
		Message: fmt.Sprintf("%d argument(s)", len(argv)-1),
	}
}

// checkFileDescriptors verifies enough descriptors are available for runs
// concurrent runs.
func checkFileDescriptors(runs int) Check {
	required := runs*fdsPerRun + fdBaseline
	actual, err := openFileLimit()
	if err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkProcessLimit warns when few process slots are left.
func checkProcessLimit() Check {
	const required = 16

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses extracts the soft "Max processes" limit from the
// contents of /proc/self/limits. Zero means not found.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1_000_000
		}
		var n int
		fmt.Sscanf(fields[2], "%d", &n)
		return n
	}
	return 0
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "executable":
		return "check the spelling, use an absolute path, or add its directory to PATH"
	case "working_directory":
		return "create the directory or pass an existing one with --dir"
	case "arguments":
		return "balance the quotes in the argument string"
	default:
		return "see procrun --help"
	}
}
