// Package process runs a single external command to completion.
//
// A Runner starts the child with stdout and stderr redirected to pipes,
// drains both pipes on dedicated goroutines, republishes every line to
// subscribers, and returns the captured stdout once the child has exited
// and both readers have been joined.
package process

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-shellwords"
)

// StartSpec describes what to run. It is a plain value: the Runner never
// modifies the spec it was given.
type StartSpec struct {
	// WorkingDirectory is the directory the child is started in.
	// Empty means the caller's current directory.
	WorkingDirectory string `json:"working_directory" yaml:"working_directory"`

	// Executable is a path or a name resolved through PATH.
	Executable string `json:"executable" yaml:"executable"`

	// Arguments is the full argument string, split into argv with POSIX
	// shell quoting rules. Nothing is expanded and operators are rejected.
	Arguments string `json:"arguments" yaml:"arguments"`

	// CaptureFile, when set, receives a copy of every stdout line.
	// Writing it is best effort.
	CaptureFile string `json:"capture_file,omitempty" yaml:"capture_file,omitempty"`
}

// NewStartSpec builds a StartSpec. It never fails; validation is left to
// process creation.
func NewStartSpec(workingDir, executable, arguments, captureFile string) StartSpec {
	return StartSpec{
		WorkingDirectory: workingDir,
		Executable:       executable,
		Arguments:        arguments,
		CaptureFile:      captureFile,
	}
}

// Argv splits Arguments into an argument vector. Environment variables and
// backticks are left untouched. Inside double quotes a backslash escapes
// only $ ` " \ and newline, so "C:\temp" keeps its backslash.
func (s StartSpec) Argv() ([]string, error) {
	if strings.TrimSpace(s.Arguments) == "" {
		return nil, nil
	}
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false
	if _, err := p.Parse(s.Arguments); err != nil {
		return nil, fmt.Errorf("split arguments %q: %w", s.Arguments, err)
	}
	// The parser stops at an unquoted ; & | < or >. Those are shell
	// operators, not arguments, and the rest would be silently lost.
	if p.Position >= 0 {
		return nil, fmt.Errorf("split arguments %q: unquoted shell operator at offset %d", s.Arguments, p.Position)
	}
	args, err := shellquote.Split(s.Arguments)
	if err != nil {
		return nil, fmt.Errorf("split arguments %q: %w", s.Arguments, err)
	}
	return args, nil
}

// CommandString returns the command line as it would be typed in a shell.
func (s StartSpec) CommandString() string {
	if s.Arguments == "" {
		return s.Executable
	}
	return s.Executable + " " + s.Arguments
}

// String renders the spec for logs and error messages.
func (s StartSpec) String() string {
	dir := s.WorkingDirectory
	if dir == "" {
		dir = "."
	}
	return fmt.Sprintf("%s$ %s", dir, s.CommandString())
}

// JoinArguments joins already-split arguments back into one argument
// string, quoting words that would otherwise be split differently.
func JoinArguments(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n'\"\\$`|&;<>()*?[]#~") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
