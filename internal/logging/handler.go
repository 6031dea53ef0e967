package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single logged line before truncation.
	// The runner's captured output is never truncated; only the log copy is.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept for the exit summary.
	MaxBufferedLines = 100
)

// LineLogger logs the output lines of one stream of a child process.
// It keeps the most recent lines for the exit summary.
//
// HandleLine matches the runner's subscriber signature:
//
//	r.OnStderr(logging.NewLineLogger(logger, "stderr", verbose).HandleLine)
type LineLogger struct {
	stream  string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	filled int
	total  int64
	mu     sync.Mutex
}

// NewLineLogger creates a line logger for the named stream.
func NewLineLogger(logger *slog.Logger, stream string, verbose bool) *LineLogger {
	return &LineLogger{
		stream:  stream,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleLine processes a single line of output.
func (h *LineLogger) HandleLine(line string) {
	// Truncate if too long
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	if h.filled < MaxBufferedLines {
		h.filled++
	}
	h.total++
	h.mu.Unlock()

	h.logLine(line)
}

// logLine logs the line at appropriate level based on content.
func (h *LineLogger) logLine(line string) {
	level := classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level < slog.LevelWarn {
		return
	}

	h.logger.Log(context.Background(), level, "child_output",
		"stream", h.stream,
		"line", line,
	)
}

// classifyLine picks a log level for a line of child output.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Error patterns
	if strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "panic:") ||
		strings.Contains(lower, "error") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "not found") {
		return slog.LevelWarn
	}

	// Warning patterns
	if strings.Contains(lower, "warn") ||
		strings.Contains(lower, "deprecated") ||
		strings.Contains(lower, "retry") {
		return slog.LevelInfo
	}

	return slog.LevelDebug
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *LineLogger) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > h.filled {
		n = h.filled
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// Total returns the number of lines handled.
func (h *LineLogger) Total() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Stream returns the stream name given at construction.
func (h *LineLogger) Stream() string {
	return h.stream
}

// ErrorPatterns are common failure markers counted for the exit summary.
var ErrorPatterns = []string{
	"error",
	"fatal",
	"panic:",
	"failed",
	"permission denied",
	"not found",
	"timeout",
	"killed",
}

// CountErrors counts occurrences of ErrorPatterns in the buffered lines,
// ignoring case.
func (h *LineLogger) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for i := 0; i < h.filled; i++ {
		lower := strings.ToLower(h.buffer[i])
		if lower == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(lower, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
