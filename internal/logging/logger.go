// Package logging provides structured logging for procrun.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is below debug. It carries the runner's step-by-step progress
// messages, which are too chatty for -v alone.
const LevelTrace = slog.LevelDebug - 4

// LevelNames lists the accepted level names, most verbose first.
var LevelNames = []string{"trace", "debug", "info", "warn", "error"}

// NewLogger creates the session logger on stderr. format is "json" or
// "text"; level is one of LevelNames. verbose lowers the level to at
// least debug and adds source locations.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	lvl, _ := ParseLevel(level)
	if verbose && lvl > slog.LevelDebug {
		lvl = slog.LevelDebug
	}
	return slog.New(newHandler(os.Stderr, format, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl <= slog.LevelDebug,
		ReplaceAttr: replaceLevelName,
	}))
}

// NewLoggerWithWriter creates a logger writing to w, without source
// locations.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	lvl, _ := ParseLevel(level)
	return slog.New(newHandler(w, format, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replaceLevelName,
	}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// newHandler picks the handler for format. Anything but "json" is text.
func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// replaceLevelName prints LevelTrace as "TRACE" instead of "DEBUG-4".
func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// ParseLevel converts a level name to a slog.Level, ignoring case. Unknown
// names give info and false.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Enabled reports whether logger would emit records at level.
func Enabled(logger *slog.Logger, level slog.Level) bool {
	return logger.Enabled(context.Background(), level)
}

// SetDefault makes logger the slog default, which RunCommand and other
// logger-less callers fall back to.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
