package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// =============================================================================
// Tests: ParseLevel
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input  string
		want   slog.Level
		wantOK bool
	}{
		{"trace", LevelTrace, true},
		{"TRACE", LevelTrace, true},
		{"debug", slog.LevelDebug, true},
		{"Debug", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", slog.LevelInfo, false},
		{"loud", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLevelNamesParse(t *testing.T) {
	for _, name := range LevelNames {
		if _, ok := ParseLevel(name); !ok {
			t.Errorf("LevelNames entry %q does not parse", name)
		}
	}
}

// =============================================================================
// Tests: Logger construction
// =============================================================================

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    slog.Level // lowest enabled level
	}{
		{"info", false, slog.LevelInfo},
		{"warn", false, slog.LevelWarn},
		{"info", true, slog.LevelDebug},
		{"error", true, slog.LevelDebug},
		{"trace", true, LevelTrace},
		{"bogus", false, slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger("text", tt.level, tt.verbose)
			if !Enabled(logger, tt.want) {
				t.Errorf("level %v should be enabled", tt.want)
			}
			if Enabled(logger, tt.want-1) {
				t.Errorf("level %v should be disabled", tt.want-1)
			}
		})
	}
}

func TestNewLoggerWithWriter_Formats(t *testing.T) {
	tests := []struct {
		format   string
		wantJSON bool
	}{
		{"json", true},
		{"JSON", true},
		{"text", false},
		{"", false},
		{"yaml", false},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLoggerWithWriter(&buf, tt.format, "info").Info("process_started", "pid", 42)

			out := strings.TrimSpace(buf.String())
			isJSON := json.Valid([]byte(out))
			if isJSON != tt.wantJSON {
				t.Errorf("format %q: JSON = %v, want %v (%s)", tt.format, isJSON, tt.wantJSON, out)
			}
			if !strings.Contains(out, "process_started") || !strings.Contains(out, "42") {
				t.Errorf("record missing fields: %s", out)
			}
		})
	}
}

func TestNewLoggerWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter(&buf, "json", "debug").Debug("reader_joined", "stream", "stdout", "lines", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "reader_joined" || rec["stream"] != "stdout" || rec["level"] != "DEBUG" {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["source"]; ok {
		t.Error("writer loggers should not add source")
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "warn")

	logger.Debug("dropped_debug")
	logger.Info("dropped_info")
	logger.Warn("kept_warn")
	logger.Error("kept_error")

	out := buf.String()
	for _, msg := range []string{"dropped_debug", "dropped_info"} {
		if strings.Contains(out, msg) {
			t.Errorf("%s should be filtered:\n%s", msg, out)
		}
	}
	for _, msg := range []string{"kept_warn", "kept_error"} {
		if !strings.Contains(out, msg) {
			t.Errorf("%s missing:\n%s", msg, out)
		}
	}
}

func TestNewLoggerWithWriter_TraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "trace")

	logger.Log(context.Background(), LevelTrace, "readers_starting")

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("want level=TRACE, got: %s", out)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if Enabled(logger, slog.LevelError) {
		t.Error("Discard() logger should not be enabled for errors")
	}
	logger.Error("nowhere")
}

// =============================================================================
// Tests: Helpers
// =============================================================================

func TestSetDefault(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))

	slog.Info("from_default")
	if !strings.Contains(buf.String(), "from_default") {
		t.Error("SetDefault did not replace the default logger")
	}
}

func TestEnabled(t *testing.T) {
	logger := NewLoggerWithWriter(&bytes.Buffer{}, "text", "info")
	if Enabled(logger, slog.LevelDebug) {
		t.Error("info logger reports debug enabled")
	}
	if !Enabled(logger, slog.LevelWarn) {
		t.Error("info logger reports warn disabled")
	}
}
