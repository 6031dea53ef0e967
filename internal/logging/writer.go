package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// Writer is an io.Writer that forwards each line written to it as one log
// record at a fixed level. A trailing partial line is held until its
// newline arrives or Flush is called.
type Writer struct {
	logger   *slog.Logger
	level    slog.Level
	category string

	mu  sync.Mutex
	buf []byte
}

// NewWriter creates a Writer logging at level with a "category" attribute.
func NewWriter(logger *slog.Logger, level slog.Level, category string) *Writer {
	return &Writer{logger: logger, level: level, category: category}
}

// NewDebugWriter logs at debug level.
func NewDebugWriter(logger *slog.Logger, category string) *Writer {
	return NewWriter(logger, slog.LevelDebug, category)
}

// NewTraceWriter logs at LevelTrace.
func NewTraceWriter(logger *slog.Logger, category string) *Writer {
	return NewWriter(logger, LevelTrace, category)
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimSuffix(w.buf[:i], []byte("\r"))))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// WriteLine logs msg as one record. It matches the runner's debug
// subscriber signature.
func (w *Writer) WriteLine(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(msg)
}

// Flush logs any buffered partial line.
func (w *Writer) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = w.buf[:0]
	}
}

func (w *Writer) emit(msg string) {
	w.logger.Log(context.Background(), w.level, msg, "category", w.category)
}
