package process

import (
	"bufio"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/randomizedcoder/go-procrun/internal/stream"
)

// invocation holds the OS resources of a single Run. release frees all of
// them exactly once.
type invocation struct {
	runner *Runner
	spec   StartSpec
	subs   subscribers
	log    *slog.Logger

	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File

	stdoutReader *stream.LineReader
	stderrReader *stream.LineReader

	capture *captureFile

	releaseOnce sync.Once
}

// debug logs event and hands msg to the OnDebug subscribers.
func (inv *invocation) debug(msg, event string, attrs ...any) {
	inv.log.Debug(event, attrs...)
	for _, fn := range inv.subs.debug {
		fn(msg)
	}
}

func (inv *invocation) openPipes(cmd *exec.Cmd) error {
	var err error
	if inv.stdoutR, inv.stdoutW, err = os.Pipe(); err != nil {
		return err
	}
	if inv.stderrR, inv.stderrW, err = os.Pipe(); err != nil {
		return err
	}
	cmd.Stdout = inv.stdoutW
	cmd.Stderr = inv.stderrW
	return nil
}

func (inv *invocation) closeWriteEnds() {
	inv.closeQuietly("stdout_write", inv.stdoutW)
	inv.closeQuietly("stderr_write", inv.stderrW)
	inv.stdoutW, inv.stderrW = nil, nil
}

// newReader builds the reader for one stream. Its sink is the only writer
// of buf.
func newReader(inv *invocation, s Stream, buf *strings.Builder) *stream.LineReader {
	var (
		rc   *os.File
		subs []func(string)
	)
	switch s {
	case Stdout:
		rc, subs = inv.stdoutR, inv.subs.stdout
	default:
		rc, subs = inv.stderrR, inv.subs.stderr
	}
	if inv.runner.opts.DisableCapture {
		buf = nil
	}
	var capture *captureFile
	if s == Stdout {
		capture = inv.capture
	}
	lineSubs := inv.subs.line

	var seq int64
	return stream.NewLineReader(s.String(), rc, func(line string) {
		seq++
		if buf != nil {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		if capture != nil {
			capture.writeLine(line)
		}
		for _, fn := range subs {
			fn(line)
		}
		if len(lineSubs) > 0 {
			ev := LineEvent{Stream: s, Line: line, Seq: seq}
			for _, fn := range lineSubs {
				fn(ev)
			}
		}
	})
}

// joinReaders waits up to grace for each reader. A reader still blocked
// after that (a grandchild holding the pipe, say) has its pipe closed and
// is then waited for, so no sink is running once this returns.
func (inv *invocation) joinReaders(grace time.Duration) {
	for _, lr := range []*stream.LineReader{inv.stdoutReader, inv.stderrReader} {
		timer := time.NewTimer(grace)
		select {
		case <-lr.Done():
		case <-timer.C:
			inv.log.Warn("reader_join_timeout", "stream", lr.Name(), "grace", grace.String())
			if err := lr.Close(); err != nil {
				inv.log.Debug("close_failed", "stream", lr.Name(), "error", err)
			}
			<-lr.Done()
		}
		timer.Stop()
		bytes, lines := lr.Stats()
		inv.log.Debug("reader_joined", "stream", lr.Name(), "lines", lines, "bytes", bytes)
	}
}

// release closes every handle the invocation opened. Close errors are
// logged and dropped.
func (inv *invocation) release() {
	inv.releaseOnce.Do(func() {
		inv.debug("closing process handles", "process_releasing")
		inv.closeWriteEnds()
		if inv.stdoutReader != nil {
			if err := inv.stdoutReader.Close(); err != nil {
				inv.log.Debug("close_failed", "handle", "stdout_read", "error", err)
			}
		} else {
			inv.closeQuietly("stdout_read", inv.stdoutR)
		}
		if inv.stderrReader != nil {
			if err := inv.stderrReader.Close(); err != nil {
				inv.log.Debug("close_failed", "handle", "stderr_read", "error", err)
			}
		} else {
			inv.closeQuietly("stderr_read", inv.stderrR)
		}
		if inv.capture != nil {
			inv.capture.close()
		}
	})
}

func (inv *invocation) closeQuietly(handle string, f *os.File) {
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		inv.log.Debug("close_failed", "handle", handle, "error", err)
	}
}

// openCapture opens the spec's capture file, if any. Failure is logged and
// the run continues without it.
func (inv *invocation) openCapture() {
	if inv.spec.CaptureFile == "" {
		return
	}
	f, err := os.Create(inv.spec.CaptureFile)
	if err != nil {
		inv.log.Warn("capture_open_failed", "path", inv.spec.CaptureFile, "error", err)
		return
	}
	inv.capture = &captureFile{
		path: inv.spec.CaptureFile,
		f:    f,
		w:    bufio.NewWriter(f),
		log:  inv.log,
	}
}

// captureFile copies stdout lines to disk. It is written only by the stdout
// reader and closed after that reader has been joined.
type captureFile struct {
	path   string
	f      *os.File
	w      *bufio.Writer
	log    *slog.Logger
	failed bool
}

func (c *captureFile) writeLine(line string) {
	if c.failed {
		return
	}
	if _, err := c.w.WriteString(line + "\n"); err != nil {
		c.fail(err)
	}
}

func (c *captureFile) fail(err error) {
	c.failed = true
	c.log.Warn("capture_write_failed", "path", c.path, "error", err)
}

func (c *captureFile) close() {
	if err := c.w.Flush(); err != nil && !c.failed {
		c.log.Warn("capture_write_failed", "path", c.path, "error", err)
	}
	if err := c.f.Close(); err != nil {
		c.log.Debug("close_failed", "handle", "capture", "error", err)
	}
}
