// Package stream reads child process output one line at a time.
//
// Two shapes are provided:
//
//	LineReader: lossless, one goroutine per stream, hands every line to a sink
//	Tap:        bounded and lossy, for observers that must never stall a reader
package stream

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// readBufferSize is the bufio buffer size. Lines longer than it still
// come through intact.
const readBufferSize = 64 * 1024

// LineSink receives each line, without its terminator.
type LineSink func(line string)

// LineReader drains one io.ReadCloser line by line until end of stream.
//
// Lifecycle:
//
//  1. lr := NewLineReader(pipe, sink)
//  2. go lr.Run()
//  3. <-lr.Done()            // or a bounded wait on it
//  4. lr.Close()             // releases the pipe; safe to repeat
//
// Close may be called while Run is blocked in a read to force it to return.
type LineReader struct {
	name string
	rc   io.ReadCloser
	sink LineSink

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	bytesRead atomic.Int64
	linesRead atomic.Int64

	errMu sync.Mutex
	err   error
}

// NewLineReader creates a reader for rc. The sink is called on the Run
// goroutine, in stream order.
func NewLineReader(name string, rc io.ReadCloser, sink LineSink) *LineReader {
	return &LineReader{
		name: name,
		rc:   rc,
		sink: sink,
		done: make(chan struct{}),
	}
}

// Run reads lines until EOF, a read error, or Close. A line ends at "\n",
// "\r\n" or a lone "\r", so progress output that redraws with "\r" arrives
// as separate lines. It closes Done on return. Run must be called at most
// once.
func (r *LineReader) Run() {
	defer close(r.done)

	br := bufio.NewReaderSize(r.rc, readBufferSize)
	var (
		line    []byte
		pending int64 // bytes read but not yet added to bytesRead
		afterCR bool
	)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if len(line) > 0 {
				r.emit(line, pending)
			} else {
				r.bytesRead.Add(pending)
			}
			if !errors.Is(err, io.EOF) && !r.closed.Load() && !errors.Is(err, os.ErrClosed) {
				r.errMu.Lock()
				r.err = err
				r.errMu.Unlock()
			}
			return
		}
		pending++

		switch {
		case b == '\n' && afterCR:
			// Second half of "\r\n"; the line went out at the "\r".
			r.bytesRead.Add(pending)
			pending = 0
		case b == '\n' || b == '\r':
			r.emit(line, pending)
			line = line[:0]
			pending = 0
		default:
			line = append(line, b)
		}
		afterCR = b == '\r'
	}
}

func (r *LineReader) emit(line []byte, n int64) {
	r.bytesRead.Add(n)
	r.linesRead.Add(1)
	if r.sink != nil {
		r.sink(string(line))
	}
}

// Done is closed when Run returns.
func (r *LineReader) Done() <-chan struct{} {
	return r.done
}

// Close closes the underlying reader. Idempotent; later calls return the
// first call's result.
func (r *LineReader) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.rc.Close()
	})
	return r.closeErr
}

// Err returns the read error that stopped Run, if any. EOF and errors
// caused by Close are not reported.
func (r *LineReader) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Name returns the name given at construction, e.g. "stdout".
func (r *LineReader) Name() string {
	return r.name
}

// Stats returns bytes and lines read so far, including terminators.
func (r *LineReader) Stats() (bytesRead, linesRead int64) {
	return r.bytesRead.Load(), r.linesRead.Load()
}
