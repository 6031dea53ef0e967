// Package timeseries tracks the output rate of a running child process.
//
// RateTracker keeps cumulative byte and line counts and computes rolling
// averages over 1s, 10s and 60s windows from a ring of periodic samples.
// Add is lock-free; Stats takes a read lock on the ring.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples to retain (2 minutes at 1 sample/sec)
	ringBufferSize = 120

	// Window durations for rolling averages
	window1s  = 1 * time.Second
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is a point-in-time snapshot of the cumulative counters.
type sample struct {
	timestamp time.Time
	bytes     int64
	lines     int64
}

// RateTracker tracks cumulative output and computes rolling averages.
//
// Usage:
//
//	tracker := NewRateTracker()
//	tracker.Add(len(line)+1)  // per line, from any goroutine
//	// every second:
//	tracker.RecordSample()
//	stats := tracker.Stats()
type RateTracker struct {
	totalBytes atomic.Int64
	totalLines atomic.Int64

	samples  []sample
	writeIdx int // Next write position once the ring is full
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// RateStats contains computed rolling averages at a point in time.
type RateStats struct {
	TotalBytes int64
	TotalLines int64

	// Bytes per second
	Bytes1s  float64
	Bytes10s float64
	Bytes60s float64

	// Lines per second
	Lines1s  float64
	Lines10s float64
	Lines60s float64

	// BytesOverall is the average since tracking started
	BytesOverall float64
}

// NewRateTracker creates a tracker using the wall clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with a custom clock.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// Add records one line of n bytes.
func (t *RateTracker) Add(n int) {
	if n > 0 {
		t.totalBytes.Add(int64(n))
	}
	t.totalLines.Add(1)
}

// RecordSample stores the current counters. Call it periodically.
func (t *RateTracker) RecordSample() {
	s := sample{
		timestamp: t.clock.Now(),
		bytes:     t.totalBytes.Load(),
		lines:     t.totalLines.Load(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
	} else {
		t.samples[t.writeIdx] = s
		t.writeIdx = (t.writeIdx + 1) % ringBufferSize
	}
}

// Stats computes the current rates. With less history than a window, the
// oldest sample is used.
func (t *RateTracker) Stats() RateStats {
	now := t.clock.Now()
	cur := sample{
		timestamp: now,
		bytes:     t.totalBytes.Load(),
		lines:     t.totalLines.Load(),
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{
		TotalBytes: cur.bytes,
		TotalLines: cur.lines,
	}

	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.BytesOverall = float64(cur.bytes) / elapsed
	}

	stats.Bytes1s, stats.Lines1s = t.rateOverWindow(cur, window1s)
	stats.Bytes10s, stats.Lines10s = t.rateOverWindow(cur, window10s)
	stats.Bytes60s, stats.Lines60s = t.rateOverWindow(cur, window60s)

	return stats
}

// rateOverWindow returns bytes/sec and lines/sec since the sample closest to
// (but not after) cur minus window. Must be called with mu held.
func (t *RateTracker) rateOverWindow(cur sample, window time.Duration) (bytesPerSec, linesPerSec float64) {
	target := cur.timestamp.Add(-window)

	var (
		best     *sample
		bestDiff time.Duration = -1
	)
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		diff := target.Sub(s.timestamp)
		if bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil {
		return 0, 0
	}

	elapsed := cur.timestamp.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return float64(cur.bytes-best.bytes) / elapsed, float64(cur.lines-best.lines) / elapsed
}

// oldestSample returns the oldest sample in the ring. Must be called with
// mu held.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// Reset clears all data and restarts tracking.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalBytes.Store(0)
	t.totalLines.Store(0)
	t.samples = t.samples[:0]
	t.samples = append(t.samples, sample{timestamp: now})
	t.writeIdx = 0
	t.startTime = now
}

// SampleCount returns the number of samples in the ring.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
