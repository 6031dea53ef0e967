// Package stats accumulates per-run statistics across repeated invocations
// of an external process and renders them at program exit.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

// RunStats aggregates finished runs. It is safe for concurrent use.
type RunStats struct {
	mu sync.Mutex

	startTime time.Time

	runs      int64
	outcomes  map[string]int64
	exitCodes map[int]int64

	stdoutLines int64
	stderrLines int64
	stdoutBytes int64
	stderrBytes int64

	minDuration   time.Duration
	maxDuration   time.Duration
	totalDuration time.Duration

	// T-Digest over run durations in nanoseconds
	durationDigest *tdigest.TDigest
}

// NewRunStats creates an empty RunStats.
func NewRunStats() *RunStats {
	return &RunStats{
		startTime:      time.Now(),
		outcomes:       make(map[string]int64),
		exitCodes:      make(map[int]int64),
		durationDigest: tdigest.NewWithCompression(100),
	}
}

// Record adds a finished run.
func (s *RunStats) Record(res process.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs++
	s.outcomes[res.Outcome()]++

	// Launch failures never produced an exit code worth counting.
	if res.PID > 0 {
		s.exitCodes[res.ExitCode]++
	}

	s.stdoutLines += res.StdoutLines
	s.stderrLines += res.StderrLines
	s.stdoutBytes += res.StdoutBytes
	s.stderrBytes += res.StderrBytes

	d := res.Elapsed
	if s.runs == 1 || d < s.minDuration {
		s.minDuration = d
	}
	if d > s.maxDuration {
		s.maxDuration = d
	}
	s.totalDuration += d
	s.durationDigest.Add(float64(d.Nanoseconds()), 1)
}

// Snapshot is a point-in-time copy of RunStats.
type Snapshot struct {
	Timestamp time.Time
	Elapsed   time.Duration

	Runs      int64
	Outcomes  map[string]int64
	ExitCodes map[int]int64

	StdoutLines int64
	StderrLines int64
	StdoutBytes int64
	StderrBytes int64

	MinDuration  time.Duration
	MaxDuration  time.Duration
	MeanDuration time.Duration
	DurationP50  time.Duration
	DurationP95  time.Duration
	DurationP99  time.Duration
}

// Failures returns the number of runs whose outcome was not "ok".
func (s Snapshot) Failures() int64 {
	return s.Runs - s.Outcomes["ok"]
}

// SortedExitCodes returns the observed exit codes in ascending order.
func (s Snapshot) SortedExitCodes() []int {
	codes := make([]int, 0, len(s.ExitCodes))
	for code := range s.ExitCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Snapshot returns the current totals. Percentiles are zero until a run
// has been recorded.
func (s *RunStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		Timestamp:   now,
		Elapsed:     now.Sub(s.startTime),
		Runs:        s.runs,
		Outcomes:    make(map[string]int64, len(s.outcomes)),
		ExitCodes:   make(map[int]int64, len(s.exitCodes)),
		StdoutLines: s.stdoutLines,
		StderrLines: s.stderrLines,
		StdoutBytes: s.stdoutBytes,
		StderrBytes: s.stderrBytes,
		MinDuration: s.minDuration,
		MaxDuration: s.maxDuration,
	}
	for k, v := range s.outcomes {
		snap.Outcomes[k] = v
	}
	for k, v := range s.exitCodes {
		snap.ExitCodes[k] = v
	}

	if s.runs > 0 {
		snap.MeanDuration = s.totalDuration / time.Duration(s.runs)
		snap.DurationP50 = time.Duration(s.durationDigest.Quantile(0.50))
		snap.DurationP95 = time.Duration(s.durationDigest.Quantile(0.95))
		snap.DurationP99 = time.Duration(s.durationDigest.Quantile(0.99))
	}
	return snap
}
