// Package metrics provides Prometheus metrics for procrun.
//
// Each Collector owns its metrics; register it with a private registry to
// serve or export them.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

// Outcome label values, see process.Outcome.
var outcomes = []string{"ok", "nonzero", "aborted", "launch_failed", "timeout", "error"}

// Collector records the lifecycle of every run.
type Collector struct {
	// --- Overview ---
	info       *prometheus.GaugeVec
	activeRuns prometheus.Gauge

	// --- Runs ---
	runsStarted  prometheus.Counter
	runsTotal    *prometheus.CounterVec
	retriesTotal prometheus.Counter
	killsTotal   *prometheus.CounterVec
	lastExitCode prometheus.Gauge
	runDuration  prometheus.Histogram

	// --- Output ---
	linesTotal   *prometheus.CounterVec
	bytesTotal   *prometheus.CounterVec
	droppedLines prometheus.Gauge

	// Timing
	startTime time.Time

	// For summary generation
	mu         sync.Mutex
	active     int
	peakActive int
	exitCodes  map[int]int64
	byOutcome  map[string]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version    string
	Executable string
}

// NewCollector creates a new metrics collector registered with the
// default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "procrun_info",
				Help: "Information about the supervised command (value always 1)",
			},
			[]string{"version", "executable"},
		),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procrun_active_runs",
			Help: "Child processes currently running",
		}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procrun_runs_started_total",
			Help: "Runs that were attempted",
		}),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procrun_runs_total",
				Help: "Finished runs by outcome",
			},
			[]string{"outcome"},
		),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procrun_retries_total",
			Help: "Runs that were retried after a failure",
		}),
		killsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procrun_kills_total",
				Help: "Children killed by procrun, by reason",
			},
			[]string{"reason"},
		),
		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procrun_last_exit_code",
			Help: "Exit code of the most recent run (-1 if unknown)",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "procrun_run_duration_seconds",
			Help:    "Wall-clock duration of each run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 600, 1800, 3600},
		}),
		linesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procrun_output_lines_total",
				Help: "Output lines read from the child, by stream",
			},
			[]string{"stream"},
		),
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "procrun_output_bytes_total",
				Help: "Output bytes read from the child, by stream",
			},
			[]string{"stream"},
		),
		droppedLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procrun_ui_dropped_lines",
			Help: "Lines the live view skipped because it could not keep up",
		}),
		startTime: time.Now(),
		exitCodes: make(map[int]int64),
		byOutcome: make(map[string]int64),
	}

	registry.MustRegister(
		c.info,
		c.activeRuns,
		c.runsStarted,
		c.runsTotal,
		c.retriesTotal,
		c.killsTotal,
		c.lastExitCode,
		c.runDuration,
		c.linesTotal,
		c.bytesTotal,
		c.droppedLines,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Executable).Set(1)
	c.lastExitCode.Set(-1)

	// Pre-create label values so every series is exported from the start.
	for _, o := range outcomes {
		c.runsTotal.WithLabelValues(o)
	}
	for _, s := range []string{process.Stdout.String(), process.Stderr.String()} {
		c.linesTotal.WithLabelValues(s)
		c.bytesTotal.WithLabelValues(s)
	}

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RunStarted records that a run is about to start.
func (c *Collector) RunStarted() {
	c.runsStarted.Inc()

	c.mu.Lock()
	c.active++
	if c.active > c.peakActive {
		c.peakActive = c.active
	}
	c.activeRuns.Set(float64(c.active))
	c.mu.Unlock()
}

// RunFinished records the result of a run started with RunStarted.
func (c *Collector) RunFinished(res process.Result) {
	outcome := res.Outcome()
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runDuration.Observe(res.Elapsed.Seconds())
	c.lastExitCode.Set(float64(res.ExitCode))

	c.linesTotal.WithLabelValues(process.Stdout.String()).Add(float64(res.StdoutLines))
	c.linesTotal.WithLabelValues(process.Stderr.String()).Add(float64(res.StderrLines))
	c.bytesTotal.WithLabelValues(process.Stdout.String()).Add(float64(res.StdoutBytes))
	c.bytesTotal.WithLabelValues(process.Stderr.String()).Add(float64(res.StderrBytes))

	switch {
	case res.TimedOut:
		c.killsTotal.WithLabelValues("timeout").Inc()
	case res.Aborted:
		c.killsTotal.WithLabelValues("abort").Inc()
	}

	c.mu.Lock()
	if c.active > 0 {
		c.active--
	}
	c.activeRuns.Set(float64(c.active))
	c.byOutcome[outcome]++
	if res.ExitCode >= 0 {
		c.exitCodes[res.ExitCode]++
	}
	c.mu.Unlock()
}

// RunRetried records that a failed run will be attempted again.
func (c *Collector) RunRetried() {
	c.retriesTotal.Inc()
}

// SetDroppedLines updates the count of lines the live view skipped.
func (c *Collector) SetDroppedLines(n int64) {
	c.droppedLines.Set(float64(n))
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration   time.Duration
	PeakActive int
	Outcomes   map[string]int64
	ExitCodes  map[int]int64
}

// GenerateSummary creates a summary of everything recorded so far.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:   time.Since(c.startTime),
		PeakActive: c.peakActive,
		Outcomes:   make(map[string]int64, len(c.byOutcome)),
		ExitCodes:  make(map[int]int64, len(c.exitCodes)),
	}
	for o, n := range c.byOutcome {
		s.Outcomes[o] = n
	}
	for code, n := range c.exitCodes {
		s.ExitCodes[code] = n
	}
	return s
}
