package orchestrator

import (
	"context"
	"time"

	"github.com/randomizedcoder/go-procrun/internal/supervisor"
)

// Pacer controls how often repeated runs start. Each run after the first
// starts no sooner than interval after the previous one, plus a per-run
// jitter so schedules of several procrun instances drift apart.
type Pacer struct {
	interval  time.Duration
	maxJitter time.Duration
	jitter    *supervisor.JitterSource

	lastStart time.Time
}

// NewPacer creates a pacer with the given interval and jitter.
func NewPacer(interval, maxJitter time.Duration) *Pacer {
	return NewPacerWithSeed(interval, maxJitter, time.Now().UnixNano())
}

// NewPacerWithSeed creates a pacer with a specific seed for reproducibility.
func NewPacerWithSeed(interval, maxJitter time.Duration, seed int64) *Pacer {
	return &Pacer{
		interval:  interval,
		maxJitter: maxJitter,
		jitter:    supervisor.NewJitterSource(seed),
	}
}

// Jitter returns the extra delay for run index, in [0, maxJitter).
func (p *Pacer) Jitter(index int) time.Duration {
	if p.maxJitter <= 0 {
		return 0
	}
	return time.Duration(p.jitter.ForRun(index).Int63n(int64(p.maxJitter)))
}

// Delay returns how long run index still has to wait when sinceLast has
// passed since the previous run started. The first run never waits.
func (p *Pacer) Delay(index int, sinceLast time.Duration) time.Duration {
	if index == 0 {
		return 0
	}
	d := p.interval + p.Jitter(index) - sinceLast
	if d < 0 {
		return 0
	}
	return d
}

// Wait blocks until run index may start and records its start time.
// Returns nil on success, or the context error if cancelled.
func (p *Pacer) Wait(ctx context.Context, index int) error {
	var sinceLast time.Duration
	if !p.lastStart.IsZero() {
		sinceLast = time.Since(p.lastStart)
	}

	if delay := p.Delay(index, sinceLast); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	p.lastStart = time.Now()
	return nil
}

// EstimatedDuration returns the shortest time the pacer allows runs to
// take, assuming average jitter.
func (p *Pacer) EstimatedDuration(runs int) time.Duration {
	if runs <= 1 || (p.interval <= 0 && p.maxJitter <= 0) {
		return 0
	}
	return time.Duration(runs-1) * (p.interval + p.maxJitter/2)
}

// Interval returns the configured interval.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// MaxJitter returns the configured maximum jitter.
func (p *Pacer) MaxJitter() time.Duration {
	return p.maxJitter
}
