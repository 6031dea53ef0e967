package stream

import (
	"sync"
	"sync/atomic"
)

// Tap is a bounded, lossy hand-off between a producer that must never block
// (a LineReader sink) and a consumer that runs at its own pace (a UI, a
// slow log sink).
//
//	producer: Feed() - never blocks, drops when the buffer is full
//	consumer: Drain() - blocks until Close
type Tap[T any] struct {
	name string
	ch   chan T

	closeOnce sync.Once

	fed      atomic.Int64
	dropped  atomic.Int64
	consumed atomic.Int64

	dropThreshold float64
}

// NewTap creates a tap holding up to bufferSize items. dropThreshold is the
// fraction (0.0-1.0) of dropped items above which the tap reports itself
// degraded.
func NewTap[T any](name string, bufferSize int, dropThreshold float64) *Tap[T] {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}
	return &Tap[T]{
		name:          name,
		ch:            make(chan T, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// Feed queues v without blocking. It returns false if v was dropped.
// Feed must not be called after Close.
func (t *Tap[T]) Feed(v T) bool {
	t.fed.Add(1)
	select {
	case t.ch <- v:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

// Close ends the stream of items; Drain returns once the buffer is empty.
// Safe to call multiple times.
func (t *Tap[T]) Close() {
	t.closeOnce.Do(func() {
		close(t.ch)
	})
}

// Drain hands every queued item to fn until Close. Run it in its own
// goroutine.
func (t *Tap[T]) Drain(fn func(T)) {
	for v := range t.ch {
		fn(v)
		t.consumed.Add(1)
	}
}

// Stats returns counts of items fed, dropped and consumed.
func (t *Tap[T]) Stats() (fed, dropped, consumed int64) {
	return t.fed.Load(), t.dropped.Load(), t.consumed.Load()
}

// DropRate returns dropped/fed, or 0 before anything was fed.
func (t *Tap[T]) DropRate() float64 {
	fed := t.fed.Load()
	if fed == 0 {
		return 0
	}
	return float64(t.dropped.Load()) / float64(fed)
}

// IsDegraded reports whether the drop rate exceeds the threshold.
func (t *Tap[T]) IsDegraded() bool {
	return t.DropRate() > t.dropThreshold
}

// Name returns the tap's name.
func (t *Tap[T]) Name() string {
	return t.name
}
