package stats

import (
	"errors"
	"time"
)

// ErrNegativeIndex is returned when an estimate is asked for before the
// first item.
var ErrNegativeIndex = errors.New("current item index must be at least 0")

// Estimator extrapolates the completion time of a fixed number of items
// from the average time spent on the items finished so far.
type Estimator struct {
	now   func() time.Time
	start time.Time
	total int
}

// NewEstimator creates an Estimator using the wall clock.
func NewEstimator() *Estimator {
	return &Estimator{now: time.Now}
}

// NewEstimatorWithClock creates an Estimator that reads time from now.
func NewEstimatorWithClock(now func() time.Time) *Estimator {
	return &Estimator{now: now}
}

// Start records the start time and the number of items in the set.
func (e *Estimator) Start(total int) {
	e.start = e.now()
	e.total = total
}

// Total returns the item count passed to Start.
func (e *Estimator) Total() int {
	return e.total
}

// Remaining estimates the time left once the item at the zero based index
// current has finished.
func (e *Estimator) Remaining(current int) (time.Duration, error) {
	if current < 0 {
		return 0, ErrNegativeIndex
	}
	done := current + 1
	elapsed := e.now().Sub(e.start)
	perItem := elapsed.Seconds() / float64(done)
	left := perItem * float64(e.total-done)
	return time.Duration(left * float64(time.Second)), nil
}

// ETA returns the estimated wall clock time at which all items finish.
func (e *Estimator) ETA(current int) (time.Time, error) {
	d, err := e.Remaining(current)
	if err != nil {
		return time.Time{}, err
	}
	return e.now().Add(d), nil
}

// Progress describes how far through the set a caller is.
type Progress struct {
	Current   int
	Total     int
	Elapsed   time.Duration
	Remaining time.Duration
	ETA       time.Time
}

// Percent returns the completed share of the set in the range 0-100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Status returns progress after the item at index current has finished.
func (e *Estimator) Status(current int) (Progress, error) {
	remaining, err := e.Remaining(current)
	if err != nil {
		return Progress{}, err
	}
	now := e.now()
	return Progress{
		Current:   current + 1,
		Total:     e.total,
		Elapsed:   now.Sub(e.start),
		Remaining: remaining,
		ETA:       now.Add(remaining),
	}, nil
}
