// Package supervisor retries an external command with exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-procrun/internal/process"
)

// abortPollInterval is how often a cancelled supervisor retries Abort while
// the runner has not yet created its child.
const abortPollInterval = 10 * time.Millisecond

// Executor runs one external command at a time. *process.Runner
// implements it.
type Executor interface {
	Run(spec process.StartSpec) (string, error)
	Abort() (bool, error)
	Result() process.Result
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnAttempt is called before each attempt. attempt starts at 1.
	OnAttempt func(attempt int)

	// OnExit is called after each attempt with its result.
	OnExit func(attempt int, res process.Result)

	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, delay time.Duration)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Runner      Executor
	Spec        process.StartSpec
	Backoff     *Backoff
	Logger      *slog.Logger
	Callbacks   Callbacks
	MaxAttempts int // values below 1 mean a single attempt
}

// Supervisor runs a command until it succeeds, fails in a way a retry
// cannot fix, or runs out of attempts.
type Supervisor struct {
	runner    Executor
	spec      process.StartSpec
	backoff   *Backoff
	logger    *slog.Logger
	callbacks Callbacks

	maxAttempts int

	stateMu  sync.RWMutex
	state    State
	attempts int
	output   string
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoff(nil, DefaultBackoffConfig())
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Supervisor{
		runner:      cfg.Runner,
		spec:        cfg.Spec,
		backoff:     backoff,
		logger:      logger,
		callbacks:   cfg.Callbacks,
		maxAttempts: maxAttempts,
		state:       StateCreated,
	}
}

// ShouldRetry reports whether a finished attempt is worth repeating. Timeouts
// and non-zero exits are retried. Launch failures and aborted runs are not.
func ShouldRetry(res process.Result) bool {
	if res.Aborted {
		return false
	}
	var (
		launchErr  *process.LaunchError
		timeoutErr *process.TimeoutError
	)
	switch {
	case errors.As(res.Err, &launchErr):
		return false
	case errors.As(res.Err, &timeoutErr):
		return true
	case res.Err != nil:
		return false
	default:
		return res.ExitCode != 0
	}
}

// Run makes attempts until one succeeds or no retry is due. It returns the
// result of the last attempt and that attempt's error. Cancelling ctx aborts
// a running child and stops the loop with ctx.Err().
func (s *Supervisor) Run(ctx context.Context) (process.Result, error) {
	var (
		res process.Result
		err error
	)
	defer s.setState(StateStopped)

	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Debug("supervisor_stopped", "reason", "context_cancelled", "attempts", attempt-1)
			return res, ctxErr
		}

		res, err = s.runOnce(ctx, attempt)

		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logger.Debug("supervisor_stopped", "reason", "context_cancelled", "attempts", attempt)
			return res, ctxErr
		}
		if !ShouldRetry(res) {
			return res, err
		}
		if attempt >= s.maxAttempts {
			if s.maxAttempts > 1 {
				s.logger.Warn("max_attempts_reached",
					"attempts", attempt,
					"exit_code", res.ExitCode,
					"outcome", res.Outcome(),
				)
			}
			return res, err
		}

		delay := s.backoff.Next()
		if s.callbacks.OnRetry != nil {
			s.callbacks.OnRetry(attempt, delay)
		}
		s.logger.Info("retry_scheduled",
			"attempt", attempt,
			"next_attempt", attempt+1,
			"outcome", res.Outcome(),
			"exit_code", res.ExitCode,
			"delay", delay.String(),
		)

		s.setState(StateBackoff)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Debug("supervisor_stopped", "reason", "context_cancelled", "attempts", attempt)
			return res, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, attempt int) (process.Result, error) {
	s.stateMu.Lock()
	s.attempts = attempt
	s.stateMu.Unlock()
	s.setState(StateRunning)

	if s.callbacks.OnAttempt != nil {
		s.callbacks.OnAttempt(attempt)
	}

	done := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.abortOnCancel(ctx, done)
	}()

	out, err := s.runner.Run(s.spec)
	close(done)
	<-watchDone

	res := s.runner.Result()

	s.stateMu.Lock()
	s.output = out
	s.stateMu.Unlock()

	s.logger.Debug("attempt_finished",
		"attempt", attempt,
		"run_id", res.RunID,
		"exit_code", res.ExitCode,
		"outcome", res.Outcome(),
		"elapsed", res.Elapsed.String(),
	)

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(attempt, res)
	}
	return res, err
}

// abortOnCancel kills the child once ctx is cancelled. The runner may not
// have created the child yet, so Abort is retried until done is closed.
func (s *Supervisor) abortOnCancel(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	ticker := time.NewTicker(abortPollInterval)
	defer ticker.Stop()
	for {
		killed, err := s.runner.Abort()
		switch {
		case killed:
			s.logger.Info("child_aborted", "reason", "context_cancelled")
			return
		case err != nil && !errors.Is(err, process.ErrNoProcess):
			s.logger.Warn("abort_failed", "error", err)
			return
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// Attempts returns the number of attempts started so far.
func (s *Supervisor) Attempts() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.attempts
}

// Output returns the captured stdout of the last attempt.
func (s *Supervisor) Output() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.output
}
