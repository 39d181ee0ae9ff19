// Package circuitbreaker stops calling a dependency that keeps failing.
// The engine puts one in front of the progress store so that, while the
// database is down, commands fail fast instead of piling up on timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position. The numeric values are exported as the
// circuit_breaker_state gauge.
type State int

const (
	StateClosed State = iota
	StateOpen

	// StateHalfOpen lets one trial call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling through while open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTrialInFlight is returned while half-open and the trial call
	// has not finished.
	ErrTrialInFlight = errors.New("circuit breaker trial call in flight")
)

// IsRejected reports whether err means the breaker refused to run the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTrialInFlight)
}

// Settings configure a CircuitBreaker. Zero thresholds count as 1.
type Settings struct {
	Name string

	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int

	// SuccessThreshold consecutive trial successes close a half-open one.
	SuccessThreshold int

	// OpenFor is how long calls are refused before a trial.
	OpenFor time.Duration

	// IsFailure filters which errors count. Nil counts every error.
	IsFailure func(error) bool

	OnStateChange func(name string, from, to State)

	// Now defaults to time.Now.
	Now func() time.Time
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trial     bool
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	s.FailureThreshold = max(s.FailureThreshold, 1)
	s.SuccessThreshold = max(s.SuccessThreshold, 1)
	if s.Now == nil {
		s.Now = time.Now
	}
	return &CircuitBreaker{settings: s}
}

// StoreBreaker is the breaker the engine puts in front of its store.
func StoreBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:             "progress-store",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenFor:          10 * time.Second,
		IsFailure:        isFailure,
		OnStateChange:    onStateChange,
	})
}

// Execute runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(err, trial)
	return err
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// admit reports whether the call is the half-open trial.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.settings.Now().Sub(cb.openedAt) < cb.settings.OpenFor {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
		cb.trial = true
		return true, nil
	case StateHalfOpen:
		if cb.trial {
			return false, ErrTrialInFlight
		}
		cb.trial = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(err error, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.trial = false
	}

	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	if !failed {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.settings.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
		return
	}

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.settings.FailureThreshold {
		cb.moveTo(StateOpen)
	}
}

// moveTo changes state and resets the counters. Caller holds cb.mu.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.trial = false
	if to == StateOpen {
		cb.openedAt = cb.settings.Now()
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}
