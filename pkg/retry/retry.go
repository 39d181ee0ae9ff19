// Package retry re-runs operations with exponential backoff and jitter.
//
// The engine uses it twice: per-user commands are re-run from scratch after a
// version conflict or a transient storage failure, and startup waits for a
// database that may still be coming up. Callers either classify errors with
// a RetryIf predicate or mark them with Retryable and Permanent.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ═══════════════════════════════════════════════════════════════════════════════

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt when no RetryIf is set.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Permanent stops retrying even if RetryIf would accept err. Do returns err
// without the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isMarkedRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
// It unwraps to the last cause.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// ═══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ═══════════════════════════════════════════════════════════════════════════════

// Backoff describes how many attempts to make and how long to wait between
// them. Attempt n waits Initial * Multiplier^(n-1), capped at Max and spread
// by +/- Jitter of itself.
type Backoff struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Option adjusts a Retrier.
type Option func(*Retrier)

// WithMaxAttempts sets the attempt limit, first attempt included.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		if n > 0 {
			r.backoff.Attempts = n
		}
	}
}

// WithInitialDelay sets the first wait. Zero disables waiting.
func WithInitialDelay(d time.Duration) Option {
	return func(r *Retrier) {
		if d >= 0 {
			r.backoff.Initial = d
		}
	}
}

// WithRetryIf classifies errors instead of the Retryable marker.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry is called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// Retrier runs operations under one Backoff.
type Retrier struct {
	backoff Backoff
	retryIf func(error) bool
	onRetry func(attempt int, err error, delay time.Duration)
}

// New creates a Retrier. Options apply on top of b.
func New(b Backoff, opts ...Option) *Retrier {
	if b.Attempts < 1 {
		b.Attempts = 1
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	r := &Retrier{backoff: b}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAttempts returns the attempt limit.
func (r *Retrier) MaxAttempts() int {
	return r.backoff.Attempts
}

// Do runs op until it succeeds, fails with an error that is not retryable,
// or the attempts run out, in which case the error is an *ExhaustedError.
// A cancelled context ends the loop with the last error seen.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}
		if !r.shouldRetry(err) {
			return err
		}

		if attempt >= r.backoff.Attempts {
			var marked *retryableError
			if errors.As(err, &marked) {
				err = marked.err
			}
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := r.delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.retryIf != nil {
		return r.retryIf(err)
	}
	return isMarkedRetryable(err)
}

func (r *Retrier) delay(attempt int) time.Duration {
	b := r.backoff
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

// DoWithData is Do for operations that return a value.
func DoWithData[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}

// ═══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ═══════════════════════════════════════════════════════════════════════════════

// CommandRetrier retries per-user engine commands. Attempts are few and
// delays short: a command is one storage round trip.
func CommandRetrier(maxAttempts int, retryIf func(error) bool, opts ...Option) *Retrier {
	b := Backoff{
		Attempts:   maxAttempts,
		Initial:    25 * time.Millisecond,
		Max:        500 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0.2,
	}
	return New(b, append([]Option{WithRetryIf(retryIf)}, opts...)...)
}

// StartupRetrier waits for a dependency that may still be starting. Only
// errors marked Retryable are retried.
func StartupRetrier(opts ...Option) *Retrier {
	b := Backoff{
		Attempts:   5,
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}
	return New(b, opts...)
}
