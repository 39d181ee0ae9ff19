// Package breaker puts a circuit breaker in front of a store.Store.
package breaker

import (
	"context"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/circuitbreaker"
)

// Store fails fast with shared.ErrStorageUnavailable while the breaker is
// open. Only unavailability counts as a failure; conflicts and domain
// errors say nothing about the health of the backend.
type Store struct {
	next store.Store
	cb   *circuitbreaker.CircuitBreaker
}

// New wraps next with cb. A nil cb selects circuitbreaker.StoreBreaker.
func New(next store.Store, cb *circuitbreaker.CircuitBreaker) *Store {
	if cb == nil {
		cb = circuitbreaker.StoreBreaker(IsFailure, nil)
	}
	return &Store{next: next, cb: cb}
}

// IsFailure reports whether err should count against the breaker.
func IsFailure(err error) bool {
	return shared.IsUnavailable(err)
}

// Atomically runs fn through the breaker.
func (s *Store) Atomically(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	return s.guard(ctx, "Atomically", func(ctx context.Context) error {
		return s.next.Atomically(ctx, userID, fn)
	})
}

// Read runs fn through the breaker.
func (s *Store) Read(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	return s.guard(ctx, "Read", func(ctx context.Context) error {
		return s.next.Read(ctx, userID, fn)
	})
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (s *Store) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// State returns the breaker state.
func (s *Store) State() circuitbreaker.State {
	return s.cb.State()
}

func (s *Store) guard(ctx context.Context, op string, fn func(context.Context) error) error {
	err := s.cb.Execute(ctx, fn)
	if circuitbreaker.IsRejected(err) {
		return shared.WrapError("store", op, shared.ErrStorageUnavailable, "circuit breaker is open", err)
	}
	return err
}
