// Package store defines the per-user unit of work every engine command runs in.
package store

import (
	"context"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// Tx exposes the repositories of one user inside a unit of work.
type Tx interface {
	Progress() progress.Repository
	Habits() habit.Repository
	Achievements() achievement.Repository
}

// TxFunc is the body of a unit of work.
type TxFunc func(ctx context.Context, tx Tx) error

// Store runs units of work against per-user state.
type Store interface {
	// Atomically runs fn with exclusive access to the user's records.
	// Everything fn writes is committed together when it returns nil and
	// discarded otherwise. Conflicts surface as shared.ErrConcurrentUpdateConflict,
	// transient failures as shared.ErrStorageUnavailable; in both cases
	// nothing was applied.
	Atomically(ctx context.Context, userID shared.UserID, fn TxFunc) error

	// Read runs fn against a consistent snapshot of the user's records.
	// Writes made by fn are discarded.
	Read(ctx context.Context, userID shared.UserID, fn TxFunc) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
