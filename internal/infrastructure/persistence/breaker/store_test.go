package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/habit-engine/pkg/circuitbreaker"
)

func noop(context.Context, store.Tx) error { return nil }

func TestStoreOpensOnUnavailability(t *testing.T) {
	inner := memory.NewStore()
	failing := true
	inner.SetCommitHook(func(shared.UserID) error {
		if failing {
			return shared.WrapError("store", "Commit", shared.ErrStorageUnavailable, "store is down", nil)
		}
		return nil
	})

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cb := circuitbreaker.New(circuitbreaker.Settings{
		Name:             "test",
		FailureThreshold: 2,
		OpenFor:          time.Second,
		IsFailure:        IsFailure,
		Now:              func() time.Time { return now },
	})
	s := New(inner, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := s.Atomically(ctx, "u1", noop)
		assert.True(t, shared.IsUnavailable(err))
	}
	assert.Equal(t, circuitbreaker.StateOpen, s.State())

	calls := 0
	err := s.Read(ctx, "u1", func(context.Context, store.Tx) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Zero(t, calls)
	assert.NoError(t, s.Ping(ctx))

	failing = false
	now = now.Add(2 * time.Second)
	require.NoError(t, s.Atomically(ctx, "u1", noop))
	assert.Equal(t, circuitbreaker.StateClosed, s.State())
}

func TestStoreIgnoresDomainErrors(t *testing.T) {
	s := New(memory.NewStore(), nil)
	for i := 0; i < 10; i++ {
		err := s.Atomically(context.Background(), "u1", func(context.Context, store.Tx) error {
			return shared.ErrFutureCompletion
		})
		assert.ErrorIs(t, err, shared.ErrInvalidDate)
	}
	assert.Equal(t, circuitbreaker.StateClosed, s.State())
}
