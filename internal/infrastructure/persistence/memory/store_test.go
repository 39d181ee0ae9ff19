package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAtomicallyCommitsOnSuccess(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		return tx.Progress().SaveProgress(ctx, progress.NewUserProgress("u1", now))
	})
	require.NoError(t, err)

	err = s.Read(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Progress().GetProgress(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.Version)
		return nil
	})
	require.NoError(t, err)
}

func TestAtomicallyDiscardsOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		if err := tx.Progress().SaveProgress(ctx, progress.NewUserProgress("u1", now)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	s.SetCommitHook(func(shared.UserID) error { return shared.ErrStoreConflict })
	err = s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		return tx.Progress().SaveProgress(ctx, progress.NewUserProgress("u1", now))
	})
	assert.True(t, shared.IsConflict(err))
	s.SetCommitHook(nil)

	err = s.Read(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Progress().GetProgress(ctx, "u1")
		return err
	})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSaveProgressChecksVersion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		p := progress.NewUserProgress("u1", now)
		require.NoError(t, tx.Progress().SaveProgress(ctx, p))

		stale := p.Clone()
		stale.Version = 0
		err := tx.Progress().SaveProgress(ctx, stale)
		assert.True(t, shared.IsConflict(err))
		return nil
	})
	require.NoError(t, err)
}

func TestSaveDayMergesCompletions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	date := timeutil.MustParseDate("2026-03-01")

	err := s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		a := progress.NewDailyRecord("u1", date, nil, now)
		a.Completed.Add("read")
		require.NoError(t, tx.Progress().SaveDay(ctx, a))

		b := progress.NewDailyRecord("u1", date, nil, now.Add(time.Hour))
		b.Completed.Add("walk")
		require.NoError(t, tx.Progress().SaveDay(ctx, b))

		got, err := tx.Progress().GetDay(ctx, "u1", date)
		require.NoError(t, err)
		assert.Equal(t, []shared.ActivityID{"read", "walk"}, got.Completed.Sorted())
		assert.Equal(t, now, got.CreatedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestListAndPruneDays(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	start := timeutil.MustParseDate("2026-03-01")

	err := s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		for i := 4; i >= 0; i-- {
			require.NoError(t, tx.Progress().SaveDay(ctx, progress.NewDailyRecord("u1", start.AddDays(i), nil, now)))
		}

		days, err := tx.Progress().ListDays(ctx, "u1", start.AddDays(1), start.AddDays(3))
		require.NoError(t, err)
		require.Len(t, days, 3)
		assert.Equal(t, "2026-03-02", days[0].Date.String())
		assert.Equal(t, "2026-03-04", days[2].Date.String())

		removed, err := tx.Progress().PruneDays(ctx, "u1", start.AddDays(2))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		days, err = tx.Progress().ListDays(ctx, "u1", start, start.AddDays(10))
		require.NoError(t, err)
		assert.Len(t, days, 3)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertUnlockNeverOverwrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		first := achievement.Unlock{UserID: "u1", AchievementID: "streak-3", UnlockedAt: now, ExperienceReward: 30}
		ok, err := tx.Achievements().InsertUnlock(ctx, first)
		require.NoError(t, err)
		assert.True(t, ok)

		again := first
		again.UnlockedAt = now.Add(time.Hour)
		ok, err = tx.Achievements().InsertUnlock(ctx, again)
		require.NoError(t, err)
		assert.False(t, ok)

		unlocks, err := tx.Achievements().ListUnlocks(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, unlocks, 1)
		assert.Equal(t, now, unlocks[0].UnlockedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestReadSeesCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Atomically(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		return tx.Progress().SaveProgress(ctx, progress.NewUserProgress("u1", now))
	}))

	require.NoError(t, s.Read(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Progress().GetProgress(ctx, "u1")
		require.NoError(t, err)
		p.TotalExperience = 999
		return nil
	}))

	require.NoError(t, s.Read(ctx, "u1", func(ctx context.Context, tx store.Tx) error {
		p, err := tx.Progress().GetProgress(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, p.TotalExperience)
		return nil
	}))
}

func TestCancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Atomically(ctx, "u1", func(context.Context, store.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}
