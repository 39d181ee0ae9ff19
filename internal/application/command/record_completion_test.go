package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	catalogfile "github.com/alem-hub/habit-engine/internal/infrastructure/catalog"
	"github.com/alem-hub/habit-engine/pkg/retry"
)

func TestRecordCompletionScenario(t *testing.T) {
	f := newFixture(t)

	res := f.complete(t, "morning-prayer", 60)
	assert.False(t, res.AlreadyCompletedToday)
	assert.Equal(t, int64(60), res.TotalExperience)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 1, res.CurrentStreak)

	f.clock.AdvanceDays(1)
	res = f.complete(t, "scripture-reading", 50)
	assert.Equal(t, int64(110), res.TotalExperience)
	assert.Equal(t, 2, res.Level)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.CurrentStreak)

	f.clock.AdvanceDays(2)
	res = f.complete(t, "morning-prayer", 20)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)
	assert.Nil(t, res.UnlockedAchievement)

	p := f.progress(t)
	assert.Equal(t, int64(130), p.TotalExperience)
	assert.Equal(t, int64(3), p.TotalCompletions)
	assert.Contains(t, f.events.types(), shared.EventStreakReset)
	assert.Contains(t, f.events.types(), shared.EventLevelUp)
}

func TestRecordCompletionIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first := f.complete(t, "morning-prayer", 60)
	second := f.complete(t, "morning-prayer", 60)

	assert.False(t, first.AlreadyCompletedToday)
	assert.True(t, second.AlreadyCompletedToday)
	assert.Equal(t, int64(60), second.TotalExperience)
	assert.Zero(t, second.PointsAwarded)
	assert.Empty(t, second.Events)

	p := f.progress(t)
	assert.Equal(t, int64(60), p.TotalExperience)
	assert.Equal(t, int64(1), p.TotalCompletions)
	assert.Equal(t, int64(60), f.day(t, "2026-03-01").ExperienceEarned)
}

func TestRecordCompletionDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.record.Handle(ctx, RecordCompletionCommand{UserID: "user-1", ActivityID: "a", Points: 10, Date: "2026-03-03"})
	assert.ErrorIs(t, err, shared.ErrInvalidDate)

	_, err = f.record.Handle(ctx, RecordCompletionCommand{UserID: "user-1", ActivityID: "a", Points: 10, Date: "03/01/2026"})
	assert.ErrorIs(t, err, shared.ErrInvalidDate)

	res, err := f.record.Handle(ctx, RecordCompletionCommand{UserID: "user-1", ActivityID: "a", Points: 10, Date: "2026-03-01"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", res.Date.String())

	f.clock.AdvanceDays(1)
	_, err = f.record.Handle(ctx, RecordCompletionCommand{UserID: "user-1", ActivityID: "b", Points: 10})
	require.NoError(t, err)

	t.Run("backdating a new completion is rejected", func(t *testing.T) {
		_, err := f.record.Handle(ctx, RecordCompletionCommand{UserID: "user-1", ActivityID: "c", Points: 10, Date: "2026-03-01"})
		assert.ErrorIs(t, err, shared.ErrInvalidDate)
	})

	t.Run("replaying an applied completion is harmless", func(t *testing.T) {
		res, err := f.record.Handle(ctx, RecordCompletionCommand{UserID: "user-1", ActivityID: "a", Points: 10, Date: "2026-03-01"})
		require.NoError(t, err)
		assert.True(t, res.AlreadyCompletedToday)
		assert.Equal(t, int64(20), res.TotalExperience)
	})
}

func TestRecordCompletionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.record.Handle(ctx, RecordCompletionCommand{UserID: "", ActivityID: "a"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = f.record.Handle(ctx, RecordCompletionCommand{UserID: "u", ActivityID: "a", Points: -5})
	assert.ErrorIs(t, err, shared.ErrNegativeValue)

	_, err = f.record.Handle(ctx, RecordCompletionCommand{UserID: "u", ActivityID: "a", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestRecordCompletionUsesUserTimezone(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// 12:00 UTC on March 1st is already March 2nd in Auckland.
	res, err := f.record.Handle(context.Background(), RecordCompletionCommand{
		UserID:     "user-1",
		ActivityID: "a",
		Points:     10,
		Timezone:   "Pacific/Auckland",
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", res.Date.String())
	assert.Equal(t, "Pacific/Auckland", f.progress(t).Timezone)
}

func TestTimezoneChangeWaitsForNextLocalDay(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	f.complete(t, "a", 10)

	// Moving to a zone where it is already tomorrow would earn a second day.
	res, err := f.record.Handle(ctx, RecordCompletionCommand{
		UserID:     "user-1",
		ActivityID: "b",
		Points:     10,
		Timezone:   "Pacific/Auckland",
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", res.Date.String())
	assert.Empty(t, res.Timezone)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Empty(t, f.progress(t).Timezone)

	f.clock.AdvanceDays(1)
	res, err = f.record.Handle(ctx, RecordCompletionCommand{
		UserID:     "user-1",
		ActivityID: "b",
		Points:     10,
		Timezone:   "Pacific/Auckland",
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", res.Date.String())
	assert.Equal(t, "Pacific/Auckland", res.Timezone)

	res, err = f.record.Handle(ctx, RecordCompletionCommand{
		UserID:     "user-1",
		ActivityID: "c",
		Points:     10,
		Timezone:   "America/Los_Angeles",
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", res.Date.String())
	assert.Equal(t, "Pacific/Auckland", res.Timezone)
	assert.Equal(t, "Pacific/Auckland", f.progress(t).Timezone)
}

func TestRecordCompletionUnknownActivity(t *testing.T) {
	f := newFixture(t, withContent(catalogfile.Default()))

	res := f.complete(t, "not-in-catalog", 500)
	assert.True(t, res.UnknownActivity)
	assert.Zero(t, res.PointsAwarded)
	assert.Equal(t, 1, res.CurrentStreak)

	res = f.complete(t, "morning-prayer", 999)
	assert.False(t, res.UnknownActivity)
	assert.Equal(t, int64(20), res.PointsAwarded)
	assert.Equal(t, int64(2), f.progress(t).TotalCompletions)
}

func TestAchievementUnlocksOnce(t *testing.T) {
	f := newFixture(t, withAchievements(
		achievement.Achievement{ID: "first", Name: "First", Requirement: achievement.TotalCompletions{N: 1}, ExperienceReward: 40},
	))

	res := f.complete(t, "a", 60)
	require.NotNil(t, res.UnlockedAchievement)
	assert.Equal(t, shared.AchievementID("first"), res.UnlockedAchievement.ID)
	assert.Equal(t, int64(100), res.TotalExperience)
	assert.Equal(t, 2, res.Level)
	assert.True(t, res.LeveledUp)

	res = f.complete(t, "b", 10)
	assert.Nil(t, res.UnlockedAchievement)
	assert.Equal(t, int64(110), res.TotalExperience)

	ev, err := f.evaluate.Handle(context.Background(), EvaluateAchievementsCommand{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, ev.Unlocked)

	day := f.day(t, "2026-03-01")
	assert.Equal(t, int64(70), day.ExperienceEarned)
	assert.Equal(t, int64(40), day.BonusExperience)

	unlocked := 0
	for _, typ := range f.events.types() {
		if typ == shared.EventAchievementUnlocked {
			unlocked++
		}
	}
	assert.Equal(t, 1, unlocked)
}

func TestOneUnlockPerEvaluation(t *testing.T) {
	entries := []achievement.Achievement{
		{ID: "done-1", Requirement: achievement.TotalCompletions{N: 1}, ExperienceReward: 5},
		{ID: "streak-1", Requirement: achievement.StreakDays{N: 1}, ExperienceReward: 5},
	}

	t.Run("next evaluation surfaces the rest", func(t *testing.T) {
		f := newFixture(t, withAchievements(entries...))

		res := f.complete(t, "a", 10)
		require.NotNil(t, res.UnlockedAchievement)
		assert.Equal(t, shared.AchievementID("streak-1"), res.UnlockedAchievement.ID)
		assert.Len(t, res.UnlockedAchievements, 1)

		ev, err := f.evaluate.Handle(context.Background(), EvaluateAchievementsCommand{UserID: "user-1"})
		require.NoError(t, err)
		require.Len(t, ev.Unlocked, 1)
		assert.Equal(t, shared.AchievementID("done-1"), ev.Unlocked[0].ID)
		assert.Equal(t, int64(20), ev.TotalExperience)

		ev, err = f.evaluate.Handle(context.Background(), EvaluateAchievementsCommand{UserID: "user-1"})
		require.NoError(t, err)
		assert.Empty(t, ev.Unlocked)
	})

	t.Run("evaluate all", func(t *testing.T) {
		f := newFixture(t, withAchievements(entries...))

		res, err := f.record.Handle(context.Background(), RecordCompletionCommand{
			UserID: "user-1", ActivityID: "a", Points: 10, EvaluateAll: true,
		})
		require.NoError(t, err)
		assert.Len(t, res.UnlockedAchievements, 2)
		assert.Equal(t, int64(20), res.TotalExperience)
	})
}

func TestEvaluateAchievementsWithoutProgress(t *testing.T) {
	f := newFixture(t)
	res, err := f.evaluate.Handle(context.Background(), EvaluateAchievementsCommand{UserID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Equal(t, 1, res.Level)
}

func TestRetryExhaustionLeavesNoState(t *testing.T) {
	f := newFixture(t, withAchievements(
		achievement.Achievement{ID: "first", Requirement: achievement.TotalCompletions{N: 1}, ExperienceReward: 40},
	))
	f.store.SetCommitHook(func(shared.UserID) error { return shared.ErrStoreConflict })

	_, err := f.record.Handle(context.Background(), RecordCompletionCommand{UserID: "user-1", ActivityID: "a", Points: 60})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConcurrentUpdateConflict)
	assert.True(t, retry.IsExhausted(err))
	assert.Equal(t, []int{3}, f.observer.attempts)
	assert.Empty(t, f.events.types())

	f.store.SetCommitHook(nil)
	res := f.complete(t, "a", 60)
	assert.False(t, res.AlreadyCompletedToday)
	require.NotNil(t, res.UnlockedAchievement)
	assert.Equal(t, int64(100), res.TotalExperience)
}

func TestTransientFailureIsRetried(t *testing.T) {
	f := newFixture(t)

	failures := 2
	f.store.SetCommitHook(func(shared.UserID) error {
		if failures > 0 {
			failures--
			return shared.WrapError("store", "Commit", shared.ErrStorageUnavailable, "store is down", nil)
		}
		return nil
	})

	res := f.complete(t, "a", 60)
	assert.Equal(t, int64(60), res.TotalExperience)
	assert.Equal(t, []int{3}, f.observer.attempts)
}

func TestConcurrentCompletionsMergeByUnion(t *testing.T) {
	f := newFixture(t)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.record.Handle(context.Background(), RecordCompletionCommand{
				UserID:     "user-1",
				ActivityID: fmt.Sprintf("activity-%d", i%6),
				Points:     10,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p := f.progress(t)
	assert.Equal(t, int64(60), p.TotalExperience)
	assert.Equal(t, int64(6), p.TotalCompletions)
	assert.Equal(t, 6, f.day(t, "2026-03-01").Completed.Len())
}
