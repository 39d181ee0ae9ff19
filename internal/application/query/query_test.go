package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/internal/application/command"
	"github.com/alem-hub/habit-engine/internal/application/saga"
	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	catalogfile "github.com/alem-hub/habit-engine/internal/infrastructure/catalog"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

type mapCache struct {
	mu          sync.Mutex
	items       map[shared.UserID]ProgressSummaryDTO
	generations map[shared.UserID]int64
	hits        int

	// beforeSet runs before every SetSummary, outside the lock.
	beforeSet func()
}

func newMapCache() *mapCache {
	return &mapCache{
		items:       make(map[shared.UserID]ProgressSummaryDTO),
		generations: make(map[shared.UserID]int64),
	}
}

func (c *mapCache) GetSummary(_ context.Context, userID shared.UserID) (*ProgressSummaryDTO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[userID]
	if !ok {
		return nil, nil
	}
	c.hits++
	return &s, nil
}

func (c *mapCache) Generation(_ context.Context, userID shared.UserID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID], nil
}

func (c *mapCache) SetSummary(_ context.Context, s *ProgressSummaryDTO, generation int64) (bool, error) {
	if hook := c.beforeSet; hook != nil {
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	userID := shared.UserID(s.UserID)
	if c.generations[userID] != generation {
		return false, nil
	}
	c.items[userID] = *s
	return true, nil
}

func (c *mapCache) InvalidateSummary(_ context.Context, userID shared.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[userID]++
	delete(c.items, userID)
	return nil
}

type env struct {
	clock     *timeutil.FixedClock
	record    *command.RecordCompletionHandler
	subscribe *command.SubscribeToRoutineHandler
	addHabit  *command.AddIndividualHabitHandler

	todays  *GetTodaysHabitsHandler
	summary *GetProgressSummaryHandler
	next    *GetNextAchievementHandler
	cache   *mapCache
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	content := catalogfile.Default()
	engine := achievement.NewEngine(nil)
	ledger := progress.NewLedger(progress.DefaultLedgerConfig())

	exec := command.NewExecutor(st, nil, nil, nil, command.ExecutorConfig{Clock: clock, Location: time.UTC})
	flow := saga.NewAchievementFlow(engine, ledger, saga.DefaultAchievementFlowConfig())
	reader := NewReader(st, clock, time.UTC)
	cache := newMapCache()

	return &env{
		clock:     clock,
		record:    command.NewRecordCompletionHandler(exec, ledger, flow, content),
		subscribe: command.NewSubscribeToRoutineHandler(exec, content),
		addHabit:  command.NewAddIndividualHabitHandler(exec, content),
		todays:    NewGetTodaysHabitsHandler(reader, content),
		summary:   NewGetProgressSummaryHandler(reader, engine, cache, nil),
		next:      NewGetNextAchievementHandler(reader, engine),
		cache:     cache,
	}
}

func (e *env) complete(t *testing.T, activity string) {
	t.Helper()
	_, err := e.record.Handle(context.Background(), command.RecordCompletionCommand{UserID: "user-1", ActivityID: activity})
	require.NoError(t, err)
}

func TestGetTodaysHabits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.subscribe.Handle(ctx, command.SubscribeToRoutineCommand{UserID: "user-1", RoutineID: "quiet-evening"})
	require.NoError(t, err)
	_, err = e.subscribe.Handle(ctx, command.SubscribeToRoutineCommand{UserID: "user-1", RoutineID: "dawn-devotion"})
	require.NoError(t, err)
	_, err = e.addHabit.Handle(ctx, command.AddIndividualHabitCommand{UserID: "user-1", ActivityID: "mindful-walk"})
	require.NoError(t, err)

	e.complete(t, "scripture-reading")

	dto, err := e.todays.Handle(ctx, GetTodaysHabitsQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", dto.Date)
	assert.Equal(t, 5, dto.TotalCount)
	assert.Equal(t, 1, dto.CompletedCount)

	order := make([]string, 0, len(dto.Habits))
	for _, h := range dto.Habits {
		order = append(order, h.ActivityID)
	}
	assert.Equal(t, []string{
		"morning-prayer", "scripture-reading",
		"mindful-walk",
		"evening-reflection", "night-prayer",
	}, order)

	assert.True(t, dto.Habits[1].Completed)
	assert.Equal(t, int64(30), dto.Habits[1].Points)
	require.NotNil(t, dto.Habits[1].RoutineID)
	assert.Equal(t, "dawn-devotion", *dto.Habits[1].RoutineID)
	assert.Nil(t, dto.Habits[2].RoutineID)

	require.Len(t, dto.Slots, 3)
	assert.Equal(t, string(habit.SlotMorning), dto.Slots[0].TimeSlot)
	assert.Len(t, dto.Slots[2].Habits, 2)

	e.clock.AdvanceDays(1)
	dto, err = e.todays.Handle(ctx, GetTodaysHabitsQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Zero(t, dto.CompletedCount)
}

func TestGetTodaysHabitsEmpty(t *testing.T) {
	e := newEnv(t)
	dto, err := e.todays.Handle(context.Background(), GetTodaysHabitsQuery{UserID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, dto.Habits)
	assert.NotNil(t, dto.Slots)
	assert.Zero(t, dto.TotalCount)

	_, err = e.todays.Handle(context.Background(), GetTodaysHabitsQuery{UserID: " "})
	assert.ErrorIs(t, err, shared.ErrInvalidID)
}

func TestGetProgressSummary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.complete(t, "morning-prayer")
	e.complete(t, "gratitude-journal")

	dto, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", dto.AsOf)
	assert.Equal(t, int64(35), dto.TotalExperience)
	assert.Equal(t, int64(35), dto.TodayExperience)
	assert.Equal(t, 1, dto.Level)
	assert.Equal(t, int64(65), dto.LevelProgress.Remaining)
	assert.Equal(t, 35, dto.LevelProgress.Percent)
	assert.Equal(t, 1, dto.CurrentStreak)
	require.NotNil(t, dto.LastActiveDate)
	assert.Equal(t, "2026-03-01", *dto.LastActiveDate)
	assert.Len(t, dto.Achievements, achievement.DefaultCatalog().Len())
	assert.Zero(t, dto.UnlockedCount)

	t.Run("streak lapses with the calendar", func(t *testing.T) {
		e.clock.AdvanceDays(2)
		dto, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, "2026-03-03", dto.AsOf)
		assert.Zero(t, dto.CurrentStreak)
		assert.Equal(t, 1, dto.LongestStreak)
		assert.Zero(t, dto.TodayExperience)
	})
}

func TestGetProgressSummaryUnknownUser(t *testing.T) {
	e := newEnv(t)
	dto, err := e.summary.Handle(context.Background(), GetProgressSummaryQuery{UserID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, 1, dto.Level)
	assert.Zero(t, dto.TotalExperience)
	assert.Nil(t, dto.LastActiveDate)
}

func TestGetProgressSummaryCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.complete(t, "morning-prayer")
	first, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
	require.NoError(t, err)

	// Without an invalidation the cached copy is served for the same day.
	e.complete(t, "night-prayer")
	cached, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, first.TotalExperience, cached.TotalExperience)
	assert.Equal(t, 1, e.cache.hits)

	fresh, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1", SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, int64(50), fresh.TotalExperience)

	require.NoError(t, e.cache.InvalidateSummary(ctx, "user-1"))
	e.complete(t, "mindful-walk")
	_, err = e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
	require.NoError(t, err)

	e.clock.AdvanceDays(1)
	next, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", next.AsOf, "a summary from yesterday is never served")
}

func TestGetProgressSummaryStaleWriteRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.complete(t, "morning-prayer")

	// A completion commits and invalidates between the read and the cache
	// write of a concurrent summary request.
	e.cache.beforeSet = func() {
		e.cache.beforeSet = nil
		e.complete(t, "night-prayer")
		require.NoError(t, e.cache.InvalidateSummary(ctx, "user-1"))
	}
	stale, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
	require.NoError(t, err)

	cached, err := e.cache.GetSummary(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, cached, "a summary built before the invalidation must not be cached")

	fresh, err := e.summary.Handle(ctx, GetProgressSummaryQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Greater(t, fresh.TotalExperience, stale.TotalExperience)
	assert.Greater(t, fresh.Version, stale.Version)

	cached, err = e.cache.GetSummary(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, fresh.Version, cached.Version)
}

func TestGetNextAchievement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dto, err := e.next.Handle(ctx, GetNextAchievementQuery{UserID: "user-1"})
	require.NoError(t, err)
	require.True(t, dto.Found)
	assert.Equal(t, "streak-3", dto.Achievement.ID)
	assert.Zero(t, dto.Current)
	assert.Empty(t, dto.ReadyToUnlock)

	e.complete(t, "morning-prayer")
	dto, err = e.next.Handle(ctx, GetNextAchievementQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, dto.Current)
	assert.Equal(t, 3, dto.Target)
	assert.InDelta(t, 33.3, dto.Percent, 0.1)

	for i := 0; i < 2; i++ {
		e.clock.AdvanceDays(1)
		e.complete(t, "morning-prayer")
	}
	dto, err = e.next.Handle(ctx, GetNextAchievementQuery{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "completions-5", dto.Achievement.ID)
	assert.Equal(t, 3, dto.Current)
}
