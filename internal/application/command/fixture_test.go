package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/internal/application/saga"
	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/catalog"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

var day1 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type countingObserver struct {
	mu       sync.Mutex
	attempts []int
}

func (o *countingObserver) CommandFinished(_ string, _ error, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, attempts)
}

type fixture struct {
	store    *memory.Store
	clock    *timeutil.FixedClock
	events   *recordingPublisher
	observer *countingObserver

	record      *RecordCompletionHandler
	evaluate    *EvaluateAchievementsHandler
	subscribe   *SubscribeToRoutineHandler
	unsubscribe *UnsubscribeFromRoutineHandler
	addHabit    *AddIndividualHabitHandler
	removeHabit *RemoveIndividualHabitHandler
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	achievements *achievement.Catalog
	content      catalog.Catalog
}

func withAchievements(entries ...achievement.Achievement) fixtureOption {
	return func(c *fixtureConfig) { c.achievements = achievement.MustCatalog(entries...) }
}

func withContent(content catalog.Catalog) fixtureOption {
	return func(c *fixtureConfig) { c.content = content }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		store:    memory.NewStore(),
		clock:    timeutil.NewFixedClock(day1),
		events:   &recordingPublisher{},
		observer: &countingObserver{},
	}

	exec := NewExecutor(f.store, f.events, nil, f.observer, ExecutorConfig{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		Location:    time.UTC,
		Clock:       f.clock,
	})
	ledger := progress.NewLedger(progress.DefaultLedgerConfig())
	flow := saga.NewAchievementFlow(achievement.NewEngine(cfg.achievements), ledger, saga.DefaultAchievementFlowConfig())

	f.record = NewRecordCompletionHandler(exec, ledger, flow, cfg.content)
	f.evaluate = NewEvaluateAchievementsHandler(exec, flow)
	f.subscribe = NewSubscribeToRoutineHandler(exec, cfg.content)
	f.unsubscribe = NewUnsubscribeFromRoutineHandler(exec)
	f.addHabit = NewAddIndividualHabitHandler(exec, cfg.content)
	f.removeHabit = NewRemoveIndividualHabitHandler(exec)
	return f
}

func (f *fixture) complete(t *testing.T, activity string, points int64) *RecordCompletionResult {
	t.Helper()
	res, err := f.record.Handle(context.Background(), RecordCompletionCommand{
		UserID:     "user-1",
		ActivityID: activity,
		Points:     points,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) progress(t *testing.T) *progress.UserProgress {
	t.Helper()
	var p *progress.UserProgress
	err := f.store.Read(context.Background(), "user-1", func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.Progress().GetProgress(ctx, "user-1")
		return err
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) day(t *testing.T, date string) *progress.DailyRecord {
	t.Helper()
	var d *progress.DailyRecord
	err := f.store.Read(context.Background(), "user-1", func(ctx context.Context, tx store.Tx) error {
		var err error
		d, err = tx.Progress().GetDay(ctx, "user-1", timeutil.MustParseDate(date))
		return err
	})
	require.NoError(t, err)
	return d
}
