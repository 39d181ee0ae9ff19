// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/logger"
	"github.com/alem-hub/habit-engine/pkg/retry"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTOR
// Runs a command body as one per-user unit of work, re-running the whole
// body on conflicts and transient storage failures. Events are published
// only after the unit of work has committed.
// ══════════════════════════════════════════════════════════════════════════════

// Observer receives the outcome of every command run.
type Observer interface {
	CommandFinished(command string, err error, attempts int, elapsed time.Duration)
}

// ExecutorConfig contains configuration for the Executor.
type ExecutorConfig struct {
	// MaxAttempts bounds how often a command body is run.
	MaxAttempts int

	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration

	// Location is the day boundary for users without a timezone.
	Location *time.Location

	// Clock is the server clock. "Today" is always derived from it.
	Clock timeutil.Clock
}

// DefaultExecutorConfig returns default configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts: 3,
		RetryDelay:  25 * time.Millisecond,
		Location:    timeutil.DefaultLocation,
		Clock:       timeutil.SystemClock{},
	}
}

// Executor is shared by all command handlers.
type Executor struct {
	store     store.Store
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	clock     timeutil.Clock
	location  *time.Location
	log       *logger.Logger
	observer  Observer
}

// NewExecutor creates a new Executor. publisher and observer may be nil.
func NewExecutor(st store.Store, publisher shared.EventPublisher, log *logger.Logger, observer Observer, config ExecutorConfig) *Executor {
	defaults := DefaultExecutorConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if log == nil {
		log = logger.Nop()
	}

	e := &Executor{
		store:     st,
		publisher: publisher,
		clock:     config.Clock,
		location:  config.Location,
		log:       log.With(logger.Component("command")),
		observer:  observer,
	}
	e.retrier = retry.CommandRetrier(config.MaxAttempts, shared.IsRetryable,
		retry.WithInitialDelay(config.RetryDelay),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			e.log.Warn("retrying command",
				logger.Attempt(attempt),
				logger.Err(err),
				logger.Duration("delay", delay),
			)
		}),
	)
	return e
}

// Now returns the current server time in UTC.
func (e *Executor) Now() time.Time {
	return e.clock.Now().UTC()
}

// Location returns the default day boundary.
func (e *Executor) Location() *time.Location {
	return e.location
}

// Today returns the user's local date on the server clock.
func (e *Executor) Today(p *progress.UserProgress) timeutil.Date {
	return timeutil.Today(e.clock, p.Location(e.location))
}

// Run executes fn atomically for userID with retries.
// On failure nothing fn wrote is visible.
func (e *Executor) Run(ctx context.Context, name string, userID shared.UserID, fn store.TxFunc) error {
	start := time.Now()
	attempts := 0

	err := e.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		return e.store.Atomically(ctx, userID, fn)
	})

	if e.observer != nil {
		e.observer.CommandFinished(name, err, attempts, time.Since(start))
	}

	if err != nil {
		log := e.log.With(logger.Operation(name), logger.UserID(userID.String()), logger.Attempt(attempts))
		switch {
		case retry.IsExhausted(err):
			log.Error("command failed after retries", logger.Err(err))
		case shared.IsValidation(err), shared.IsNotFound(err):
			log.Debug("command rejected", logger.Err(err))
		default:
			log.Error("command failed", logger.Err(err))
		}
		return err
	}
	return nil
}

// Publish sends events to the publisher. Publishing failures are logged and
// never fail the command, which has already been committed.
func (e *Executor) Publish(events []shared.Event, correlationID string) {
	if e.publisher == nil {
		return
	}
	for _, event := range events {
		if correlationID != "" {
			event = withCorrelation(event, correlationID)
		}
		if err := e.publisher.Publish(event); err != nil {
			e.log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.UserID(event.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// withCorrelation sets the correlation id on the engine's event types.
func withCorrelation(event shared.Event, id string) shared.Event {
	switch ev := event.(type) {
	case shared.CompletionRecordedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.LevelUpEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.StreakUpdatedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.StreakResetEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.AchievementUnlockedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.RoutineSubscriptionEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	case shared.HabitChangedEvent:
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
		return ev
	default:
		return event
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED STEPS
// ══════════════════════════════════════════════════════════════════════════════

// loadProgress returns the user's progress, or a fresh record when the user
// has none yet. The boolean reports whether the record already existed.
func (e *Executor) loadProgress(ctx context.Context, tx store.Tx, userID shared.UserID) (*progress.UserProgress, bool, error) {
	p, err := tx.Progress().GetProgress(ctx, userID)
	if err == nil {
		return p, true, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return progress.NewUserProgress(userID, e.Now()), false, nil
	}
	return nil, false, fmt.Errorf("failed to load progress: %w", err)
}

// loadDay returns the record for date, creating it with the user's current
// subscriptions as the schedule snapshot. The boolean reports whether it is new.
func (e *Executor) loadDay(ctx context.Context, tx store.Tx, userID shared.UserID, date timeutil.Date) (*progress.DailyRecord, bool, error) {
	day, err := tx.Progress().GetDay(ctx, userID, date)
	if err == nil {
		return day, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load day %s: %w", date, err)
	}

	scheduled, err := e.scheduledSet(ctx, tx, userID)
	if err != nil {
		return nil, false, err
	}
	return progress.NewDailyRecord(userID, date, scheduled, e.Now()), true, nil
}

func (e *Executor) scheduledSet(ctx context.Context, tx store.Tx, userID shared.UserID) (progress.ActivitySet, error) {
	subs, err := tx.Habits().ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return progress.NewActivitySet(habit.ActivityIDs(subs)...), nil
}

// refreshSchedule updates the schedule snapshot of today's record after a
// subscription change. Days without a record are left alone: the snapshot
// is taken when the record is created.
func (e *Executor) refreshSchedule(ctx context.Context, tx store.Tx, userID shared.UserID) error {
	p, _, err := e.loadProgress(ctx, tx, userID)
	if err != nil {
		return err
	}
	today := e.Today(p)

	day, err := tx.Progress().GetDay(ctx, userID, today)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load day %s: %w", today, err)
	}

	scheduled, err := e.scheduledSet(ctx, tx, userID)
	if err != nil {
		return err
	}
	day.Scheduled = scheduled
	day.UpdatedAt = e.Now()
	if err := tx.Progress().SaveDay(ctx, day); err != nil {
		return fmt.Errorf("failed to save day %s: %w", today, err)
	}
	return nil
}
