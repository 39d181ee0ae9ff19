package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/habit-engine/internal/application/saga"
	"github.com/alem-hub/habit-engine/internal/domain/catalog"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/logger"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// Marks an activity complete for a day. One unit of work covers the ledger,
// level, streak, achievement unlocks and their rewards, so a failure never
// leaves experience credited without the streak, or the reverse.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand contains the data to record a completion.
type RecordCompletionCommand struct {
	UserID     string
	ActivityID string

	// Points is used only when no content catalog is configured; otherwise
	// the catalog's point value is authoritative.
	Points int64

	// Date is the local completion date (YYYY-MM-DD). Empty means today.
	Date string

	// Timezone, when set, becomes the user's day boundary (IANA name).
	// An active user can move at most once per local day; see
	// progress.UserProgress.MoveTimezone.
	Timezone string

	// EvaluateAll unlocks every satisfied achievement instead of one.
	EvaluateAll bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordCompletionCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if _, err := shared.NewActivityID(c.ActivityID); err != nil {
		return err
	}
	if c.Points < 0 {
		return shared.ErrNegativePoints
	}
	if c.Date != "" {
		if _, err := timeutil.ParseDate(strings.TrimSpace(c.Date)); err != nil {
			return shared.WrapError("progress", "RecordCompletion", shared.ErrInvalidDate, "date must be YYYY-MM-DD", err)
		}
	}
	if c.Timezone != "" {
		if _, err := timeutil.LoadLocation(c.Timezone); err != nil {
			return shared.WrapError("progress", "RecordCompletion", shared.ErrInvalidInput, "unknown timezone", err)
		}
	}
	return nil
}

// RecordCompletionResult contains the outcome of recording a completion.
type RecordCompletionResult struct {
	UserID     shared.UserID     `json:"user_id"`
	ActivityID shared.ActivityID `json:"activity_id"`
	Date       timeutil.Date     `json:"date"`

	// AlreadyCompletedToday is true when the activity was already recorded
	// for Date. Nothing changed in that case.
	AlreadyCompletedToday bool `json:"already_completed_today"`

	// UnknownActivity is true when the catalog does not know the activity.
	// The completion is recorded with zero points.
	UnknownActivity bool `json:"unknown_activity,omitempty"`

	PointsAwarded   int64                  `json:"points_awarded"`
	TotalExperience int64                  `json:"total_experience"`
	Level           int                    `json:"level"`
	LevelProgress   progress.LevelProgress `json:"level_progress"`
	LeveledUp       bool                   `json:"leveled_up"`

	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`

	// Timezone is the day boundary the completion was dated in. It differs
	// from the requested one when the change was refused.
	Timezone string `json:"timezone,omitempty"`

	// UnlockedAchievement is the first achievement unlocked by this completion.
	UnlockedAchievement *saga.UnlockedAchievement `json:"unlocked_achievement,omitempty"`

	// UnlockedAchievements lists every unlock when EvaluateAll was set.
	UnlockedAchievements []saga.UnlockedAchievement `json:"unlocked_achievements,omitempty"`

	// Events contains the domain events published after commit.
	Events []shared.Event `json:"-"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionHandler handles the RecordCompletionCommand.
type RecordCompletionHandler struct {
	exec    *Executor
	ledger  *progress.Ledger
	flow    *saga.AchievementFlow
	catalog catalog.Catalog
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler.
// content may be nil, in which case command points are trusted.
func NewRecordCompletionHandler(
	exec *Executor,
	ledger *progress.Ledger,
	flow *saga.AchievementFlow,
	content catalog.Catalog,
) *RecordCompletionHandler {
	return &RecordCompletionHandler{
		exec:    exec,
		ledger:  ledger,
		flow:    flow,
		catalog: content,
	}
}

// Handle executes the record completion command.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_completion: validation failed: %w", err)
	}

	userID, _ := shared.NewUserID(cmd.UserID)
	activityID, _ := shared.NewActivityID(cmd.ActivityID)

	points, unknown := h.resolvePoints(activityID, cmd.Points)

	var result *RecordCompletionResult
	err := h.exec.Run(ctx, "record_completion", userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		result, err = h.apply(ctx, tx, cmd, userID, activityID, points)
		if result != nil {
			result.UnknownActivity = unknown
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record_completion: %w", err)
	}

	if unknown {
		logger.FromContext(ctx).Warn("completion of activity unknown to the catalog",
			logger.UserID(userID.String()),
			logger.ActivityID(activityID.String()),
		)
	}

	h.exec.Publish(result.Events, cmd.CorrelationID)
	return result, nil
}

func (h *RecordCompletionHandler) resolvePoints(id shared.ActivityID, requested int64) (int64, bool) {
	if h.catalog == nil {
		return requested, false
	}
	a, ok := h.catalog.Activity(id)
	if !ok {
		return 0, true
	}
	return a.Points, false
}

// apply is the body of the unit of work. It is re-run from scratch on retry.
func (h *RecordCompletionHandler) apply(
	ctx context.Context,
	tx store.Tx,
	cmd RecordCompletionCommand,
	userID shared.UserID,
	activityID shared.ActivityID,
	points int64,
) (*RecordCompletionResult, error) {
	now := h.exec.Now()

	p, _, err := h.exec.loadProgress(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if cmd.Timezone != "" && !p.MoveTimezone(cmd.Timezone, now, h.exec.Location()) {
		logger.FromContext(ctx).Debug("timezone change deferred to the next local day",
			logger.UserID(userID.String()),
			logger.String("timezone", p.Timezone),
			logger.String("requested", cmd.Timezone),
		)
	}

	today := h.exec.Today(p)
	date := today
	if cmd.Date != "" {
		date, _ = timeutil.ParseDate(strings.TrimSpace(cmd.Date))
	}

	// Cheap rejection before touching the day record.
	if err := h.ledger.ValidateDate(date, today); err != nil {
		return nil, err
	}

	day, newDay, err := h.exec.loadDay(ctx, tx, userID, date)
	if err != nil {
		return nil, err
	}

	outcome, err := h.ledger.Record(p, day, progress.Completion{
		ActivityID: activityID,
		Points:     points,
		Date:       date,
	}, today, now)
	if err != nil {
		return nil, err
	}

	result := &RecordCompletionResult{
		UserID:     userID,
		ActivityID: activityID,
		Date:       date,
	}

	if outcome.AlreadyCompleted {
		result.AlreadyCompletedToday = true
		h.fillTotals(result, p, today)
		return result, nil
	}

	flowResult, err := h.flow.Execute(ctx, tx, saga.AchievementFlowInput{
		Progress:  p,
		Day:       day,
		Today:     today,
		Streak:    p.EffectiveStreak(today),
		UnlockAll: cmd.EvaluateAll,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Progress().SaveDay(ctx, day); err != nil {
		return nil, fmt.Errorf("failed to save day %s: %w", date, err)
	}
	if err := tx.Progress().SaveProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save progress: %w", err)
	}
	if newDay {
		if _, err := tx.Progress().PruneDays(ctx, userID, h.ledger.RetentionCutoff(today)); err != nil {
			return nil, fmt.Errorf("failed to prune days: %w", err)
		}
	}

	result.PointsAwarded = outcome.PointsAwarded
	result.LeveledUp = p.Level > outcome.PreviousLevel
	result.UnlockedAchievement = flowResult.First()
	result.UnlockedAchievements = flowResult.Unlocked
	h.fillTotals(result, p, today)

	result.Events = append(result.Events,
		shared.NewCompletionRecordedEvent(userID, activityID, date.String(), outcome.PointsAwarded, p.TotalExperience, now))

	switch outcome.Transition {
	case progress.StreakStarted, progress.StreakExtended:
		result.Events = append(result.Events,
			shared.NewStreakUpdatedEvent(userID, outcome.PreviousStreak.Current, p.Streak.Current, p.Streak.Longest, now))
	case progress.StreakRestarted:
		result.Events = append(result.Events,
			shared.NewStreakResetEvent(userID, outcome.PreviousStreak.Current, outcome.PreviousStreak.DaysMissed(date), now))
	}

	if result.LeveledUp {
		result.Events = append(result.Events,
			shared.NewLevelUpEvent(userID, outcome.PreviousLevel, p.Level, p.TotalExperience, now))
	}
	result.Events = append(result.Events, flowResult.Events...)

	return result, nil
}

func (h *RecordCompletionHandler) fillTotals(r *RecordCompletionResult, p *progress.UserProgress, today timeutil.Date) {
	r.TotalExperience = p.TotalExperience
	r.Level = p.Level
	r.LevelProgress = p.LevelProgress()
	r.CurrentStreak = p.EffectiveStreak(today)
	r.LongestStreak = p.Streak.Longest
	r.Timezone = p.Timezone
}
