// Package saga contains multi-step business processes that coordinate
// several domain operations inside a single unit of work.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW
// Evaluate Catalog → Insert Unlock (once) → Award Reward XP → Collect Events
//
// The flow runs inside the caller's unit of work, so an unlock and its reward
// are committed together with the change that earned them, or not at all.
// By default one achievement is unlocked per run; callers that want every
// crossed threshold at once set UnlockAll.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowConfig contains configuration for the achievement flow.
type AchievementFlowConfig struct {
	// UnlockAll makes every run unlock all satisfied achievements instead of one.
	UnlockAll bool
}

// DefaultAchievementFlowConfig returns the default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{UnlockAll: false}
}

// AchievementFlow unlocks achievements and awards their rewards.
type AchievementFlow struct {
	engine *achievement.Engine
	ledger *progress.Ledger
	config AchievementFlowConfig
}

// NewAchievementFlow creates a new AchievementFlow.
func NewAchievementFlow(engine *achievement.Engine, ledger *progress.Ledger, config AchievementFlowConfig) *AchievementFlow {
	return &AchievementFlow{
		engine: engine,
		ledger: ledger,
		config: config,
	}
}

// Engine returns the achievement engine the flow evaluates with.
func (f *AchievementFlow) Engine() *achievement.Engine {
	return f.engine
}

// AchievementFlowInput is the state the flow evaluates and mutates.
type AchievementFlowInput struct {
	// Progress is mutated in place when rewards are awarded.
	Progress *progress.UserProgress

	// Day is the record rewards are credited to. It may hold unsaved
	// changes, so it replaces the stored record of its date when that date
	// falls inside the evaluation window.
	Day *progress.DailyRecord

	// Today is the user's current local date. Windows end here, never at the
	// date of a backfilled completion.
	Today timeutil.Date

	// Streak is the streak as of Today.
	Streak int

	// UnlockAll overrides the configured policy for this run when true.
	UnlockAll bool

	Now time.Time
}

// UnlockedAchievement describes one unlock made by the flow.
type UnlockedAchievement struct {
	ID               shared.AchievementID `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	Emoji            string               `json:"emoji,omitempty"`
	ExperienceReward int64                `json:"experience_reward"`
	UnlockedAt       time.Time            `json:"unlocked_at"`
}

// AchievementFlowResult contains what the flow changed.
type AchievementFlowResult struct {
	Unlocked []UnlockedAchievement
	Events   []shared.Event

	// RewardExperience is the sum of rewards awarded in this run.
	RewardExperience int64
}

// First returns the first unlock of the run, or nil.
func (r *AchievementFlowResult) First() *UnlockedAchievement {
	if len(r.Unlocked) == 0 {
		return nil
	}
	u := r.Unlocked[0]
	return &u
}

// Execute runs the flow. Every write goes through tx.
func (f *AchievementFlow) Execute(ctx context.Context, tx store.Tx, in AchievementFlowInput) (*AchievementFlowResult, error) {
	p := in.Progress
	result := &AchievementFlowResult{}

	unlocks, err := tx.Achievements().ListUnlocks(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("achievement_flow: failed to list unlocks: %w", err)
	}
	unlocked := achievement.NewUnlockedSet(unlocks)

	days, err := LoadDaySnapshots(ctx, tx.Progress(), p.UserID, in.Today, f.engine.Catalog().HistoryWindow(), in.Day)
	if err != nil {
		return nil, fmt.Errorf("achievement_flow: %w", err)
	}

	unlockAll := in.UnlockAll || f.config.UnlockAll

	// Each pass either unlocks an entry or marks it held, so the loop ends
	// within the catalog size.
	for i := 0; i < f.engine.Catalog().Len(); i++ {
		stats := achievement.NewStats(in.Today, in.Streak, p.TotalCompletions, p.Level, days)

		found := f.engine.Evaluate(stats, unlocked)
		if found == nil {
			break
		}
		unlocked[found.ID] = struct{}{}

		inserted, err := tx.Achievements().InsertUnlock(ctx, achievement.Unlock{
			UserID:           p.UserID,
			AchievementID:    found.ID,
			UnlockedAt:       in.Now,
			ExperienceReward: found.ExperienceReward,
		})
		if err != nil {
			return nil, fmt.Errorf("achievement_flow: failed to insert unlock %s: %w", found.ID, err)
		}
		if !inserted {
			continue
		}

		if _, err := f.ledger.AwardExperience(p, in.Day, found.ExperienceReward, in.Now); err != nil {
			return nil, fmt.Errorf("achievement_flow: failed to award %s: %w", found.ID, err)
		}

		result.RewardExperience += found.ExperienceReward
		result.Unlocked = append(result.Unlocked, UnlockedAchievement{
			ID:               found.ID,
			Name:             found.Name,
			Description:      found.Description,
			Emoji:            found.Emoji,
			ExperienceReward: found.ExperienceReward,
			UnlockedAt:       in.Now,
		})
		result.Events = append(result.Events,
			shared.NewAchievementUnlockedEvent(p.UserID, found.ID, found.Name, found.ExperienceReward, in.Now))

		if !unlockAll {
			break
		}
	}

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// LoadDaySnapshots reads the window days ending today. When override is not
// nil and its date is inside the window it replaces the stored record of
// that date.
func LoadDaySnapshots(
	ctx context.Context,
	repo progress.Repository,
	userID shared.UserID,
	today timeutil.Date,
	window int,
	override *progress.DailyRecord,
) ([]achievement.DaySnapshot, error) {
	from := today.AddDays(-(window - 1))
	records, err := repo.ListDays(ctx, userID, from, today)
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	if override != nil && (override.Date.Before(from) || override.Date.After(today)) {
		override = nil
	}

	out := make([]achievement.DaySnapshot, 0, len(records)+1)
	for _, r := range records {
		if override != nil && r.Date.Equal(override.Date) {
			continue
		}
		out = append(out, Snapshot(r))
	}
	if override != nil {
		out = append(out, Snapshot(override))
	}
	return out, nil
}

// Snapshot converts a ledger record into the form achievements evaluate.
func Snapshot(r *progress.DailyRecord) achievement.DaySnapshot {
	return achievement.DaySnapshot{
		Date:      r.Date,
		Completed: r.Completed.Sorted(),
		Scheduled: r.Scheduled.Sorted(),
	}
}
