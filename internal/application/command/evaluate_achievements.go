package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/habit-engine/internal/application/saga"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE ACHIEVEMENTS COMMAND
// Re-runs achievement evaluation outside of a completion. Clients call it
// after acknowledging an unlock to surface the next one.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluateAchievementsCommand contains the data to evaluate achievements.
type EvaluateAchievementsCommand struct {
	UserID string

	// EvaluateAll unlocks every satisfied achievement instead of one.
	EvaluateAll bool

	CorrelationID string
}

// Validate validates the command.
func (c EvaluateAchievementsCommand) Validate() error {
	_, err := shared.NewUserID(c.UserID)
	return err
}

// EvaluateAchievementsResult contains the unlocks made.
type EvaluateAchievementsResult struct {
	Unlocked        []saga.UnlockedAchievement
	TotalExperience int64
	Level           int
	LeveledUp       bool
	Events          []shared.Event
}

// EvaluateAchievementsHandler handles the EvaluateAchievementsCommand.
type EvaluateAchievementsHandler struct {
	exec *Executor
	flow *saga.AchievementFlow
}

// NewEvaluateAchievementsHandler creates a new EvaluateAchievementsHandler.
func NewEvaluateAchievementsHandler(exec *Executor, flow *saga.AchievementFlow) *EvaluateAchievementsHandler {
	return &EvaluateAchievementsHandler{exec: exec, flow: flow}
}

// Handle executes the evaluate command. Users without progress have nothing
// to unlock.
func (h *EvaluateAchievementsHandler) Handle(ctx context.Context, cmd EvaluateAchievementsCommand) (*EvaluateAchievementsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate_achievements: validation failed: %w", err)
	}
	userID, _ := shared.NewUserID(cmd.UserID)

	var result *EvaluateAchievementsResult
	err := h.exec.Run(ctx, "evaluate_achievements", userID, func(ctx context.Context, tx store.Tx) error {
		result = &EvaluateAchievementsResult{Level: 1}

		p, err := tx.Progress().GetProgress(ctx, userID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load progress: %w", err)
		}

		now := h.exec.Now()
		today := h.exec.Today(p)
		levelBefore := p.Level

		day, _, err := h.exec.loadDay(ctx, tx, userID, today)
		if err != nil {
			return err
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
			return err
		}

		result.TotalExperience = p.TotalExperience
		result.Level = p.Level

		if len(flowResult.Unlocked) == 0 {
			return nil
		}

		if err := tx.Progress().SaveDay(ctx, day); err != nil {
			return fmt.Errorf("failed to save day %s: %w", today, err)
		}
		if err := tx.Progress().SaveProgress(ctx, p); err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}

		result.Unlocked = flowResult.Unlocked
		result.LeveledUp = p.Level > levelBefore
		result.Events = append(result.Events, flowResult.Events...)
		if result.LeveledUp {
			result.Events = append(result.Events,
				shared.NewLevelUpEvent(userID, levelBefore, p.Level, p.TotalExperience, now))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate_achievements: %w", err)
	}

	h.exec.Publish(result.Events, cmd.CorrelationID)
	return result, nil
}
