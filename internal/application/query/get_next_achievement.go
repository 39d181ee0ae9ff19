package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/habit-engine/internal/application/saga"
	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET NEXT ACHIEVEMENT QUERY
// The nearest locked achievement and how far the user is toward it.
// ══════════════════════════════════════════════════════════════════════════════

// GetNextAchievementQuery contains the query parameters.
type GetNextAchievementQuery struct {
	UserID string
}

// NextAchievementDTO is the result of GetNextAchievementQuery.
type NextAchievementDTO struct {
	// Found is false when every achievement is unlocked or earned.
	Found       bool            `json:"found"`
	Achievement *AchievementDTO `json:"achievement,omitempty"`
	Current     int             `json:"current"`
	Target      int             `json:"target"`
	Percent     float64         `json:"percent"`

	// ReadyToUnlock lists achievements whose requirement already holds but
	// that have not been unlocked yet; evaluating achievements unlocks them.
	ReadyToUnlock []string `json:"ready_to_unlock"`
}

// GetNextAchievementHandler handles GetNextAchievementQuery.
type GetNextAchievementHandler struct {
	reader *Reader
	engine *achievement.Engine
}

// NewGetNextAchievementHandler creates a new GetNextAchievementHandler.
func NewGetNextAchievementHandler(reader *Reader, engine *achievement.Engine) *GetNextAchievementHandler {
	return &GetNextAchievementHandler{reader: reader, engine: engine}
}

// Handle executes the query.
func (h *GetNextAchievementHandler) Handle(ctx context.Context, q GetNextAchievementQuery) (*NextAchievementDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_next_achievement: %w", err)
	}

	var (
		stats    achievement.Stats
		unlocked achievement.UnlockedSet
	)
	err = h.reader.Read(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		p, err := loadProgress(ctx, tx, userID)
		if err != nil {
			return err
		}
		if p == nil {
			p = progress.NewUserProgress(userID, h.reader.clock.Now())
		}
		today := h.reader.Today(p)

		unlocks, err := tx.Achievements().ListUnlocks(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list unlocks: %w", err)
		}
		unlocked = achievement.NewUnlockedSet(unlocks)

		days, err := saga.LoadDaySnapshots(ctx, tx.Progress(), userID, today, h.engine.Catalog().HistoryWindow(), nil)
		if err != nil {
			return err
		}
		stats = achievement.NewStats(today, p.EffectiveStreak(today), p.TotalCompletions, p.Level, days)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_next_achievement: %w", err)
	}

	dto := &NextAchievementDTO{ReadyToUnlock: []string{}}
	for _, a := range h.engine.Catalog().All() {
		if !unlocked.Has(a.ID) && achievement.Satisfied(a.Requirement, stats) {
			dto.ReadyToUnlock = append(dto.ReadyToUnlock, a.ID.String())
		}
	}

	candidate, ok := h.engine.Next(stats, unlocked)
	if !ok {
		return dto, nil
	}
	item := toAchievementDTO(candidate.Achievement)
	dto.Found = true
	dto.Achievement = &item
	dto.Current = candidate.Current
	dto.Target = candidate.Target
	dto.Percent = candidate.Percent()
	return dto, nil
}
