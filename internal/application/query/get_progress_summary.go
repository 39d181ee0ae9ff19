package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS SUMMARY QUERY
// Experience, level, the streak as it stands today and every achievement
// with its unlock state. Summaries may be cached; a cached summary is only
// served on the local day it was built for, because the displayed streak
// lapses with the calendar.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressSummaryQuery contains the query parameters.
type GetProgressSummaryQuery struct {
	UserID string

	// SkipCache forces a read from the store.
	SkipCache bool
}

// LevelProgressDTO describes progress within the current level.
type LevelProgressDTO struct {
	Earned    int64 `json:"earned"`
	Needed    int64 `json:"needed"`
	Remaining int64 `json:"remaining"`
	Percent   int   `json:"percent"`
}

// AchievementDTO is one catalog entry with the user's unlock state.
type AchievementDTO struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Emoji            string     `json:"emoji,omitempty"`
	Requirement      string     `json:"requirement"`
	ExperienceReward int64      `json:"experience_reward"`
	Unlocked         bool       `json:"unlocked"`
	UnlockedAt       *time.Time `json:"unlocked_at,omitempty"`
}

// ProgressSummaryDTO is the result of GetProgressSummaryQuery.
type ProgressSummaryDTO struct {
	UserID string `json:"user_id"`

	// AsOf is the local date the summary was computed for.
	AsOf     string `json:"as_of"`
	Timezone string `json:"timezone,omitempty"`

	// Version is the progress record's version the summary was built from.
	Version int64 `json:"version"`

	// ─────────────────────────────────────────────────────────────────────────
	// Experience
	// ─────────────────────────────────────────────────────────────────────────

	TotalExperience int64            `json:"total_experience"`
	Level           int              `json:"level"`
	LevelProgress   LevelProgressDTO `json:"level_progress"`
	TodayExperience int64            `json:"today_experience"`

	// ─────────────────────────────────────────────────────────────────────────
	// Streak
	// ─────────────────────────────────────────────────────────────────────────

	CurrentStreak        int     `json:"current_streak"`
	LongestStreak        int     `json:"longest_streak"`
	LastActiveDate       *string `json:"last_active_date,omitempty"`
	DaysUntilStreakBreak int     `json:"days_until_streak_break"`

	// ─────────────────────────────────────────────────────────────────────────
	// Achievements
	// ─────────────────────────────────────────────────────────────────────────

	TotalCompletions int64            `json:"total_completions"`
	Achievements     []AchievementDTO `json:"achievements"`
	UnlockedCount    int              `json:"unlocked_count"`
}

// SummaryCache caches progress summaries per user.
//
// Writes are guarded by a per-user generation: a reader takes it before
// loading state and SetSummary refuses the write if an invalidation bumped
// it in between, so a summary built from a pre-commit snapshot never lands
// after the commit's invalidation.
type SummaryCache interface {
	// GetSummary returns nil without error on a miss.
	GetSummary(ctx context.Context, userID shared.UserID) (*ProgressSummaryDTO, error)

	// Generation returns the user's current invalidation count.
	Generation(ctx context.Context, userID shared.UserID) (int64, error)

	// SetSummary stores summary if the generation still equals generation
	// and reports whether it did.
	SetSummary(ctx context.Context, summary *ProgressSummaryDTO, generation int64) (bool, error)

	// InvalidateSummary bumps the generation and drops the cached summary.
	InvalidateSummary(ctx context.Context, userID shared.UserID) error
}

// GetProgressSummaryHandler handles GetProgressSummaryQuery.
type GetProgressSummaryHandler struct {
	reader *Reader
	engine *achievement.Engine
	cache  SummaryCache
	log    *logger.Logger
}

// NewGetProgressSummaryHandler creates a new GetProgressSummaryHandler.
// cache may be nil.
func NewGetProgressSummaryHandler(reader *Reader, engine *achievement.Engine, cache SummaryCache, log *logger.Logger) *GetProgressSummaryHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetProgressSummaryHandler{
		reader: reader,
		engine: engine,
		cache:  cache,
		log:    log.With(logger.Component("query")),
	}
}

// Handle executes the query. Users without progress get a level 1 summary.
func (h *GetProgressSummaryHandler) Handle(ctx context.Context, q GetProgressSummaryQuery) (*ProgressSummaryDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: %w", err)
	}

	if h.cache != nil && !q.SkipCache {
		cached, err := h.cache.GetSummary(ctx, userID)
		if err != nil {
			h.log.Warn("summary cache read failed", logger.UserID(userID.String()), logger.Err(err))
		} else if cached != nil && cached.AsOf == h.reader.TodayIn(cached.Timezone).String() {
			return cached, nil
		}
	}

	cacheable := false
	var generation int64
	if h.cache != nil {
		generation, err = h.cache.Generation(ctx, userID)
		if err != nil {
			h.log.Warn("summary cache generation read failed", logger.UserID(userID.String()), logger.Err(err))
		} else {
			cacheable = true
		}
	}

	dto := &ProgressSummaryDTO{UserID: userID.String()}
	err = h.reader.Read(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		p, err := loadProgress(ctx, tx, userID)
		if err != nil {
			return err
		}
		if p == nil {
			p = progress.NewUserProgress(userID, time.Time{})
		}
		today := h.reader.Today(p)

		unlocks, err := tx.Achievements().ListUnlocks(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list unlocks: %w", err)
		}

		var todayXP int64
		day, err := tx.Progress().GetDay(ctx, userID, today)
		switch {
		case err == nil:
			todayXP = day.TotalExperience()
		case !errors.Is(err, shared.ErrNotFound):
			return fmt.Errorf("failed to load day: %w", err)
		}

		h.fill(dto, p, today.String(), unlocks)
		dto.CurrentStreak = p.EffectiveStreak(today)
		dto.DaysUntilStreakBreak = p.Streak.DaysUntilBreak(today)
		dto.TodayExperience = todayXP
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_progress_summary: %w", err)
	}

	if cacheable {
		stored, err := h.cache.SetSummary(ctx, dto, generation)
		switch {
		case err != nil:
			h.log.Warn("summary cache write failed", logger.UserID(userID.String()), logger.Err(err))
		case !stored:
			h.log.Debug("summary went stale while building, not cached", logger.UserID(userID.String()))
		}
	}
	return dto, nil
}

func (h *GetProgressSummaryHandler) fill(dto *ProgressSummaryDTO, p *progress.UserProgress, asOf string, unlocks []achievement.Unlock) {
	lp := p.LevelProgress()

	dto.AsOf = asOf
	dto.Timezone = p.Timezone
	dto.Version = p.Version
	dto.TotalExperience = p.TotalExperience
	dto.Level = p.Level
	dto.LevelProgress = LevelProgressDTO{
		Earned:    lp.Earned,
		Needed:    lp.Needed,
		Remaining: lp.Remaining(),
		Percent:   lp.Percent(),
	}
	dto.LongestStreak = p.Streak.Longest
	dto.TotalCompletions = p.TotalCompletions
	if p.Streak.LastActive != nil {
		last := p.Streak.LastActive.String()
		dto.LastActiveDate = &last
	}

	unlockedAt := make(map[shared.AchievementID]time.Time, len(unlocks))
	for _, u := range unlocks {
		unlockedAt[u.AchievementID] = u.UnlockedAt
	}

	dto.Achievements = make([]AchievementDTO, 0, h.engine.Catalog().Len())
	for _, a := range h.engine.Catalog().All() {
		item := toAchievementDTO(a)
		if at, ok := unlockedAt[a.ID]; ok {
			item.Unlocked = true
			item.UnlockedAt = &at
			dto.UnlockedCount++
		}
		dto.Achievements = append(dto.Achievements, item)
	}
}

func toAchievementDTO(a achievement.Achievement) AchievementDTO {
	return AchievementDTO{
		ID:               a.ID.String(),
		Name:             a.Name,
		Description:      a.Description,
		Emoji:            a.Emoji,
		Requirement:      a.Requirement.Describe(),
		ExperienceReward: a.ExperienceReward,
	}
}
