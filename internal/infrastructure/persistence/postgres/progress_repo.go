package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	q Querier
}

// NewProgressRepository creates a ProgressRepository bound to q, normally
// the transaction of a unit of work.
func NewProgressRepository(q Querier) *ProgressRepository {
	return &ProgressRepository{q: q}
}

// ─────────────────────────────────────────────────────────────────────────────
// User Progress
// ─────────────────────────────────────────────────────────────────────────────

// GetProgress returns the user's progress.
func (r *ProgressRepository) GetProgress(ctx context.Context, userID shared.UserID) (*progress.UserProgress, error) {
	query := `
		SELECT user_id, total_experience, level, current_streak, longest_streak,
			   last_active_date, total_completions, timezone, version, created_at, updated_at
		FROM user_progress
		WHERE user_id = $1
	`

	var (
		p          progress.UserProgress
		userIDText string
		lastActive *time.Time
	)
	err := r.q.QueryRow(ctx, query, userID.String()).Scan(
		&userIDText,
		&p.TotalExperience,
		&p.Level,
		&p.Streak.Current,
		&p.Streak.Longest,
		&lastActive,
		&p.TotalCompletions,
		&p.Timezone,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	p.UserID = shared.UserID(userIDText)
	if lastActive != nil {
		d := timeutil.FromTime(*lastActive)
		p.Streak.LastActive = &d
	}
	return &p, nil
}

// SaveProgress inserts or updates p, guarded by its version.
func (r *ProgressRepository) SaveProgress(ctx context.Context, p *progress.UserProgress) error {
	var lastActive *time.Time
	if p.Streak.LastActive != nil {
		t := p.Streak.LastActive.Time()
		lastActive = &t
	}

	var (
		query string
		args  []any
	)
	if p.Version == 0 {
		query = `
			INSERT INTO user_progress (
				user_id, total_experience, level, current_streak, longest_streak,
				last_active_date, total_completions, timezone, created_at, updated_at, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
			ON CONFLICT (user_id) DO NOTHING
		`
		args = []any{
			p.UserID.String(),
			p.TotalExperience,
			p.Level,
			p.Streak.Current,
			p.Streak.Longest,
			lastActive,
			p.TotalCompletions,
			p.Timezone,
			p.CreatedAt,
			p.UpdatedAt,
		}
	} else {
		query = `
			UPDATE user_progress SET
				total_experience = $2,
				level = $3,
				current_streak = $4,
				longest_streak = $5,
				last_active_date = $6,
				total_completions = $7,
				timezone = $8,
				updated_at = $9,
				version = version + 1
			WHERE user_id = $1 AND version = $10
		`
		args = []any{
			p.UserID.String(),
			p.TotalExperience,
			p.Level,
			p.Streak.Current,
			p.Streak.Longest,
			lastActive,
			p.TotalCompletions,
			p.Timezone,
			p.UpdatedAt,
			p.Version,
		}
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrStoreConflict
	}

	p.Version++
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Daily Records
// ─────────────────────────────────────────────────────────────────────────────

// GetDay returns the record for date.
func (r *ProgressRepository) GetDay(ctx context.Context, userID shared.UserID, date timeutil.Date) (*progress.DailyRecord, error) {
	days, err := r.ListDays(ctx, userID, date, date)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, shared.ErrNotFound
	}
	return days[0], nil
}

// SaveDay upserts the record and adds its completions. Stored completions
// are never removed, so the stored set is the union of all saves.
func (r *ProgressRepository) SaveDay(ctx context.Context, day *progress.DailyRecord) error {
	upsert := `
		INSERT INTO daily_records (
			user_id, activity_date, experience_earned, bonus_experience,
			scheduled_activity_ids, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, activity_date) DO UPDATE SET
			experience_earned = EXCLUDED.experience_earned,
			bonus_experience = EXCLUDED.bonus_experience,
			scheduled_activity_ids = EXCLUDED.scheduled_activity_ids,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	batch.Queue(upsert,
		day.UserID.String(),
		day.Date.Time(),
		day.ExperienceEarned,
		day.BonusExperience,
		activityStrings(day.Scheduled.Sorted()),
		day.CreatedAt,
		day.UpdatedAt,
	)
	for _, id := range day.Completed.Sorted() {
		batch.Queue(`
			INSERT INTO daily_completions (user_id, activity_date, activity_id, completed_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, day.UserID.String(), day.Date.Time(), id.String(), day.UpdatedAt)
	}

	results := r.q.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to save day %s: %w", day.Date, err)
		}
	}
	return results.Close()
}

// ListDays returns records with from ≤ date ≤ to, ascending by date.
func (r *ProgressRepository) ListDays(ctx context.Context, userID shared.UserID, from, to timeutil.Date) ([]*progress.DailyRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT activity_date, experience_earned, bonus_experience,
			   scheduled_activity_ids, created_at, updated_at
		FROM daily_records
		WHERE user_id = $1 AND activity_date BETWEEN $2 AND $3
		ORDER BY activity_date
	`, userID.String(), from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	defer rows.Close()

	var (
		days   []*progress.DailyRecord
		byDate = make(map[string]*progress.DailyRecord)
	)
	for rows.Next() {
		var (
			date      time.Time
			scheduled []string
			day       = &progress.DailyRecord{UserID: userID, Completed: progress.NewActivitySet()}
		)
		if err := rows.Scan(&date, &day.ExperienceEarned, &day.BonusExperience, &scheduled, &day.CreatedAt, &day.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		day.Date = timeutil.FromTime(date)
		day.Scheduled = progress.NewActivitySet(toActivityIDs(scheduled)...)
		days = append(days, day)
		byDate[day.Date.String()] = day
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	if len(days) == 0 {
		return nil, nil
	}

	completions, err := r.q.Query(ctx, `
		SELECT activity_date, activity_id
		FROM daily_completions
		WHERE user_id = $1 AND activity_date BETWEEN $2 AND $3
	`, userID.String(), from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer completions.Close()

	for completions.Next() {
		var (
			date       time.Time
			activityID string
		)
		if err := completions.Scan(&date, &activityID); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		if day, ok := byDate[timeutil.FromTime(date).String()]; ok {
			day.Completed.Add(shared.ActivityID(activityID))
		}
	}
	return days, completions.Err()
}

// PruneDays deletes records older than before. Completions follow by cascade.
func (r *ProgressRepository) PruneDays(ctx context.Context, userID shared.UserID, before timeutil.Date) (int, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM daily_records WHERE user_id = $1 AND activity_date < $2
	`, userID.String(), before.Time())
	if err != nil {
		return 0, fmt.Errorf("failed to prune days: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func activityStrings(ids []shared.ActivityID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func toActivityIDs(values []string) []shared.ActivityID {
	out := make([]shared.ActivityID, len(values))
	for i, v := range values {
		out[i] = shared.ActivityID(v)
	}
	return out
}
