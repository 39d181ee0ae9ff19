package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	q Querier
}

// NewAchievementRepository creates an AchievementRepository bound to q.
func NewAchievementRepository(q Querier) *AchievementRepository {
	return &AchievementRepository{q: q}
}

// ListUnlocks returns the user's unlocks, oldest first.
func (r *AchievementRepository) ListUnlocks(ctx context.Context, userID shared.UserID) ([]achievement.Unlock, error) {
	rows, err := r.q.Query(ctx, `
		SELECT achievement_id, unlocked_at, experience_reward
		FROM achievement_unlocks
		WHERE user_id = $1
		ORDER BY unlocked_at, achievement_id
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	defer rows.Close()

	var unlocks []achievement.Unlock
	for rows.Next() {
		var (
			u  = achievement.Unlock{UserID: userID}
			id string
		)
		if err := rows.Scan(&id, &u.UnlockedAt, &u.ExperienceReward); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		u.AchievementID = shared.AchievementID(id)
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// InsertUnlock records u unless the achievement is already unlocked.
func (r *AchievementRepository) InsertUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO achievement_unlocks (user_id, achievement_id, unlocked_at, experience_reward)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`, u.UserID.String(), u.AchievementID.String(), u.UnlockedAt, u.ExperienceReward)
	if err != nil {
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
