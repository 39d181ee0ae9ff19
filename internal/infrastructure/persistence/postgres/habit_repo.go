package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HABIT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// HabitRepository implements habit.Repository for PostgreSQL.
type HabitRepository struct {
	q Querier
}

// NewHabitRepository creates a HabitRepository bound to q.
func NewHabitRepository(q Querier) *HabitRepository {
	return &HabitRepository{q: q}
}

// ListSubscriptions returns every subscription of the user ordered by activity.
func (r *HabitRepository) ListSubscriptions(ctx context.Context, userID shared.UserID) ([]habit.Subscription, error) {
	rows, err := r.q.Query(ctx, `
		SELECT activity_id, time_slot, source_routine_id, sort_order, created_at
		FROM habit_subscriptions
		WHERE user_id = $1
		ORDER BY activity_id
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]habit.Subscription, 0)
	for rows.Next() {
		var (
			s          = habit.Subscription{UserID: userID}
			activityID string
			slot       string
			routineID  *string
		)
		if err := rows.Scan(&activityID, &slot, &routineID, &s.SortOrder, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		s.ActivityID = shared.ActivityID(activityID)
		s.TimeSlot = habit.TimeSlot(slot)
		if routineID != nil {
			id := shared.RoutineID(*routineID)
			s.SourceRoutineID = &id
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// SaveSubscription inserts s or replaces the row for (user, activity).
func (r *HabitRepository) SaveSubscription(ctx context.Context, s habit.Subscription) error {
	var routineID *string
	if s.SourceRoutineID != nil {
		id := s.SourceRoutineID.String()
		routineID = &id
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO habit_subscriptions (user_id, activity_id, time_slot, source_routine_id, sort_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, activity_id) DO UPDATE SET
			time_slot = EXCLUDED.time_slot,
			source_routine_id = EXCLUDED.source_routine_id,
			sort_order = EXCLUDED.sort_order
	`, s.UserID.String(), s.ActivityID.String(), s.TimeSlot.String(), routineID, s.SortOrder, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes the row for (user, activity).
func (r *HabitRepository) DeleteSubscription(ctx context.Context, userID shared.UserID, activityID shared.ActivityID) error {
	_, err := r.q.Exec(ctx, `
		DELETE FROM habit_subscriptions WHERE user_id = $1 AND activity_id = $2
	`, userID.String(), activityID.String())
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// DeleteByRoutine removes the rows a routine provided.
func (r *HabitRepository) DeleteByRoutine(ctx context.Context, userID shared.UserID, routineID shared.RoutineID) ([]shared.ActivityID, error) {
	rows, err := r.q.Query(ctx, `
		DELETE FROM habit_subscriptions
		WHERE user_id = $1 AND source_routine_id = $2
		RETURNING activity_id
	`, userID.String(), routineID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to delete routine subscriptions: %w", err)
	}
	defer rows.Close()

	var removed []shared.ActivityID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan activity id: %w", err)
		}
		removed = append(removed, shared.ActivityID(id))
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed, rows.Err()
}
