package habit

import (
	"context"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// Repository defines the storage contract for habit subscriptions.
type Repository interface {
	// ListSubscriptions returns every subscription of the user.
	ListSubscriptions(ctx context.Context, userID shared.UserID) ([]Subscription, error)

	// SaveSubscription inserts s or replaces the row for (user, activity).
	SaveSubscription(ctx context.Context, s Subscription) error

	// DeleteSubscription removes the row for (user, activity). Missing rows are not an error.
	DeleteSubscription(ctx context.Context, userID shared.UserID, activityID shared.ActivityID) error

	// DeleteByRoutine removes rows whose source routine is routineID
	// and returns their activity ids.
	DeleteByRoutine(ctx context.Context, userID shared.UserID, routineID shared.RoutineID) ([]shared.ActivityID, error)
}
