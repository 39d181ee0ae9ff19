package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/habit-engine/internal/domain/catalog"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIBE / UNSUBSCRIBE ROUTINE COMMANDS
// A routine adds one subscription per member activity the user does not have
// yet. Unsubscribing removes only rows that came from that routine.
// ══════════════════════════════════════════════════════════════════════════════

// SubscribeToRoutineCommand contains the data to subscribe to a routine.
type SubscribeToRoutineCommand struct {
	UserID    string
	RoutineID string

	// Activities are the routine members. When empty they are taken from
	// the content catalog.
	Activities []habit.RoutineActivity

	CorrelationID string
}

// Validate validates the command.
func (c SubscribeToRoutineCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if _, err := shared.NewRoutineID(c.RoutineID); err != nil {
		return err
	}
	return nil
}

// SubscribeToRoutineResult lists what the subscription changed.
type SubscribeToRoutineResult struct {
	RoutineID shared.RoutineID `json:"routine_id"`

	// Added are the activities that got a new subscription.
	Added []shared.ActivityID `json:"added"`

	// Skipped are members the user already had.
	Skipped []shared.ActivityID `json:"skipped"`
}

// SubscribeToRoutineHandler handles the SubscribeToRoutineCommand.
type SubscribeToRoutineHandler struct {
	exec    *Executor
	catalog catalog.Catalog
}

// NewSubscribeToRoutineHandler creates a new SubscribeToRoutineHandler.
func NewSubscribeToRoutineHandler(exec *Executor, content catalog.Catalog) *SubscribeToRoutineHandler {
	return &SubscribeToRoutineHandler{exec: exec, catalog: content}
}

// Handle executes the subscribe command.
func (h *SubscribeToRoutineHandler) Handle(ctx context.Context, cmd SubscribeToRoutineCommand) (*SubscribeToRoutineResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("subscribe_routine: validation failed: %w", err)
	}
	userID, _ := shared.NewUserID(cmd.UserID)
	routineID, _ := shared.NewRoutineID(cmd.RoutineID)

	activities := cmd.Activities
	if len(activities) == 0 {
		if h.catalog == nil {
			return nil, fmt.Errorf("subscribe_routine: %w", shared.ErrEmptyRoutine)
		}
		routine, ok := h.catalog.Routine(routineID)
		if !ok {
			return nil, fmt.Errorf("subscribe_routine: %s: %w", routineID, shared.ErrRoutineNotFound)
		}
		activities = routine.Activities
	}

	var result *SubscribeToRoutineResult
	err := h.exec.Run(ctx, "subscribe_routine", userID, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.Habits().ListSubscriptions(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		added, err := habit.PlanSubscribe(existing, userID, routineID, activities, h.exec.Now())
		if err != nil {
			return err
		}
		for _, s := range added {
			if err := tx.Habits().SaveSubscription(ctx, s); err != nil {
				return fmt.Errorf("failed to save subscription %s: %w", s.ActivityID, err)
			}
		}
		if len(added) > 0 {
			if err := h.exec.refreshSchedule(ctx, tx, userID); err != nil {
				return err
			}
		}

		result = &SubscribeToRoutineResult{RoutineID: routineID, Added: habit.ActivityIDs(added)}
		isAdded := make(map[shared.ActivityID]bool, len(added))
		for _, s := range added {
			isAdded[s.ActivityID] = true
		}
		for _, a := range activities {
			if !isAdded[a.ActivityID] {
				result.Skipped = append(result.Skipped, a.ActivityID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe_routine: %w", err)
	}

	if len(result.Added) > 0 {
		h.exec.Publish([]shared.Event{
			shared.NewRoutineSubscribedEvent(userID, routineID, result.Added, h.exec.Now()),
		}, cmd.CorrelationID)
	}
	return result, nil
}

// UnsubscribeFromRoutineCommand contains the data to unsubscribe from a routine.
type UnsubscribeFromRoutineCommand struct {
	UserID        string
	RoutineID     string
	CorrelationID string
}

// Validate validates the command.
func (c UnsubscribeFromRoutineCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if _, err := shared.NewRoutineID(c.RoutineID); err != nil {
		return err
	}
	return nil
}

// UnsubscribeFromRoutineResult lists the removed activities.
type UnsubscribeFromRoutineResult struct {
	RoutineID shared.RoutineID    `json:"routine_id"`
	Removed   []shared.ActivityID `json:"removed"`
}

// UnsubscribeFromRoutineHandler handles the UnsubscribeFromRoutineCommand.
type UnsubscribeFromRoutineHandler struct {
	exec *Executor
}

// NewUnsubscribeFromRoutineHandler creates a new UnsubscribeFromRoutineHandler.
func NewUnsubscribeFromRoutineHandler(exec *Executor) *UnsubscribeFromRoutineHandler {
	return &UnsubscribeFromRoutineHandler{exec: exec}
}

// Handle executes the unsubscribe command. Unsubscribing from a routine the
// user does not follow succeeds and removes nothing.
func (h *UnsubscribeFromRoutineHandler) Handle(ctx context.Context, cmd UnsubscribeFromRoutineCommand) (*UnsubscribeFromRoutineResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("unsubscribe_routine: validation failed: %w", err)
	}
	userID, _ := shared.NewUserID(cmd.UserID)
	routineID, _ := shared.NewRoutineID(cmd.RoutineID)

	var result *UnsubscribeFromRoutineResult
	err := h.exec.Run(ctx, "unsubscribe_routine", userID, func(ctx context.Context, tx store.Tx) error {
		removed, err := tx.Habits().DeleteByRoutine(ctx, userID, routineID)
		if err != nil {
			return fmt.Errorf("failed to delete routine subscriptions: %w", err)
		}
		if len(removed) > 0 {
			if err := h.exec.refreshSchedule(ctx, tx, userID); err != nil {
				return err
			}
		}
		result = &UnsubscribeFromRoutineResult{RoutineID: routineID, Removed: removed}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unsubscribe_routine: %w", err)
	}

	if len(result.Removed) > 0 {
		h.exec.Publish([]shared.Event{
			shared.NewRoutineUnsubscribedEvent(userID, routineID, result.Removed, h.exec.Now()),
		}, cmd.CorrelationID)
	}
	return result, nil
}
