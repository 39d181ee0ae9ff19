package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/habit-engine/internal/domain/catalog"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADD / REMOVE INDIVIDUAL HABIT COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// AddIndividualHabitCommand contains the data to add a single habit.
type AddIndividualHabitCommand struct {
	UserID     string
	ActivityID string

	// TimeSlot is optional; it defaults to the catalog's recommended slot,
	// or anytime when the catalog does not know the activity.
	TimeSlot string

	CorrelationID string
}

// Validate validates the command.
func (c AddIndividualHabitCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if _, err := shared.NewActivityID(c.ActivityID); err != nil {
		return err
	}
	if strings.TrimSpace(c.TimeSlot) != "" {
		if _, err := habit.ParseTimeSlot(c.TimeSlot); err != nil {
			return err
		}
	}
	return nil
}

// AddIndividualHabitResult describes the stored subscription.
type AddIndividualHabitResult struct {
	Subscription habit.Subscription

	// Changed is false when the user already had the habit individually.
	Changed bool
}

// AddIndividualHabitHandler handles the AddIndividualHabitCommand.
type AddIndividualHabitHandler struct {
	exec    *Executor
	catalog catalog.Catalog
}

// NewAddIndividualHabitHandler creates a new AddIndividualHabitHandler.
func NewAddIndividualHabitHandler(exec *Executor, content catalog.Catalog) *AddIndividualHabitHandler {
	return &AddIndividualHabitHandler{exec: exec, catalog: content}
}

// Handle executes the add command.
func (h *AddIndividualHabitHandler) Handle(ctx context.Context, cmd AddIndividualHabitCommand) (*AddIndividualHabitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("add_habit: validation failed: %w", err)
	}
	userID, _ := shared.NewUserID(cmd.UserID)
	activityID, _ := shared.NewActivityID(cmd.ActivityID)
	slot := h.slotFor(activityID, cmd.TimeSlot)

	var result *AddIndividualHabitResult
	err := h.exec.Run(ctx, "add_habit", userID, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.Habits().ListSubscriptions(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		sub, changed, err := habit.PlanAddIndividual(existing, userID, activityID, slot, h.exec.Now())
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Habits().SaveSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to save subscription: %w", err)
			}
			if err := h.exec.refreshSchedule(ctx, tx, userID); err != nil {
				return err
			}
		}
		result = &AddIndividualHabitResult{Subscription: sub, Changed: changed}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add_habit: %w", err)
	}

	if result.Changed {
		h.exec.Publish([]shared.Event{
			shared.NewHabitAddedEvent(userID, activityID, result.Subscription.TimeSlot.String(), h.exec.Now()),
		}, cmd.CorrelationID)
	}
	return result, nil
}

func (h *AddIndividualHabitHandler) slotFor(id shared.ActivityID, requested string) habit.TimeSlot {
	if strings.TrimSpace(requested) != "" {
		slot, _ := habit.ParseTimeSlot(requested)
		return slot
	}
	if h.catalog != nil {
		if a, ok := h.catalog.Activity(id); ok && a.Slot.IsValid() {
			return a.Slot
		}
	}
	return habit.SlotAnytime
}

// RemoveIndividualHabitCommand contains the data to remove a single habit.
type RemoveIndividualHabitCommand struct {
	UserID        string
	ActivityID    string
	CorrelationID string
}

// Validate validates the command.
func (c RemoveIndividualHabitCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if _, err := shared.NewActivityID(c.ActivityID); err != nil {
		return err
	}
	return nil
}

// RemoveIndividualHabitResult reports whether a subscription was removed.
type RemoveIndividualHabitResult struct {
	Removed bool
}

// RemoveIndividualHabitHandler handles the RemoveIndividualHabitCommand.
type RemoveIndividualHabitHandler struct {
	exec *Executor
}

// NewRemoveIndividualHabitHandler creates a new RemoveIndividualHabitHandler.
func NewRemoveIndividualHabitHandler(exec *Executor) *RemoveIndividualHabitHandler {
	return &RemoveIndividualHabitHandler{exec: exec}
}

// Handle executes the remove command. Only individually added habits are
// removed; routine-provided ones stay until their routine is unsubscribed.
func (h *RemoveIndividualHabitHandler) Handle(ctx context.Context, cmd RemoveIndividualHabitCommand) (*RemoveIndividualHabitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("remove_habit: validation failed: %w", err)
	}
	userID, _ := shared.NewUserID(cmd.UserID)
	activityID, _ := shared.NewActivityID(cmd.ActivityID)

	result := &RemoveIndividualHabitResult{}
	err := h.exec.Run(ctx, "remove_habit", userID, func(ctx context.Context, tx store.Tx) error {
		result.Removed = false

		existing, err := tx.Habits().ListSubscriptions(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if _, ok := habit.FindIndividual(existing, activityID); !ok {
			return nil
		}
		if err := tx.Habits().DeleteSubscription(ctx, userID, activityID); err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		if err := h.exec.refreshSchedule(ctx, tx, userID); err != nil {
			return err
		}
		result.Removed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove_habit: %w", err)
	}

	if result.Removed {
		h.exec.Publish([]shared.Event{
			shared.NewHabitRemovedEvent(userID, activityID, h.exec.Now()),
		}, cmd.CorrelationID)
	}
	return result, nil
}
