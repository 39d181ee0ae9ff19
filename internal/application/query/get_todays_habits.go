package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/habit-engine/internal/domain/catalog"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TODAY'S HABITS QUERY
// The deduplicated, slot-ordered list of what is due today, with the
// completion state of each entry.
// ══════════════════════════════════════════════════════════════════════════════

// GetTodaysHabitsQuery contains the query parameters.
type GetTodaysHabitsQuery struct {
	UserID string
}

// HabitDTO is one due habit.
type HabitDTO struct {
	ActivityID string  `json:"activity_id"`
	Name       string  `json:"name,omitempty"`
	TimeSlot   string  `json:"time_slot"`
	SortOrder  int     `json:"sort_order"`
	Points     int64   `json:"points"`
	RoutineID  *string `json:"routine_id,omitempty"`
	Completed  bool    `json:"completed"`
}

// SlotGroupDTO groups due habits of one slot.
type SlotGroupDTO struct {
	TimeSlot string     `json:"time_slot"`
	Habits   []HabitDTO `json:"habits"`
}

// TodaysHabitsDTO is the result of GetTodaysHabitsQuery.
type TodaysHabitsDTO struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`

	// Habits is the flat ordered list: morning, anytime, evening.
	Habits []HabitDTO `json:"habits"`

	// Slots holds the same entries grouped by slot, empty slots omitted.
	Slots []SlotGroupDTO `json:"slots"`

	CompletedCount int `json:"completed_count"`
	TotalCount     int `json:"total_count"`
}

// GetTodaysHabitsHandler handles GetTodaysHabitsQuery.
type GetTodaysHabitsHandler struct {
	reader  *Reader
	catalog catalog.Catalog
}

// NewGetTodaysHabitsHandler creates a new GetTodaysHabitsHandler. content may be nil.
func NewGetTodaysHabitsHandler(reader *Reader, content catalog.Catalog) *GetTodaysHabitsHandler {
	return &GetTodaysHabitsHandler{reader: reader, catalog: content}
}

// Handle executes the query.
func (h *GetTodaysHabitsHandler) Handle(ctx context.Context, q GetTodaysHabitsQuery) (*TodaysHabitsDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_todays_habits: %w", err)
	}

	var (
		subs []habit.Subscription
		done progress.ActivitySet
		dto  = &TodaysHabitsDTO{UserID: userID.String()}
	)
	err = h.reader.Read(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		p, err := loadProgress(ctx, tx, userID)
		if err != nil {
			return err
		}
		today := h.reader.Today(p)
		dto.Date = today.String()

		subs, err = tx.Habits().ListSubscriptions(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		day, err := tx.Progress().GetDay(ctx, userID, today)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			done = progress.NewActivitySet()
		case err != nil:
			return fmt.Errorf("failed to load day: %w", err)
		default:
			done = day.Completed
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_todays_habits: %w", err)
	}

	bySlot := make(map[habit.TimeSlot][]HabitDTO)
	for _, due := range habit.TodaysHabits(subs) {
		item := HabitDTO{
			ActivityID: due.ActivityID.String(),
			TimeSlot:   due.TimeSlot.String(),
			SortOrder:  due.SortOrder,
			Completed:  done.Has(due.ActivityID),
		}
		if due.SourceRoutineID != nil {
			id := due.SourceRoutineID.String()
			item.RoutineID = &id
		}
		if h.catalog != nil {
			if a, ok := h.catalog.Activity(due.ActivityID); ok {
				item.Name = a.Name
				item.Points = a.Points
			}
		}
		if item.Completed {
			dto.CompletedCount++
		}
		dto.Habits = append(dto.Habits, item)
		bySlot[due.TimeSlot] = append(bySlot[due.TimeSlot], item)
	}
	dto.TotalCount = len(dto.Habits)

	for _, slot := range habit.AllSlots {
		if items := bySlot[slot]; len(items) > 0 {
			dto.Slots = append(dto.Slots, SlotGroupDTO{TimeSlot: slot.String(), Habits: items})
		}
	}
	if dto.Habits == nil {
		dto.Habits = []HabitDTO{}
	}
	if dto.Slots == nil {
		dto.Slots = []SlotGroupDTO{}
	}
	return dto, nil
}
