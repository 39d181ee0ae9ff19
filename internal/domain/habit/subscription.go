// Package habit models the activities a user has opted into and the
// "what is due today" view built from them.
package habit

import (
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIME SLOT
// ══════════════════════════════════════════════════════════════════════════════

// TimeSlot is a coarse period of the day used to group due activities.
type TimeSlot string

const (
	SlotMorning TimeSlot = "morning"
	SlotAnytime TimeSlot = "anytime"
	SlotEvening TimeSlot = "evening"
)

// AllSlots lists the slots in display order.
var AllSlots = []TimeSlot{SlotMorning, SlotAnytime, SlotEvening}

// IsValid checks if the slot is one of the known values.
func (s TimeSlot) IsValid() bool {
	switch s {
	case SlotMorning, SlotAnytime, SlotEvening:
		return true
	}
	return false
}

// Priority is the display position: morning, then anytime, then evening.
func (s TimeSlot) Priority() int {
	switch s {
	case SlotMorning:
		return 0
	case SlotAnytime:
		return 1
	case SlotEvening:
		return 2
	default:
		return 3
	}
}

// String returns the string representation.
func (s TimeSlot) String() string {
	return string(s)
}

// ParseTimeSlot parses a slot name case-insensitively.
func ParseTimeSlot(value string) (TimeSlot, error) {
	slot := TimeSlot(strings.ToLower(strings.TrimSpace(value)))
	if !slot.IsValid() {
		return "", shared.ErrInvalidTimeSlot
	}
	return slot, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION
// ══════════════════════════════════════════════════════════════════════════════

// Subscription is one activity a user has opted into. There is at most one
// subscription per (user, activity).
type Subscription struct {
	UserID     shared.UserID
	ActivityID shared.ActivityID
	TimeSlot   TimeSlot

	// SourceRoutineID is nil for individually added habits.
	SourceRoutineID *shared.RoutineID

	SortOrder int
	CreatedAt time.Time
}

// IsIndividual reports whether the habit was added on its own.
func (s Subscription) IsIndividual() bool {
	return s.SourceRoutineID == nil
}

// FromRoutine reports whether the subscription came from routineID.
func (s Subscription) FromRoutine(routineID shared.RoutineID) bool {
	return s.SourceRoutineID != nil && *s.SourceRoutineID == routineID
}

// RoutineActivity is one member of a routine bundle.
type RoutineActivity struct {
	ActivityID shared.ActivityID `json:"activity_id" yaml:"activity_id"`
	TimeSlot   TimeSlot          `json:"time_slot" yaml:"time_slot"`
	SortOrder  int               `json:"sort_order" yaml:"sort_order"`
}

// ActivityIDs returns the activity ids of subs in input order.
func ActivityIDs(subs []Subscription) []shared.ActivityID {
	out := make([]shared.ActivityID, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.ActivityID)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TODAY'S HABITS
// ══════════════════════════════════════════════════════════════════════════════

// DueHabit is one entry of the ordered "today's habits" list.
type DueHabit struct {
	ActivityID      shared.ActivityID
	TimeSlot        TimeSlot
	SortOrder       int
	SourceRoutineID *shared.RoutineID
}

// TodaysHabits dedupes subs by activity id, then orders them by slot
// (morning, anytime, evening) and by sort order within a slot.
// When an individual and a routine subscription share an activity, the
// individual one wins.
func TodaysHabits(subs []Subscription) []DueHabit {
	byActivity := make(map[shared.ActivityID]Subscription, len(subs))
	for _, s := range subs {
		current, seen := byActivity[s.ActivityID]
		if !seen || prefer(s, current) {
			byActivity[s.ActivityID] = s
		}
	}

	out := make([]DueHabit, 0, len(byActivity))
	for _, s := range byActivity {
		out = append(out, DueHabit{
			ActivityID:      s.ActivityID,
			TimeSlot:        s.TimeSlot,
			SortOrder:       s.SortOrder,
			SourceRoutineID: s.SourceRoutineID,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].TimeSlot.Priority(), out[j].TimeSlot.Priority()
		if pi != pj {
			return pi < pj
		}
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ActivityID < out[j].ActivityID
	})
	return out
}

// prefer reports whether candidate should replace current for the same activity.
func prefer(candidate, current Subscription) bool {
	if candidate.IsIndividual() != current.IsIndividual() {
		return candidate.IsIndividual()
	}
	return candidate.SortOrder < current.SortOrder
}

// ══════════════════════════════════════════════════════════════════════════════
// PLANNING
// ══════════════════════════════════════════════════════════════════════════════

// PlanSubscribe returns the subscriptions to insert for a routine, skipping
// activities the user already has and duplicates within the routine itself.
func PlanSubscribe(existing []Subscription, userID shared.UserID, routineID shared.RoutineID, activities []RoutineActivity, now time.Time) ([]Subscription, error) {
	if len(activities) == 0 {
		return nil, shared.ErrEmptyRoutine
	}

	have := make(map[shared.ActivityID]struct{}, len(existing)+len(activities))
	for _, s := range existing {
		have[s.ActivityID] = struct{}{}
	}

	source := routineID
	var out []Subscription
	for _, a := range activities {
		if !a.ActivityID.IsValid() {
			return nil, shared.ErrInvalidActivityID
		}
		if !a.TimeSlot.IsValid() {
			return nil, shared.ErrInvalidTimeSlot
		}
		if _, ok := have[a.ActivityID]; ok {
			continue
		}
		have[a.ActivityID] = struct{}{}
		out = append(out, Subscription{
			UserID:          userID,
			ActivityID:      a.ActivityID,
			TimeSlot:        a.TimeSlot,
			SourceRoutineID: &source,
			SortOrder:       a.SortOrder,
			CreatedAt:       now,
		})
	}
	return out, nil
}

// PlanUnsubscribe returns the activities whose subscription came from routineID.
func PlanUnsubscribe(existing []Subscription, routineID shared.RoutineID) []shared.ActivityID {
	var out []shared.ActivityID
	for _, s := range existing {
		if s.FromRoutine(routineID) {
			out = append(out, s.ActivityID)
		}
	}
	return out
}

// PlanAddIndividual returns the subscription to store for an individually
// added habit. An existing routine subscription for the same activity is
// converted to individual so it survives unsubscribing the routine. The
// boolean is false when the user already has the habit individually.
func PlanAddIndividual(existing []Subscription, userID shared.UserID, activityID shared.ActivityID, slot TimeSlot, now time.Time) (Subscription, bool, error) {
	if !activityID.IsValid() {
		return Subscription{}, false, shared.ErrInvalidActivityID
	}
	if !slot.IsValid() {
		return Subscription{}, false, shared.ErrInvalidTimeSlot
	}

	maxOrder := -1
	for _, s := range existing {
		if s.ActivityID == activityID {
			if s.IsIndividual() {
				return s, false, nil
			}
			converted := s
			converted.SourceRoutineID = nil
			converted.TimeSlot = slot
			return converted, true, nil
		}
		if s.TimeSlot == slot && s.SortOrder > maxOrder {
			maxOrder = s.SortOrder
		}
	}

	return Subscription{
		UserID:     userID,
		ActivityID: activityID,
		TimeSlot:   slot,
		SortOrder:  maxOrder + 1,
		CreatedAt:  now,
	}, true, nil
}

// FindIndividual returns the individual subscription for activityID, if any.
func FindIndividual(existing []Subscription, activityID shared.ActivityID) (Subscription, bool) {
	for _, s := range existing {
		if s.ActivityID == activityID && s.IsIndividual() {
			return s, true
		}
	}
	return Subscription{}, false
}
