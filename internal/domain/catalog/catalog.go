// Package catalog describes the read-only content catalog the engine consumes:
// each activity's point value and recommended slot, and each routine's members.
package catalog

import (
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// Activity is a single completable unit of practice.
type Activity struct {
	ID     shared.ActivityID
	Name   string
	Points int64
	Slot   habit.TimeSlot
}

// Routine is a named, ordered bundle of activities.
type Routine struct {
	ID          shared.RoutineID
	Name        string
	Description string
	Activities  []habit.RoutineActivity
}

// Catalog is the lookup surface of the content catalog.
// Catalog data may lag behind clients, so a missing entry is not an error.
type Catalog interface {
	// Activity returns the activity with id, if the catalog knows it.
	Activity(id shared.ActivityID) (Activity, bool)

	// Routine returns the routine with id, if the catalog knows it.
	Routine(id shared.RoutineID) (Routine, bool)
}
