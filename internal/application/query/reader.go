// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// Reader is shared by all query handlers: it runs reads against a consistent
// snapshot and resolves the user's "today" on the server clock.
type Reader struct {
	store    store.Store
	clock    timeutil.Clock
	location *time.Location
}

// NewReader creates a Reader. A nil clock means the system clock and a nil
// location means timeutil.DefaultLocation.
func NewReader(st store.Store, clock timeutil.Clock, location *time.Location) *Reader {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if location == nil {
		location = timeutil.DefaultLocation
	}
	return &Reader{store: st, clock: clock, location: location}
}

// Today returns the user's local date. p may be nil for users without progress.
func (r *Reader) Today(p *progress.UserProgress) timeutil.Date {
	return timeutil.Today(r.clock, p.Location(r.location))
}

// TodayIn returns the local date for an IANA timezone name.
func (r *Reader) TodayIn(timezone string) timeutil.Date {
	loc := r.location
	if timezone != "" {
		if l, err := timeutil.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	return timeutil.Today(r.clock, loc)
}

// Read runs fn against a snapshot of the user's records.
func (r *Reader) Read(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	return r.store.Read(ctx, userID, fn)
}

// loadProgress returns nil without error for users without progress.
func loadProgress(ctx context.Context, tx store.Tx, userID shared.UserID) (*progress.UserProgress, error) {
	p, err := tx.Progress().GetProgress(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	return p, nil
}
