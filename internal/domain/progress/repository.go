package progress

import (
	"context"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// Repository defines the storage contract for progress and daily records.
// Implementations are always used inside a per-user unit of work.
type Repository interface {
	// GetProgress returns the user's progress or shared.ErrNotFound.
	GetProgress(ctx context.Context, userID shared.UserID) (*UserProgress, error)

	// SaveProgress creates or updates p. The write is conditioned on p.Version
	// still being the stored version; on success p.Version is incremented.
	// A mismatch returns shared.ErrConcurrentUpdateConflict.
	SaveProgress(ctx context.Context, p *UserProgress) error

	// GetDay returns the record for date or shared.ErrNotFound.
	GetDay(ctx context.Context, userID shared.UserID, date timeutil.Date) (*DailyRecord, error)

	// SaveDay creates or updates a day record. Completed ids are merged by
	// union with what is stored, never replaced.
	SaveDay(ctx context.Context, day *DailyRecord) error

	// ListDays returns records with from ≤ date ≤ to, ascending by date.
	ListDays(ctx context.Context, userID shared.UserID, from, to timeutil.Date) ([]*DailyRecord, error)

	// PruneDays deletes records strictly older than before and returns how many were removed.
	PruneDays(ctx context.Context, userID shared.UserID, before timeutil.Date) (int, error)
}
