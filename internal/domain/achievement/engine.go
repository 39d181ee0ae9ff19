package achievement

import (
	"context"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine evaluates a catalog against user stats.
type Engine struct {
	catalog *Catalog
}

// NewEngine creates an Engine over catalog. A nil catalog means the default one.
func NewEngine(catalog *Catalog) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{catalog: catalog}
}

// Catalog returns the catalog the engine evaluates.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// UnlockedSet is the set of achievement ids a user already holds.
type UnlockedSet map[shared.AchievementID]struct{}

// NewUnlockedSet builds a set from unlock rows.
func NewUnlockedSet(unlocks []Unlock) UnlockedSet {
	s := make(UnlockedSet, len(unlocks))
	for _, u := range unlocks {
		s[u.AchievementID] = struct{}{}
	}
	return s
}

// Has reports whether id is unlocked.
func (s UnlockedSet) Has(id shared.AchievementID) bool {
	_, ok := s[id]
	return ok
}

// Evaluate returns the first locked achievement, in catalog order, whose
// requirement holds. At most one is returned per call; nil means none.
func (e *Engine) Evaluate(stats Stats, unlocked UnlockedSet) *Achievement {
	for _, a := range e.catalog.entries {
		if unlocked.Has(a.ID) {
			continue
		}
		if Satisfied(a.Requirement, stats) {
			found := a
			return &found
		}
	}
	return nil
}

// Candidate is a locked achievement with the user's progress toward it.
type Candidate struct {
	Achievement Achievement
	Current     int
	Target      int
}

// Percent returns completion toward the target, capped at 100.
func (c Candidate) Percent() float64 {
	if c.Target <= 0 || c.Current >= c.Target {
		return 100
	}
	if c.Current <= 0 {
		return 0
	}
	return float64(c.Current) / float64(c.Target) * 100
}

// Next returns the nearest locked achievement: the first in catalog order
// that is not yet satisfied. ok is false when everything is unlocked or
// already earned and waiting for evaluation.
func (e *Engine) Next(stats Stats, unlocked UnlockedSet) (Candidate, bool) {
	for _, a := range e.catalog.entries {
		if unlocked.Has(a.ID) {
			continue
		}
		current, target := Measure(a.Requirement, stats)
		if current >= target {
			continue
		}
		return Candidate{Achievement: a, Current: current, Target: target}, true
	}
	return Candidate{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines the storage contract for per-user unlock state.
type Repository interface {
	// ListUnlocks returns every unlock of the user, oldest first.
	ListUnlocks(ctx context.Context, userID shared.UserID) ([]Unlock, error)

	// InsertUnlock stores u unless the user already holds that achievement.
	// It reports whether a row was inserted; an existing unlock is never
	// overwritten.
	InsertUnlock(ctx context.Context, u Unlock) (bool, error)
}
