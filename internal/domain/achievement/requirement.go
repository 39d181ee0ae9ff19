// Package achievement defines the fixed achievement catalog, its unlock
// requirements and the evaluation rules that promote locked entries.
package achievement

import (
	"fmt"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// Kind identifies a requirement variant. It is used for ordering and storage.
type Kind int

const (
	KindStreakDays Kind = iota
	KindTotalCompletions
	KindLevelReached
	KindPerfectWeek
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindStreakDays:
		return "streak_days"
	case KindTotalCompletions:
		return "total_completions"
	case KindLevelReached:
		return "level_reached"
	case KindPerfectWeek:
		return "perfect_week"
	default:
		return "unknown"
	}
}

// Requirement is a closed sum type: only the variants in this file implement it.
type Requirement interface {
	// Kind returns the variant tag.
	Kind() Kind
	// Threshold is the n of the variant.
	Threshold() int
	// Describe returns a short human readable text.
	Describe() string

	sealed()
}

// StreakDays holds when the current streak is at least N days.
type StreakDays struct{ N int }

// TotalCompletions holds when lifetime distinct completions reach N.
type TotalCompletions struct{ N int }

// LevelReached holds when the user is at level N or above.
type LevelReached struct{ N int }

// PerfectWeek holds when each of the last N days, today included, had every
// scheduled activity completed and at least one completion.
type PerfectWeek struct{ N int }

func (StreakDays) sealed()       {}
func (TotalCompletions) sealed() {}
func (LevelReached) sealed()     {}
func (PerfectWeek) sealed()      {}

func (StreakDays) Kind() Kind       { return KindStreakDays }
func (TotalCompletions) Kind() Kind { return KindTotalCompletions }
func (LevelReached) Kind() Kind     { return KindLevelReached }
func (PerfectWeek) Kind() Kind      { return KindPerfectWeek }

func (r StreakDays) Threshold() int       { return r.N }
func (r TotalCompletions) Threshold() int { return r.N }
func (r LevelReached) Threshold() int     { return r.N }
func (r PerfectWeek) Threshold() int      { return r.N }

func (r StreakDays) Describe() string       { return fmt.Sprintf("keep a %d-day streak", r.N) }
func (r TotalCompletions) Describe() string { return fmt.Sprintf("complete %d activities", r.N) }
func (r LevelReached) Describe() string     { return fmt.Sprintf("reach level %d", r.N) }
func (r PerfectWeek) Describe() string {
	return fmt.Sprintf("complete every scheduled habit %d days in a row", r.N)
}

// NewRequirement builds a requirement from its stored form.
func NewRequirement(kind string, n int) (Requirement, error) {
	if n <= 0 {
		return nil, shared.ErrInvalidRequirement
	}
	switch kind {
	case KindStreakDays.String():
		return StreakDays{N: n}, nil
	case KindTotalCompletions.String():
		return TotalCompletions{N: n}, nil
	case KindLevelReached.String():
		return LevelReached{N: n}, nil
	case KindPerfectWeek.String():
		return PerfectWeek{N: n}, nil
	default:
		return nil, shared.ErrInvalidRequirement
	}
}

// Satisfied tests req against stats.
func Satisfied(req Requirement, stats Stats) bool {
	current, target := Measure(req, stats)
	return current >= target
}

// Measure returns how far stats are toward req, as (current, target).
// current may exceed target.
func Measure(req Requirement, stats Stats) (current, target int) {
	switch r := req.(type) {
	case StreakDays:
		return stats.CurrentStreak, r.N
	case TotalCompletions:
		return clampInt(stats.TotalCompletions), r.N
	case LevelReached:
		return stats.Level, r.N
	case PerfectWeek:
		return stats.PerfectDaysEndingToday(r.N), r.N
	default:
		panic(fmt.Sprintf("achievement: unhandled requirement %T", req))
	}
}

func clampInt(v int64) int {
	const maxInt = int64(^uint(0) >> 1)
	if v > maxInt {
		return int(maxInt)
	}
	return int(v)
}
