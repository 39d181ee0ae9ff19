package progress

import (
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// StreakTransition names which branch of the streak state machine was taken.
type StreakTransition int

const (
	// StreakStarted is the first ever completion.
	StreakStarted StreakTransition = iota
	// StreakUnchanged is a completion on the already counted day.
	StreakUnchanged
	// StreakExtended is a completion on the day after the last active day.
	StreakExtended
	// StreakRestarted is a completion after one or more missed days.
	StreakRestarted
)

// String returns the transition name.
func (t StreakTransition) String() string {
	switch t {
	case StreakStarted:
		return "started"
	case StreakUnchanged:
		return "unchanged"
	case StreakExtended:
		return "extended"
	case StreakRestarted:
		return "restarted"
	default:
		return "unknown"
	}
}

// Streak is the stored streak state. Current is a write-time cache: it is only
// updated by the next completion, so readers must go through Effective.
type Streak struct {
	Current int
	Longest int
	// LastActive is nil until the first completion.
	LastActive *timeutil.Date
}

// Apply returns the streak after a completion on date d.
func (s Streak) Apply(d timeutil.Date) (Streak, StreakTransition, error) {
	if s.LastActive == nil {
		return s.moveTo(d, 1), StreakStarted, nil
	}

	last := *s.LastActive
	switch diff := d.DaysSince(last); {
	case diff < 0:
		return s, StreakUnchanged, shared.ErrBackdatedCompletion
	case diff == 0:
		return s, StreakUnchanged, nil
	case diff == 1:
		return s.moveTo(d, s.Current+1), StreakExtended, nil
	default:
		return s.moveTo(d, 1), StreakRestarted, nil
	}
}

func (s Streak) moveTo(d timeutil.Date, current int) Streak {
	last := d
	longest := s.Longest
	if current > longest {
		longest = current
	}
	return Streak{Current: current, Longest: longest, LastActive: &last}
}

// Effective returns the streak as it should be shown on today:
// zero once more than one day has passed since the last completion.
func (s Streak) Effective(today timeutil.Date) int {
	if s.LastActive == nil {
		return 0
	}
	if today.DaysSince(*s.LastActive) > 1 {
		return 0
	}
	return s.Current
}

// DaysUntilBreak returns 2 when today is already counted, 1 when the user
// must complete something today to keep the streak, and 0 when it has lapsed.
func (s Streak) DaysUntilBreak(today timeutil.Date) int {
	if s.LastActive == nil || s.Current == 0 {
		return 0
	}
	switch today.DaysSince(*s.LastActive) {
	case 0:
		return 2
	case 1:
		return 1
	default:
		return 0
	}
}

// DaysMissed returns how many whole days were skipped before d.
func (s Streak) DaysMissed(d timeutil.Date) int {
	if s.LastActive == nil {
		return 0
	}
	missed := d.DaysSince(*s.LastActive) - 1
	if missed < 0 {
		return 0
	}
	return missed
}
