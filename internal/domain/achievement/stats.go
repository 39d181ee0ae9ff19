package achievement

import (
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// DaySnapshot is what evaluation needs to know about one ledger day.
type DaySnapshot struct {
	Date      timeutil.Date
	Completed []shared.ActivityID
	Scheduled []shared.ActivityID
}

// Perfect reports whether the day had completions covering every scheduled activity.
func (d DaySnapshot) Perfect() bool {
	if len(d.Completed) == 0 {
		return false
	}
	done := make(map[shared.ActivityID]struct{}, len(d.Completed))
	for _, id := range d.Completed {
		done[id] = struct{}{}
	}
	for _, id := range d.Scheduled {
		if _, ok := done[id]; !ok {
			return false
		}
	}
	return true
}

// Stats is the aggregate view of a user that requirements are tested against.
type Stats struct {
	Today            timeutil.Date
	CurrentStreak    int
	TotalCompletions int64
	Level            int

	days map[string]DaySnapshot
}

// NewStats builds Stats from aggregates and recent day snapshots.
func NewStats(today timeutil.Date, streak int, completions int64, level int, days []DaySnapshot) Stats {
	s := Stats{
		Today:            today,
		CurrentStreak:    streak,
		TotalCompletions: completions,
		Level:            level,
		days:             make(map[string]DaySnapshot, len(days)),
	}
	for _, d := range days {
		s.days[d.Date.String()] = d
	}
	return s
}

// WithLevel returns a copy of s with a different level. Used after rewards.
func (s Stats) WithLevel(level int) Stats {
	s.Level = level
	return s
}

// Day returns the snapshot for date, if present.
func (s Stats) Day(date timeutil.Date) (DaySnapshot, bool) {
	d, ok := s.days[date.String()]
	return d, ok
}

// PerfectDaysEndingToday counts consecutive perfect days going back from
// Today, looking at most window days back.
func (s Stats) PerfectDaysEndingToday(window int) int {
	count := 0
	for i := 0; i < window; i++ {
		d, ok := s.Day(s.Today.AddDays(-i))
		if !ok || !d.Perfect() {
			break
		}
		count++
	}
	return count
}
