// Package progress holds the per-user progress aggregate: experience, level,
// streak and the rolling daily activity ledger.
package progress

import (
	"sort"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY SET
// ══════════════════════════════════════════════════════════════════════════════

// ActivitySet is an unordered set of activity IDs. Duplicates collapse.
type ActivitySet map[shared.ActivityID]struct{}

// NewActivitySet builds a set from ids.
func NewActivitySet(ids ...shared.ActivityID) ActivitySet {
	s := make(ActivitySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was not present before.
func (s ActivitySet) Add(id shared.ActivityID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id is in the set.
func (s ActivitySet) Has(id shared.ActivityID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of distinct ids.
func (s ActivitySet) Len() int {
	return len(s)
}

// Union adds every id of other to s.
func (s ActivitySet) Union(other ActivitySet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// ContainsAll reports whether s is a superset of other.
func (s ActivitySet) ContainsAll(other ActivitySet) bool {
	for id := range other {
		if _, ok := s[id]; !ok {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (s ActivitySet) Clone() ActivitySet {
	out := make(ActivitySet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the ids in lexical order.
func (s ActivitySet) Sorted() []shared.ActivityID {
	out := make([]shared.ActivityID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// UserProgress is the one-per-user progress record. It is created on the
// first completion and never deleted.
type UserProgress struct {
	UserID           shared.UserID
	TotalExperience  int64
	Level            int
	Streak           Streak
	TotalCompletions int64

	// Timezone is the IANA zone of the user's day boundary. Empty means the
	// configured default.
	Timezone string

	// Version increases by one on every successful save.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserProgress creates an empty progress record.
func NewUserProgress(userID shared.UserID, now time.Time) *UserProgress {
	return &UserProgress{
		UserID:    userID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Location resolves the user's timezone, falling back to fallback.
func (p *UserProgress) Location(fallback *time.Location) *time.Location {
	if p == nil || p.Timezone == "" {
		return fallback
	}
	loc, err := timeutil.LoadLocation(p.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// MoveTimezone re-homes the user's day boundary to tz at now and reports
// whether it did. A user who already completed something on the current
// local day keeps their zone until the next one, and a zone whose today is
// before the last active date is refused. Either way a calendar day can
// only be earned once.
func (p *UserProgress) MoveTimezone(tz string, now time.Time, fallback *time.Location) bool {
	if tz == p.Timezone {
		return true
	}
	loc, err := timeutil.LoadLocation(tz)
	if err != nil {
		return false
	}
	if last := p.Streak.LastActive; last != nil {
		current := timeutil.DateOf(now, p.Location(fallback))
		if !last.Before(current) {
			return false
		}
		if timeutil.DateOf(now, loc).Before(*last) {
			return false
		}
	}
	p.Timezone = tz
	return true
}

// LevelProgress returns the within-level progress of the current total.
func (p *UserProgress) LevelProgress() LevelProgress {
	return ProgressOf(p.TotalExperience)
}

// EffectiveStreak is the streak as shown on today.
func (p *UserProgress) EffectiveStreak(today timeutil.Date) int {
	return p.Streak.Effective(today)
}

// Clone returns a deep copy, so callers can mutate freely.
func (p *UserProgress) Clone() *UserProgress {
	c := *p
	if p.Streak.LastActive != nil {
		last := *p.Streak.LastActive
		c.Streak.LastActive = &last
	}
	return &c
}

// addExperience credits points and keeps the cached level in sync.
func (p *UserProgress) addExperience(points int64) {
	p.TotalExperience += points
	p.Level = Level(p.TotalExperience)
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY ACTIVITY RECORD
// ══════════════════════════════════════════════════════════════════════════════

// DailyRecord is the per-user, per-local-day ledger entry.
type DailyRecord struct {
	UserID shared.UserID
	Date   timeutil.Date

	// Completed holds each distinct activity completed that day.
	Completed ActivitySet

	// ExperienceEarned is the sum of points of the distinct completions.
	ExperienceEarned int64

	// BonusExperience is achievement rewards credited on this day.
	BonusExperience int64

	// Scheduled is the user's subscription set as of this day.
	Scheduled ActivitySet

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDailyRecord creates an empty record with the given schedule snapshot.
func NewDailyRecord(userID shared.UserID, date timeutil.Date, scheduled ActivitySet, now time.Time) *DailyRecord {
	if scheduled == nil {
		scheduled = ActivitySet{}
	}
	return &DailyRecord{
		UserID:    userID,
		Date:      date,
		Completed: ActivitySet{},
		Scheduled: scheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPerfect reports whether something was completed and every scheduled
// activity was among the completions.
func (r *DailyRecord) IsPerfect() bool {
	return r.Completed.Len() > 0 && r.Completed.ContainsAll(r.Scheduled)
}

// TotalExperience is everything credited on this day.
func (r *DailyRecord) TotalExperience() int64 {
	return r.ExperienceEarned + r.BonusExperience
}

// Clone returns a deep copy.
func (r *DailyRecord) Clone() *DailyRecord {
	c := *r
	c.Completed = r.Completed.Clone()
	c.Scheduled = r.Scheduled.Clone()
	return &c
}
