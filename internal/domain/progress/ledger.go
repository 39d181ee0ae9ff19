package progress

import (
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerConfig holds ledger rules.
type LedgerConfig struct {
	// ClockSkewDays is how far past today a completion date may be.
	ClockSkewDays int

	// RetentionDays is how many days of records are kept, today included.
	RetentionDays int
}

// DefaultLedgerConfig returns the default rules.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		ClockSkewDays: 1,
		RetentionDays: 30,
	}
}

// MinRetentionDays is the shortest window that still supports weekly achievements.
const MinRetentionDays = 7

// Ledger applies completions to a progress record and its day record.
// It is pure: loading and saving belong to the caller.
type Ledger struct {
	config LedgerConfig
}

// NewLedger creates a Ledger.
func NewLedger(config LedgerConfig) *Ledger {
	if config.ClockSkewDays < 0 {
		config.ClockSkewDays = 0
	}
	if config.RetentionDays < MinRetentionDays {
		config.RetentionDays = MinRetentionDays
	}
	return &Ledger{config: config}
}

// Config returns the ledger rules.
func (l *Ledger) Config() LedgerConfig {
	return l.config
}

// Completion is a single "activity completed" fact.
type Completion struct {
	ActivityID shared.ActivityID
	Points     int64
	Date       timeutil.Date
}

// CompletionOutcome describes what a completion changed.
type CompletionOutcome struct {
	// AlreadyCompleted is true when the activity was already in the day's set.
	// Nothing was changed in that case.
	AlreadyCompleted bool

	PointsAwarded  int64
	PreviousLevel  int
	PreviousStreak Streak
	Transition     StreakTransition
}

// LeveledUp reports whether the completion moved the user to a higher level.
func (o CompletionOutcome) LeveledUp(p *UserProgress) bool {
	return !o.AlreadyCompleted && p.Level > o.PreviousLevel
}

// ValidateDate rejects dates further in the future than the skew tolerance.
func (l *Ledger) ValidateDate(date, today timeutil.Date) error {
	if date.After(today.AddDays(l.config.ClockSkewDays)) {
		return shared.ErrFutureCompletion
	}
	return nil
}

// Record applies c to p and day. day must be the record for c.Date.
// A repeat of an already recorded completion succeeds without changes,
// even if its date is older than the last active day, so queued commands can
// be replayed safely. On error p and day are left untouched.
func (l *Ledger) Record(p *UserProgress, day *DailyRecord, c Completion, today timeutil.Date, now time.Time) (CompletionOutcome, error) {
	outcome := CompletionOutcome{
		PreviousLevel:  p.Level,
		PreviousStreak: p.Streak,
	}

	if c.Points < 0 {
		return outcome, shared.ErrNegativePoints
	}
	if err := l.ValidateDate(c.Date, today); err != nil {
		return outcome, err
	}

	if day.Completed.Has(c.ActivityID) {
		outcome.AlreadyCompleted = true
		outcome.Transition = StreakUnchanged
		return outcome, nil
	}

	streak, transition, err := p.Streak.Apply(c.Date)
	if err != nil {
		return outcome, err
	}

	day.Completed.Add(c.ActivityID)
	day.ExperienceEarned += c.Points
	day.UpdatedAt = now

	p.addExperience(c.Points)
	p.TotalCompletions++
	p.Streak = streak
	p.UpdatedAt = now

	outcome.PointsAwarded = c.Points
	outcome.Transition = transition
	return outcome, nil
}

// AwardExperience credits bonus points, such as an achievement reward,
// to p and the day they were earned on. Completion sets and the streak
// are not touched. It returns the level before the award.
func (l *Ledger) AwardExperience(p *UserProgress, day *DailyRecord, points int64, now time.Time) (int, error) {
	previous := p.Level
	if points < 0 {
		return previous, shared.ErrNegativePoints
	}
	if points == 0 {
		return previous, nil
	}

	day.BonusExperience += points
	day.UpdatedAt = now

	p.addExperience(points)
	p.UpdatedAt = now
	return previous, nil
}

// RetentionCutoff returns the oldest date that must be kept relative to today.
func (l *Ledger) RetentionCutoff(today timeutil.Date) timeutil.Date {
	return today.AddDays(-(l.config.RetentionDays - 1))
}
