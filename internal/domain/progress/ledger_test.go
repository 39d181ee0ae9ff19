package progress

import (
	"testing"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newFixture() (*Ledger, *UserProgress) {
	return NewLedger(DefaultLedgerConfig()), NewUserProgress("user-1", testNow)
}

func TestLedgerRecordIsIdempotentPerDay(t *testing.T) {
	ledger, p := newFixture()
	today := date("2026-04-01")
	day := NewDailyRecord(p.UserID, today, nil, testNow)

	c := Completion{ActivityID: "morning-prayer", Points: 60, Date: today}

	first, err := ledger.Record(p, day, c, today, testNow)
	require.NoError(t, err)
	assert.False(t, first.AlreadyCompleted)
	assert.EqualValues(t, 60, first.PointsAwarded)

	second, err := ledger.Record(p, day, c, today, testNow)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.EqualValues(t, 0, second.PointsAwarded)

	assert.EqualValues(t, 60, p.TotalExperience)
	assert.EqualValues(t, 60, day.ExperienceEarned)
	assert.EqualValues(t, 1, p.TotalCompletions)
	assert.Equal(t, 1, day.Completed.Len())
	assert.Equal(t, 1, p.Streak.Current)
}

func TestLedgerRecordDistinctActivitiesSameDay(t *testing.T) {
	ledger, p := newFixture()
	today := date("2026-04-01")
	day := NewDailyRecord(p.UserID, today, nil, testNow)

	for _, id := range []shared.ActivityID{"a", "b", "c"} {
		_, err := ledger.Record(p, day, Completion{ActivityID: id, Points: 40, Date: today}, today, testNow)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 120, p.TotalExperience)
	assert.Equal(t, 2, p.Level)
	assert.EqualValues(t, 3, p.TotalCompletions)
	assert.Equal(t, 1, p.Streak.Current)
}

func TestLedgerRejectsFarFutureDates(t *testing.T) {
	ledger, p := newFixture()
	today := date("2026-04-01")

	tomorrow := today.AddDays(1)
	_, err := ledger.Record(p, NewDailyRecord(p.UserID, tomorrow, nil, testNow),
		Completion{ActivityID: "a", Points: 10, Date: tomorrow}, today, testNow)
	assert.NoError(t, err, "one day of skew is tolerated")

	later := today.AddDays(2)
	day := NewDailyRecord(p.UserID, later, nil, testNow)
	_, err = ledger.Record(p, day, Completion{ActivityID: "b", Points: 10, Date: later}, today, testNow)
	assert.ErrorIs(t, err, shared.ErrInvalidDate)
	assert.Equal(t, 0, day.Completed.Len())
	assert.EqualValues(t, 10, p.TotalExperience)
}

func TestLedgerRejectsBackdatedWithoutSideEffects(t *testing.T) {
	ledger, p := newFixture()
	today := date("2026-04-05")
	_, err := ledger.Record(p, NewDailyRecord(p.UserID, today, nil, testNow),
		Completion{ActivityID: "a", Points: 10, Date: today}, today, testNow)
	require.NoError(t, err)

	earlier := date("2026-04-03")
	day := NewDailyRecord(p.UserID, earlier, nil, testNow)
	_, err = ledger.Record(p, day, Completion{ActivityID: "b", Points: 10, Date: earlier}, today, testNow)

	assert.ErrorIs(t, err, shared.ErrInvalidDate)
	assert.Equal(t, 0, day.Completed.Len())
	assert.EqualValues(t, 10, p.TotalExperience)
	assert.EqualValues(t, 1, p.TotalCompletions)
}

func TestLedgerReplayOfOldCompletionIsHarmless(t *testing.T) {
	ledger, p := newFixture()
	d1 := date("2026-04-01")
	d2 := date("2026-04-02")
	day1 := NewDailyRecord(p.UserID, d1, nil, testNow)

	_, err := ledger.Record(p, day1, Completion{ActivityID: "a", Points: 10, Date: d1}, d1, testNow)
	require.NoError(t, err)
	_, err = ledger.Record(p, NewDailyRecord(p.UserID, d2, nil, testNow), Completion{ActivityID: "a", Points: 10, Date: d2}, d2, testNow)
	require.NoError(t, err)

	outcome, err := ledger.Record(p, day1, Completion{ActivityID: "a", Points: 10, Date: d1}, d2, testNow)
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyCompleted)
	assert.EqualValues(t, 20, p.TotalExperience)
}

func TestLedgerRejectsNegativePoints(t *testing.T) {
	ledger, p := newFixture()
	today := date("2026-04-01")
	_, err := ledger.Record(p, NewDailyRecord(p.UserID, today, nil, testNow),
		Completion{ActivityID: "a", Points: -5, Date: today}, today, testNow)
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
}

func TestLedgerAwardExperience(t *testing.T) {
	ledger, p := newFixture()
	today := date("2026-04-01")
	day := NewDailyRecord(p.UserID, today, nil, testNow)

	_, err := ledger.Record(p, day, Completion{ActivityID: "a", Points: 90, Date: today}, today, testNow)
	require.NoError(t, err)

	previous, err := ledger.AwardExperience(p, day, 25, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, previous)
	assert.Equal(t, 2, p.Level)
	assert.EqualValues(t, 115, p.TotalExperience)
	assert.EqualValues(t, 90, day.ExperienceEarned)
	assert.EqualValues(t, 25, day.BonusExperience)
	assert.EqualValues(t, 115, day.TotalExperience())
	assert.EqualValues(t, 1, p.TotalCompletions, "awards are not completions")
	assert.Equal(t, 1, day.Completed.Len())
}

func TestLedgerRetentionCutoff(t *testing.T) {
	ledger := NewLedger(LedgerConfig{ClockSkewDays: 1, RetentionDays: 3})
	assert.Equal(t, MinRetentionDays, ledger.Config().RetentionDays)
	assert.Equal(t, "2026-04-04", ledger.RetentionCutoff(date("2026-04-10")).String())
}

func TestDailyRecordIsPerfect(t *testing.T) {
	day := NewDailyRecord("u", date("2026-04-01"), NewActivitySet("a", "b"), testNow)
	assert.False(t, day.IsPerfect())

	day.Completed.Add("a")
	assert.False(t, day.IsPerfect())

	day.Completed.Add("b")
	day.Completed.Add("extra")
	assert.True(t, day.IsPerfect())

	empty := NewDailyRecord("u", date("2026-04-01"), nil, testNow)
	assert.False(t, empty.IsPerfect(), "nothing completed is never perfect")
	empty.Completed.Add("x")
	assert.True(t, empty.IsPerfect())
}
