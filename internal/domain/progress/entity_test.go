package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMoveTimezone(t *testing.T) {
	p := NewUserProgress("user-1", testNow)
	assert.True(t, p.MoveTimezone("Asia/Almaty", testNow, time.UTC), "a user with no activity may move freely")
	assert.True(t, p.MoveTimezone("Pacific/Auckland", testNow, time.UTC))
	assert.Equal(t, "Pacific/Auckland", p.Timezone)
	assert.False(t, p.MoveTimezone("Mars/Olympus", testNow, time.UTC))
	assert.Equal(t, "Pacific/Auckland", p.Timezone)

	// Active on the current local day: the zone stays until tomorrow.
	active := NewUserProgress("user-2", testNow)
	last := date("2026-04-01")
	active.Streak = Streak{Current: 1, Longest: 1, LastActive: &last}
	assert.False(t, active.MoveTimezone("Pacific/Auckland", testNow, time.UTC))
	assert.Empty(t, active.Timezone)
	assert.True(t, active.MoveTimezone("", testNow, time.UTC), "staying put is always allowed")

	next := testNow.Add(24 * time.Hour)
	assert.True(t, active.MoveTimezone("Pacific/Auckland", next, time.UTC))
	assert.Equal(t, "Pacific/Auckland", active.Timezone)
}

func TestMoveTimezoneNeverGoesBehindLastActive(t *testing.T) {
	// 10:30 UTC is 00:30 on April 2nd in Kiritimati and 23:30 on March 31st
	// in Pago Pago.
	now := time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC)
	last := date("2026-04-01")

	p := NewUserProgress("user-1", now)
	p.Timezone = "Pacific/Kiritimati"
	p.Streak = Streak{Current: 3, Longest: 3, LastActive: &last}

	assert.False(t, p.MoveTimezone("Pacific/Pago_Pago", now, time.UTC))
	assert.Equal(t, "Pacific/Kiritimati", p.Timezone)
	assert.True(t, p.MoveTimezone("UTC", now, time.UTC))
}
