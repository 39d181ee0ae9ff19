package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{shared.ErrStoreConflict, "conflict"},
		{fmt.Errorf("wrap: %w", shared.WrapError("store", "Commit", shared.ErrStorageUnavailable, "store is down", nil)), "unavailable"},
		{shared.ErrFutureCompletion, "invalid"},
		{shared.ErrRoutineNotFound, "not_found"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err), "%v", tt.err)
	}
}

func TestCommandAndEventMetrics(t *testing.T) {
	m := New()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	m.CommandFinished("record_completion", nil, 1, 3*time.Millisecond)
	m.CommandFinished("record_completion", shared.ErrStoreConflict, 3, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("record_completion", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("record_completion", "conflict")))

	m.RecordEvent(shared.NewCompletionRecordedEvent("u1", "walk", "2026-03-01", 25, 25, at))
	m.RecordEvent(shared.NewAchievementUnlockedEvent("u1", "streak-1", "First Step", 10, at))
	m.RecordEvent(shared.NewLevelUpEvent("u1", 1, 3, 300, at))
	m.RecordEvent(shared.NewStreakResetEvent("u1", 4, 2, at))
	m.RecordEvent(shared.NewHabitRemovedEvent("u1", "walk", at))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.completionsTotal))
	assert.Equal(t, 35.0, testutil.ToFloat64(m.experienceTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unlocksTotal.WithLabelValues("streak-1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.levelUpsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streakResets))

	m.EventPublished("progress.level_up")
	m.EventHandled("progress.level_up", time.Millisecond, errors.New("x"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("progress.level_up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerFailures.WithLabelValues("progress.level_up")))

	m.BreakerStateChanged("store", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("store")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP("/api/v1/users/{userID}/progress", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.RateLimited()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(body, `habit_engine_http_requests_total{method="GET",route="/api/v1/users/{userID}/progress",status="200"} 1`))
	assert.Contains(t, body, "habit_engine_http_rate_limited_total 1")
	assert.Contains(t, body, "go_goroutines")
}
