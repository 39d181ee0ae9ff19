package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/config"
	"github.com/alem-hub/habit-engine/internal/app"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/habit-engine/internal/interface/http/handlers"
	"github.com/alem-hub/habit-engine/pkg/logger"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

type testServer struct {
	app    *app.App
	server *Server
	store  *memory.Store
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()

	cfg := &config.Config{
		App:      config.AppConfig{Environment: config.EnvDevelopment},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Engine: config.EngineConfig{
			Location:      time.UTC,
			ClockSkewDays: 1,
			RetentionDays: 30,
			MaxAttempts:   2,
			RetryDelay:    time.Millisecond,
		},
		Features: config.LoadFeatureFlags(),
	}
	st := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	a, err := app.New(context.Background(), cfg, app.Options{Clock: clock, Logger: logger.Nop(), Store: st})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	health := handlers.NewCompositeHealthChecker("test")
	for _, hc := range a.HealthChecks {
		if hc.Breaker != nil {
			health.Register(hc.Name, handlers.StoreProbe(hc.Ping, hc.Breaker))
			continue
		}
		health.Register(hc.Name, handlers.PingProbe(hc.Ping))
	}

	serverCfg := DefaultConfig()
	serverCfg.RateLimit = 0
	if mutate != nil {
		mutate(&serverCfg)
	}

	srv := NewServer(serverCfg, Dependencies{
		RecordCompletion:       a.Commands.RecordCompletion,
		SubscribeToRoutine:     a.Commands.SubscribeToRoutine,
		UnsubscribeFromRoutine: a.Commands.UnsubscribeFromRoutine,
		AddIndividualHabit:     a.Commands.AddIndividualHabit,
		RemoveIndividualHabit:  a.Commands.RemoveIndividualHabit,
		EvaluateAchievements:   a.Commands.EvaluateAchievements,
		GetTodaysHabits:        a.Queries.GetTodaysHabits,
		GetProgressSummary:     a.Queries.GetProgressSummary,
		GetNextAchievement:     a.Queries.GetNextAchievement,
		Logger:                 logger.Nop(),
		Metrics:                a.Metrics,
		HealthChecker:          health,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testServer{app: a, server: srv, store: st}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestRecordCompletionEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/users/u1/completions", `{"activityId":"mindful-walk"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, rec.Header().Get("X-Request-ID"))

	var first recordCompletionResponse
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.Equal(t, "2026-03-01", first.Date)
	assert.Equal(t, int64(25), first.PointsAwarded)
	assert.Equal(t, 1, first.CurrentStreak)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/users/u1/completions", `{"activityId":"mindful-walk"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var second recordCompletionResponse
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.True(t, second.AlreadyCompletedToday)
	assert.Equal(t, int64(0), second.PointsAwarded)
	assert.Equal(t, first.TotalExperience, second.TotalExperience)
}

func TestRecordCompletionErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"future date", `{"activityId":"mindful-walk","date":"2026-03-05"}`, http.StatusBadRequest, "invalid_date"},
		{"malformed date", `{"activityId":"mindful-walk","date":"March 1"}`, http.StatusBadRequest, "invalid_date"},
		{"missing activity", `{}`, http.StatusBadRequest, "invalid_input"},
		{"negative points", `{"activityId":"x","points":-1}`, http.StatusBadRequest, "invalid_input"},
		{"unknown field", `{"activity":"mindful-walk"}`, http.StatusBadRequest, "invalid_body"},
		{"bad json", `{`, http.StatusBadRequest, "invalid_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := ts.do(t, http.MethodPost, "/api/v1/users/u1/completions", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestStoreUnavailableMapsTo503(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.SetCommitHook(func(shared.UserID) error {
		return shared.WrapError("store", "Commit", shared.ErrStorageUnavailable, "store is down", nil)
	})

	rec, env := ts.do(t, http.MethodPost, "/api/v1/users/u1/completions", `{"activityId":"mindful-walk"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "storage_unavailable", env.Error.Code)
}

func TestConflictMapsTo409(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.SetCommitHook(func(shared.UserID) error { return shared.ErrStoreConflict })

	rec, env := ts.do(t, http.MethodPost, "/api/v1/users/u1/habits", `{"activityId":"mindful-walk"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env.Error.Code)
}

func TestSubscriptionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/users/u1/routines/dawn-devotion", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sub routineChangeResponse
	require.NoError(t, json.Unmarshal(env.Data, &sub))
	assert.Equal(t, []string{"morning-prayer", "scripture-reading"}, sub.Added)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/users/u1/routines/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/users/u1/habits", `{"activityId":"gratitude-journal","timeSlot":"evening"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added habitResponse
	require.NoError(t, json.Unmarshal(env.Data, &added))
	assert.Equal(t, "evening", added.TimeSlot)
	assert.Nil(t, added.RoutineID)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/users/u1/habits", `{"activityId":"gratitude-journal","timeSlot":"noon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/users/u1/habits/today", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var today struct {
		Habits []struct {
			ActivityID string `json:"activity_id"`
		} `json:"habits"`
		TotalCount int `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &today))
	assert.Equal(t, 3, today.TotalCount)

	rec, env = ts.do(t, http.MethodDelete, "/api/v1/users/u1/habits/gratitude-journal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":true}`, string(env.Data))

	rec, env = ts.do(t, http.MethodDelete, "/api/v1/users/u1/routines/dawn-devotion", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var unsub routineChangeResponse
	require.NoError(t, json.Unmarshal(env.Data, &unsub))
	assert.ElementsMatch(t, []string{"morning-prayer", "scripture-reading"}, unsub.Removed)
}

func TestProgressAndAchievementEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/users/u1/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty struct {
		Level            int   `json:"level"`
		TotalCompletions int64 `json:"total_completions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &empty))
	assert.Equal(t, 1, empty.Level)
	assert.Zero(t, empty.TotalCompletions)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/users/u1/completions", `{"activityId":"act-of-kindness"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/v1/users/u1/progress?fresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		TotalCompletions int64 `json:"total_completions"`
		CurrentStreak    int   `json:"current_streak"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, int64(1), summary.TotalCompletions)
	assert.Equal(t, 1, summary.CurrentStreak)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/users/u1/achievements/next", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/v1/users/u1/achievements/evaluate", `{"evaluateAll":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var evaluated evaluateResponse
	require.NoError(t, json.Unmarshal(env.Data, &evaluated))
	assert.NotNil(t, evaluated.Unlocked)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = ts.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.server.deps.HealthChecker.Register("redis", handlers.PingProbe(func(context.Context) error { return errors.New("down") }))
	rec, env = ts.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", env.Error.Code)

	ts.do(t, http.MethodGet, "/api/v1/users/u1/progress", "")
	rec, _ = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/users/{userID}/progress"`)

	rec, env = ts.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.RateLimit = 1
		c.RateBurst = 1
	})

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/users/u1/progress", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/users/u1/progress", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", env.Error.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health probes are not limited.
	rec, _ = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 16 })

	rec, env := ts.do(t, http.MethodPost, "/api/v1/users/u1/completions", `{"activityId":"mindful-walk"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", env.Error.Code)
}

func TestClassifyError(t *testing.T) {
	status, code := classifyError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_server_error", code)

	status, _ = classifyError(context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
