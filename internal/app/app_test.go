package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/config"
	"github.com/alem-hub/habit-engine/internal/application/command"
	"github.com/alem-hub/habit-engine/internal/application/query"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/habit-engine/pkg/circuitbreaker"
	"github.com/alem-hub/habit-engine/pkg/logger"
	"github.com/alem-hub/habit-engine/pkg/retry"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Name: "habit-engine", Environment: config.EnvDevelopment},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		HTTP:     config.HTTPConfig{Port: 8080},
		Engine: config.EngineConfig{
			Timezone:      "UTC",
			Location:      time.UTC,
			ClockSkewDays: 1,
			RetentionDays: 30,
			MaxAttempts:   3,
			RetryDelay:    time.Millisecond,
		},
		Log:      config.LogConfig{Level: "error"},
		Features: config.LoadFeatureFlags(),
	}
}

func TestNewWiresMemoryEngine(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	a, err := New(ctx, testConfig(), Options{Clock: clock, Logger: logger.Nop()})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Cache)
	assert.Nil(t, a.Postgres)
	require.Len(t, a.HealthChecks, 1)
	assert.Equal(t, "store", a.HealthChecks[0].Name)
	assert.NoError(t, a.HealthChecks[0].Ping(ctx))
	require.NotNil(t, a.HealthChecks[0].Breaker)
	assert.Equal(t, circuitbreaker.StateClosed, a.HealthChecks[0].Breaker())

	_, err = a.Commands.SubscribeToRoutine.Handle(ctx, command.SubscribeToRoutineCommand{
		UserID:    "u1",
		RoutineID: "dawn-devotion",
	})
	require.NoError(t, err)

	today, err := a.Queries.GetTodaysHabits.Handle(ctx, query.GetTodaysHabitsQuery{UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, today.Habits)

	res, err := a.Commands.RecordCompletion.Handle(ctx, command.RecordCompletionCommand{
		UserID:     "u1",
		ActivityID: today.Habits[0].ActivityID,
	})
	require.NoError(t, err)
	assert.Equal(t, today.Habits[0].Points, res.PointsAwarded)

	summary, err := a.Queries.GetProgressSummary.Handle(ctx, query.GetProgressSummaryQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalCompletions)
	assert.Equal(t, 1, summary.CurrentStreak)
	assert.Equal(t, "2026-03-01", summary.AsOf)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestOpenPostgresGivesUpOnBadConnectionString(t *testing.T) {
	start := time.Now()
	_, err := OpenPostgres(context.Background(), config.DatabaseConfig{URL: "host=localhost port=notaport"})

	require.Error(t, err)
	assert.ErrorIs(t, err, postgres.ErrInvalidConfig)
	assert.False(t, retry.IsExhausted(err), "a parse error is not retried")
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestNewRejectsMissingCatalog(t *testing.T) {
	cfg := testConfig()
	cfg.Catalog.Path = t.TempDir() + "/missing.yaml"

	_, err := New(context.Background(), cfg, Options{Logger: logger.Nop()})
	assert.ErrorContains(t, err, "load catalog")
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := t.TempDir() + "/engine.log"
	log := NewLogger(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	log.Info("hello")
	assert.NoError(t, log.Close())
	assert.FileExists(t, path)
}
