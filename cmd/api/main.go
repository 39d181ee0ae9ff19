// Package main is the HTTP entry point of the habit engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/habit-engine/config"
	"github.com/alem-hub/habit-engine/internal/app"
	httpserver "github.com/alem-hub/habit-engine/internal/interface/http"
	"github.com/alem-hub/habit-engine/internal/interface/http/handlers"
	"github.com/alem-hub/habit-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg.Log)
	log.Info("starting habit engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("store", cfg.Database.Driver),
		logger.String("timezone", cfg.Engine.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("shutdown cleanup failed", logger.Err(err))
		}
	}()

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	for _, hc := range a.HealthChecks {
		if hc.Breaker != nil {
			health.Register(hc.Name, handlers.StoreProbe(hc.Ping, hc.Breaker))
			continue
		}
		health.Register(hc.Name, handlers.PingProbe(hc.Ping))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpserver.Dependencies{
		RecordCompletion:       a.Commands.RecordCompletion,
		SubscribeToRoutine:     a.Commands.SubscribeToRoutine,
		UnsubscribeFromRoutine: a.Commands.UnsubscribeFromRoutine,
		AddIndividualHabit:     a.Commands.AddIndividualHabit,
		RemoveIndividualHabit:  a.Commands.RemoveIndividualHabit,
		EvaluateAchievements:   a.Commands.EvaluateAchievements,
		GetTodaysHabits:        a.Queries.GetTodaysHabits,
		GetProgressSummary:     a.Queries.GetProgressSummary,
		GetNextAchievement:     a.Queries.GetNextAchievement,
		Logger:                 log,
		HealthChecker:          health,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = a.Metrics
	}

	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.RateLimit = cfg.HTTP.RateLimit
	serverCfg.RateBurst = cfg.HTTP.RateBurst
	serverCfg.AllowedOrigins = cfg.HTTP.CORSOrigins
	serverCfg.MetricsPath = cfg.Metrics.Path
	serverCfg.Version = cfg.App.Version

	server := httpserver.NewServer(serverCfg, deps)
	serverErr := server.StartAsync()
	log.Info("http server listening", logger.String("addr", serverCfg.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	log.Info("habit engine stopped")
	return nil
}
