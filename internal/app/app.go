// Package app builds the engine's object graph from configuration. Both the
// API server and the CLI start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/habit-engine/config"
	"github.com/alem-hub/habit-engine/internal/application/command"
	"github.com/alem-hub/habit-engine/internal/application/eventhandler"
	"github.com/alem-hub/habit-engine/internal/application/query"
	"github.com/alem-hub/habit-engine/internal/application/saga"
	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/catalog"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	staticcatalog "github.com/alem-hub/habit-engine/internal/infrastructure/catalog"
	"github.com/alem-hub/habit-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/habit-engine/internal/infrastructure/metrics"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/breaker"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/postgres"
	rediscache "github.com/alem-hub/habit-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/habit-engine/pkg/circuitbreaker"
	"github.com/alem-hub/habit-engine/pkg/logger"
	"github.com/alem-hub/habit-engine/pkg/retry"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTAINER
// ══════════════════════════════════════════════════════════════════════════════

// Commands groups the command handlers.
type Commands struct {
	RecordCompletion       *command.RecordCompletionHandler
	SubscribeToRoutine     *command.SubscribeToRoutineHandler
	UnsubscribeFromRoutine *command.UnsubscribeFromRoutineHandler
	AddIndividualHabit     *command.AddIndividualHabitHandler
	RemoveIndividualHabit  *command.RemoveIndividualHabitHandler
	EvaluateAchievements   *command.EvaluateAchievementsHandler
}

// Queries groups the query handlers.
type Queries struct {
	GetTodaysHabits    *query.GetTodaysHabitsHandler
	GetProgressSummary *query.GetProgressSummaryHandler
	GetNextAchievement *query.GetNextAchievementHandler
}

// HealthCheck names a dependency the readiness endpoint should watch.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error

	// Breaker is set for dependencies behind a circuit breaker.
	Breaker func() circuitbreaker.State
}

// App holds everything a process needs to serve the engine.
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Store   store.Store
	Bus     shared.EventBus
	Content catalog.Catalog

	Commands Commands
	Queries  Queries

	// Postgres is nil for the memory store.
	Postgres *postgres.Connection

	// Cache is nil when Redis is disabled or unreachable.
	Cache *rediscache.Cache

	HealthChecks []HealthCheck

	closers []func() error
}

// Options overrides pieces of the graph, mostly for tests.
type Options struct {
	Clock  timeutil.Clock
	Logger *logger.Logger
	Store  store.Store
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = NewLogger(cfg.Log)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	a := &App{
		Config:  cfg,
		Logger:  log,
		Metrics: metrics.New(),
	}

	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// Catalogs
	// ─────────────────────────────────────────────────────────────────────────
	content, err := loadContent(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	a.Content = content
	achievements := achievement.DefaultCatalog()

	// ─────────────────────────────────────────────────────────────────────────
	// Redis
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Enabled {
		cache, err := rediscache.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, continuing without it", logger.Err(err))
		} else {
			a.Cache = cache
			a.closers = append(a.closers, cache.Close)
			a.HealthChecks = append(a.HealthChecks, HealthCheck{Name: "redis", Ping: cache.Ping})
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Store
	// ─────────────────────────────────────────────────────────────────────────
	st := opts.Store
	if st == nil {
		st, err = a.openStore(ctx)
		if err != nil {
			return nil, err
		}
	}
	if a.Cache != nil && cfg.RedisLockEnabled() {
		st = rediscache.NewLockingStore(st, a.Cache, rediscache.LockConfig{Wait: cfg.Engine.LockWait}, log)
	}
	guarded := breaker.New(st, circuitbreaker.StoreBreaker(breaker.IsFailure, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
		a.Metrics.BreakerStateChanged(name, int(to))
	}))
	st = guarded
	a.Store = st
	a.HealthChecks = append(a.HealthChecks, HealthCheck{Name: "store", Ping: guarded.Ping, Breaker: guarded.State})

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus
	// ─────────────────────────────────────────────────────────────────────────
	local := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		Logger:   log,
		Observer: a.Metrics,
	})
	a.Bus = local
	a.closers = append(a.closers, local.Close)

	if a.Cache != nil && cfg.EventPublishEnabled() {
		bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client: messaging.NewCacheClient(a.Cache),
			ChannelFor: func(t shared.EventType) string {
				return rediscache.PubSubChannel(string(t))
			},
			Local:  local,
			Logger: log,
		})
		if err != nil {
			log.Warn("redis event bus unavailable, events stay local", logger.Err(err))
		} else {
			a.Bus = bus
			a.closers = append(a.closers, bus.Close)
		}
	}

	var summaries query.SummaryCache
	if a.Cache != nil && cfg.ProgressCacheEnabled() {
		summaries = rediscache.NewSummaryCache(a.Cache, cfg.Engine.SummaryCacheTTL)
		if err := eventhandler.NewCacheInvalidationHandler(summaries, log).Register(a.Bus); err != nil {
			return nil, fmt.Errorf("register cache invalidation: %w", err)
		}
	}
	if err := eventhandler.NewMilestoneHandler(a.Metrics, log).Register(a.Bus); err != nil {
		return nil, fmt.Errorf("register milestones: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Application layer
	// ─────────────────────────────────────────────────────────────────────────
	ledger := progress.NewLedger(progress.LedgerConfig{
		ClockSkewDays: cfg.Engine.ClockSkewDays,
		RetentionDays: cfg.Engine.RetentionDays,
	})
	engine := achievement.NewEngine(achievements)
	flow := saga.NewAchievementFlow(engine, ledger, saga.AchievementFlowConfig{UnlockAll: cfg.UnlockAll()})

	exec := command.NewExecutor(st, a.Bus, log, a.Metrics, command.ExecutorConfig{
		MaxAttempts: cfg.Engine.MaxAttempts,
		RetryDelay:  cfg.Engine.RetryDelay,
		Location:    cfg.Engine.Location,
		Clock:       clock,
	})
	a.Commands = Commands{
		RecordCompletion:       command.NewRecordCompletionHandler(exec, ledger, flow, content),
		SubscribeToRoutine:     command.NewSubscribeToRoutineHandler(exec, content),
		UnsubscribeFromRoutine: command.NewUnsubscribeFromRoutineHandler(exec),
		AddIndividualHabit:     command.NewAddIndividualHabitHandler(exec, content),
		RemoveIndividualHabit:  command.NewRemoveIndividualHabitHandler(exec),
		EvaluateAchievements:   command.NewEvaluateAchievementsHandler(exec, flow),
	}

	reader := query.NewReader(st, clock, cfg.Engine.Location)
	a.Queries = Queries{
		GetTodaysHabits:    query.NewGetTodaysHabitsHandler(reader, content),
		GetProgressSummary: query.NewGetProgressSummaryHandler(reader, engine, summaries, log),
		GetNextAchievement: query.NewGetNextAchievementHandler(reader, engine),
	}

	log.Info("engine ready",
		logger.String("store", cfg.Database.Driver),
		logger.Bool("redis", a.Cache != nil),
		logger.Int("achievements", achievements.Len()),
		logger.Bool("unlock_all", cfg.UnlockAll()),
	)
	ok = true
	return a, nil
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	switch a.Config.Database.Driver {
	case config.DriverPostgres:
		conn, err := OpenPostgres(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		a.Postgres = conn
		a.closers = append(a.closers, func() error {
			conn.Close()
			return nil
		})

		if a.Config.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			a.Logger.Info("migrations applied", logger.Int("count", applied))
		}
		return postgres.NewStore(conn), nil

	default:
		a.Logger.Warn("using the in-memory store, data is lost on restart")
		return memory.NewStore(), nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the process logger.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Level)
	opts.Format = logger.Format(cfg.Format)
	if cfg.File != "" {
		opts.File = &logger.FileOptions{
			Path:       cfg.File,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	return logger.New(opts)
}

// OpenPostgres connects to PostgreSQL and verifies the connection.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.URL
	pgCfg.MaxConns = int32(cfg.MaxConns)
	pgCfg.MinConns = int32(cfg.MinConns)
	pgCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	// The database may still be starting next to us. A bad connection
	// string will not get better.
	conn, err := retry.DoWithData(ctx, retry.StartupRetrier(), func(ctx context.Context) (*postgres.Connection, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, err := postgres.NewConnection(connectCtx, pgCfg)
		switch {
		case err == nil:
			return conn, nil
		case errors.Is(err, postgres.ErrInvalidConfig):
			return nil, retry.Permanent(err)
		default:
			return nil, retry.Retryable(err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return conn, nil
}

func redisConfig(cfg config.RedisConfig) rediscache.Config {
	rc := rediscache.DefaultConfig()
	rc.URL = cfg.URL
	rc.Host = cfg.Host
	rc.Port = cfg.Port
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout
	return rc
}

func loadContent(cfg config.CatalogConfig) (catalog.Catalog, error) {
	if cfg.Path == "" {
		return staticcatalog.Default(), nil
	}
	content, err := staticcatalog.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", cfg.Path, err)
	}
	return content, nil
}
