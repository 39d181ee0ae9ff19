// Package metrics exposes engine and HTTP metrics to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

const namespace = "habit_engine"

// Metrics holds every collector the engine reports. Each instance owns its
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandAttempts  *prometheus.HistogramVec
	eventsPublished  *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	completionsTotal prometheus.Counter
	experienceTotal  prometheus.Counter
	unlocksTotal     *prometheus.CounterVec
	levelUpsTotal    prometheus.Counter
	streakResets     prometheus.Counter
	breakerState     *prometheus.GaugeVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     prometheus.Counter
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands run, by command and outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		commandAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_attempts",
			Help:      "Attempts needed per command.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"command"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published, by type.",
		}, []string{"event_type"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handler failures, by event type.",
		}, []string{"event_type"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		}, []string{"event_type"}),
		completionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Distinct activity completions recorded.",
		}),
		experienceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "experience_awarded_total",
			Help:      "Experience points awarded, completions and rewards.",
		}),
		unlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Achievements unlocked, by achievement.",
		}, []string{"achievement_id"}),
		levelUpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Level increases.",
		}),
		streakResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streak_resets_total",
			Help:      "Streaks restarted after a missed day.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"name"}),

		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		httpRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commandsTotal,
		m.commandDuration,
		m.commandAttempts,
		m.eventsPublished,
		m.handlerFailures,
		m.handlerDuration,
		m.completionsTotal,
		m.experienceTotal,
		m.unlocksTotal,
		m.levelUpsTotal,
		m.streakResets,
		m.breakerState,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRateLimited,
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ──────────────────────────────────────────────────────────────────────────────
// Engine
// ──────────────────────────────────────────────────────────────────────────────

// CommandFinished records one command run.
func (m *Metrics) CommandFinished(command string, err error, attempts int, elapsed time.Duration) {
	m.commandsTotal.WithLabelValues(command, Outcome(err)).Inc()
	m.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.commandAttempts.WithLabelValues(command).Observe(float64(attempts))
	}
}

// EventPublished counts a published event.
func (m *Metrics) EventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// EventHandled records one handler run.
func (m *Metrics) EventHandled(eventType string, elapsed time.Duration, err error) {
	m.handlerDuration.WithLabelValues(eventType).Observe(elapsed.Seconds())
	if err != nil {
		m.handlerFailures.WithLabelValues(eventType).Inc()
	}
}

// RecordEvent updates the domain counters from a committed event.
func (m *Metrics) RecordEvent(event shared.Event) {
	switch e := event.(type) {
	case shared.CompletionRecordedEvent:
		m.completionsTotal.Inc()
		m.experienceTotal.Add(float64(e.Points))
	case shared.AchievementUnlockedEvent:
		m.unlocksTotal.WithLabelValues(e.AchievementID).Inc()
		m.experienceTotal.Add(float64(e.ExperienceReward))
	case shared.LevelUpEvent:
		m.levelUpsTotal.Add(float64(e.NewLevel - e.OldLevel))
	case shared.StreakResetEvent:
		m.streakResets.Inc()
	}
}

// BreakerStateChanged tracks the store circuit breaker.
func (m *Metrics) BreakerStateChanged(name string, state int) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// Outcome classifies err for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case shared.IsConflict(err):
		return "conflict"
	case shared.IsUnavailable(err):
		return "unavailable"
	case shared.IsValidation(err):
		return "invalid"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP
// ──────────────────────────────────────────────────────────────────────────────

// ObserveHTTP records one served request. route is the mux path template,
// not the raw path, so user ids do not explode label cardinality.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	m.httpRateLimited.Inc()
}
