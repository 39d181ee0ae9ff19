// Package handlers contains the readiness checks served by the HTTP API.
package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alem-hub/habit-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROBES
// ══════════════════════════════════════════════════════════════════════════════

// State is the condition of one dependency or of the whole engine.
type State string

const (
	StateUp State = "up"

	// StateDegraded still serves traffic, for example while the store
	// breaker is probing a recovered database.
	StateDegraded State = "degraded"

	StateDown State = "down"
)

// ProbeResult is what a Probe reports.
type ProbeResult struct {
	State  State
	Detail string
}

// Probe inspects one dependency. It must respect ctx.
type Probe func(ctx context.Context) ProbeResult

// Pinger is implemented by the store and the Redis cache.
type Pinger func(ctx context.Context) error

// PingProbe is up when ping succeeds and down otherwise.
func PingProbe(ping Pinger) Probe {
	return func(ctx context.Context) ProbeResult {
		if err := ping(ctx); err != nil {
			return ProbeResult{State: StateDown, Detail: err.Error()}
		}
		return ProbeResult{State: StateUp, Detail: "reachable"}
	}
}

// StoreProbe pings the store past its circuit breaker and folds the breaker
// state in. A reachable store behind an open breaker is degraded: commands
// keep failing fast until the breaker lets a trial call through.
func StoreProbe(ping Pinger, breaker func() circuitbreaker.State) Probe {
	return func(ctx context.Context) ProbeResult {
		if err := ping(ctx); err != nil {
			return ProbeResult{State: StateDown, Detail: err.Error()}
		}
		switch s := breaker(); s {
		case circuitbreaker.StateClosed:
			return ProbeResult{State: StateUp, Detail: "reachable, breaker closed"}
		default:
			return ProbeResult{State: StateDegraded, Detail: "reachable, breaker " + s.String()}
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker aggregates probes for the readiness endpoint.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	Register(name string, probe Probe)
}

// HealthStatus is the aggregate served on /ready.
type HealthStatus struct {
	State State `json:"state"`

	// Ready is false when any dependency is down.
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is one dependency's line in HealthStatus.
type CheckResult struct {
	State    State  `json:"state"`
	Detail   string `json:"detail,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// CompositeHealthChecker runs probes concurrently, each under its own
// timeout. A probe that overruns it is reported down.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	probes    map[string]Probe
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a checker with a 3s probe timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		probes:    make(map[string]Probe),
		startTime: time.Now(),
		version:   version,
		timeout:   3 * time.Second,
	}
}

// SetTimeout sets the per-probe timeout.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Register adds or replaces a named probe.
func (c *CompositeHealthChecker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Check runs every probe. The overall state is the worst one seen.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	timeout := c.timeout
	c.mu.RUnlock()

	status := HealthStatus{
		State:     StateUp,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(probes)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, probe := range probes {
		name, probe := name, probe
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := runProbe(ctx, probe, timeout)
			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	var down, degraded []string
	for name, r := range status.Checks {
		switch r.State {
		case StateDown:
			down = append(down, name)
		case StateDegraded:
			degraded = append(degraded, name)
		}
	}
	sort.Strings(down)
	sort.Strings(degraded)

	switch {
	case len(down) > 0:
		status.State = StateDown
		status.Ready = false
		status.Message = "down: " + strings.Join(down, ", ")
	case len(degraded) > 0:
		status.State = StateDegraded
		status.Message = "degraded: " + strings.Join(degraded, ", ")
	}
	return status
}

func runProbe(ctx context.Context, probe Probe, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan ProbeResult, 1)
	go func() { done <- probe(ctx) }()

	var r ProbeResult
	select {
	case r = <-done:
	case <-ctx.Done():
		r = ProbeResult{State: StateDown, Detail: ctx.Err().Error()}
	}
	return CheckResult{
		State:    r.State,
		Detail:   r.Detail,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
}
