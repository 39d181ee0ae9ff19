package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/habit-engine/pkg/circuitbreaker"
)

func up(context.Context) error { return nil }

func TestCompositeHealthChecker(t *testing.T) {
	checker := NewCompositeHealthChecker("1.0.0")

	status := checker.Check(context.Background())
	assert.True(t, status.Ready)
	assert.Equal(t, StateUp, status.State)
	assert.Empty(t, status.Message)

	checker.Register("store", PingProbe(up))
	status = checker.Check(context.Background())
	assert.Equal(t, StateUp, status.State)
	assert.Equal(t, "reachable", status.Checks["store"].Detail)

	checker.Register("redis", PingProbe(func(context.Context) error { return errors.New("connection refused") }))
	checker.Register("cache", PingProbe(func(context.Context) error { return errors.New("down") }))
	status = checker.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, StateDown, status.State)
	assert.Equal(t, "down: cache, redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Detail)
	assert.Equal(t, StateUp, status.Checks["store"].State)
}

func TestStoreProbeReportsBreaker(t *testing.T) {
	state := circuitbreaker.StateClosed
	probe := StoreProbe(up, func() circuitbreaker.State { return state })

	checker := NewCompositeHealthChecker("")
	checker.Register("store", probe)

	status := checker.Check(context.Background())
	assert.Equal(t, StateUp, status.State)
	assert.Equal(t, "reachable, breaker closed", status.Checks["store"].Detail)

	state = circuitbreaker.StateOpen
	status = checker.Check(context.Background())
	assert.True(t, status.Ready, "an open breaker in front of a reachable store still serves reads")
	assert.Equal(t, StateDegraded, status.State)
	assert.Equal(t, "degraded: store", status.Message)
	assert.Equal(t, "reachable, breaker open", status.Checks["store"].Detail)

	down := StoreProbe(func(context.Context) error { return errors.New("refused") }, func() circuitbreaker.State { return state })
	checker.Register("store", down)
	status = checker.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, "refused", status.Checks["store"].Detail)
}

func TestCompositeHealthCheckerTimeout(t *testing.T) {
	checker := NewCompositeHealthChecker("")
	checker.SetTimeout(10 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	checker.Register("slow", func(context.Context) ProbeResult {
		<-release
		return ProbeResult{State: StateUp}
	})

	status := checker.Check(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, StateDown, status.Checks["slow"].State)
	assert.Contains(t, status.Checks["slow"].Detail, "deadline exceeded")
}
