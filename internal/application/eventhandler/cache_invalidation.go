// Package eventhandler contains reactions to committed domain events.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/habit-engine/internal/application/query"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// SUMMARY CACHE INVALIDATION
// Every engine event changes something a progress summary shows, so the
// user's cached summary is dropped on any of them.
// ═══════════════════════════════════════════════════════════════════════════

// CacheInvalidationHandler drops cached summaries of users whose state changed.
type CacheInvalidationHandler struct {
	cache   query.SummaryCache
	timeout time.Duration
	log     *logger.Logger
}

// NewCacheInvalidationHandler creates a CacheInvalidationHandler.
func NewCacheInvalidationHandler(cache query.SummaryCache, log *logger.Logger) *CacheInvalidationHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CacheInvalidationHandler{
		cache:   cache,
		timeout: 2 * time.Second,
		log:     log.With(logger.Component("cache_invalidation")),
	}
}

// Handle invalidates the summary of the event's user.
func (h *CacheInvalidationHandler) Handle(event shared.Event) error {
	userID, err := shared.NewUserID(event.AggregateID())
	if err != nil {
		return fmt.Errorf("invalidate summary: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.InvalidateSummary(ctx, userID); err != nil {
		h.log.Warn("failed to invalidate summary", logger.UserID(userID.String()), logger.Err(err))
		return fmt.Errorf("invalidate summary: %w", err)
	}
	return nil
}

// Register subscribes the handler to every event.
func (h *CacheInvalidationHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}
