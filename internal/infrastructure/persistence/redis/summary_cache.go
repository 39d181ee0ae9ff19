package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/habit-engine/internal/application/query"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// setSummaryScript writes the summary only while the generation counter
// still holds the value the reader saw before loading state.
// KEYS[1] generation, KEYS[2] summary; ARGV[1] generation, ARGV[2] JSON, ARGV[3] TTL ms.
var setSummaryScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// SummaryCache stores progress summaries as JSON, one key per user, next to
// a per-user generation counter that every invalidation bumps.
// It implements query.SummaryCache.
type SummaryCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewSummaryCache creates a SummaryCache. A non-positive ttl selects TTLSummary.
func NewSummaryCache(cache *Cache, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = TTLSummary
	}
	return &SummaryCache{cache: cache, ttl: ttl}
}

// GetSummary returns the cached summary, or nil on a miss.
func (c *SummaryCache) GetSummary(ctx context.Context, userID shared.UserID) (*query.ProgressSummaryDTO, error) {
	var dto query.ProgressSummaryDTO
	if err := c.cache.Get(ctx, SummaryKey(userID.String()), &dto); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &dto, nil
}

// Generation returns the user's invalidation counter, 0 when never bumped.
func (c *SummaryCache) Generation(ctx context.Context, userID shared.UserID) (int64, error) {
	gen, err := c.cache.Client().Get(ctx, SummaryGenerationKey(userID.String())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// SetSummary caches summary unless an invalidation happened after generation
// was read. It reports whether the summary was stored.
func (c *SummaryCache) SetSummary(ctx context.Context, summary *query.ProgressSummaryDTO, generation int64) (bool, error) {
	if summary == nil {
		return false, ErrCacheNilValue
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	keys := []string{SummaryGenerationKey(summary.UserID), SummaryKey(summary.UserID)}
	stored, err := setSummaryScript.Run(ctx, c.cache.Client(), keys, generation, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// InvalidateSummary bumps the user's generation and drops the cached summary
// in one transaction, so a reader that loaded state earlier cannot store it.
func (c *SummaryCache) InvalidateSummary(ctx context.Context, userID shared.UserID) error {
	genKey := SummaryGenerationKey(userID.String())
	_, err := c.cache.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, TTLSummaryGen)
		pipe.Del(ctx, SummaryKey(userID.String()))
		return nil
	})
	return err
}
