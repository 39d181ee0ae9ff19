package messaging

import (
	"context"

	rediscache "github.com/alem-hub/habit-engine/internal/infrastructure/persistence/redis"
)

// CacheClient adapts the Redis cache to RedisClient.
type CacheClient struct {
	cache *rediscache.Cache
}

// NewCacheClient creates a CacheClient.
func NewCacheClient(cache *rediscache.Cache) *CacheClient {
	return &CacheClient{cache: cache}
}

// Publish publishes message as JSON.
func (c *CacheClient) Publish(ctx context.Context, channel string, message any) error {
	return c.cache.Publish(ctx, channel, message)
}

// Subscribe starts a pattern subscription and forwards its messages until
// the returned close function is called or ctx ends.
func (c *CacheClient) Subscribe(ctx context.Context, pattern string) (<-chan RedisMessage, func() error, error) {
	pubsub := c.cache.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan RedisMessage)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close, nil
}
