package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/habit-engine/internal/application/query"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/memory"
)

// unreachable returns a cache pointed at a port nothing listens on.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "habits:summary:u1", SummaryKey("u1"))
	assert.Equal(t, "habits:summary-gen:u1", SummaryGenerationKey("u1"))
	assert.Equal(t, "habits:lock:user:u1", UserLockKey("u1"))
	assert.Equal(t, "habits:events:progress.level_up", PubSubChannel("progress.level_up"))
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:pw@cache:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 3, opts.MaxRetries)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestCacheArgumentChecks(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", new(int)), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", make(chan int), time.Minute), ErrCacheSerialization)
	assert.ErrorIs(t, c.Publish(ctx, "", "x"), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))

	_, err := c.SetNX(ctx, "k", "v", 0)
	assert.ErrorIs(t, err, ErrCacheInvalidTTL)
}

func TestSummaryCacheUnreachable(t *testing.T) {
	sc := NewSummaryCache(unreachable(t), 0)
	assert.Equal(t, TTLSummary, sc.ttl)

	_, err := sc.GetSummary(context.Background(), "u1")
	assert.Error(t, err)
	_, err = sc.Generation(context.Background(), "u1")
	assert.Error(t, err)
	stored, err := sc.SetSummary(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrCacheNilValue)
	assert.False(t, stored)
	stored, err = sc.SetSummary(context.Background(), &query.ProgressSummaryDTO{UserID: "u1"}, 0)
	assert.Error(t, err)
	assert.False(t, stored)
	assert.Error(t, sc.InvalidateSummary(context.Background(), "u1"))

	var _ query.SummaryCache = sc
}

func TestLockingStoreReportsUnavailableBackend(t *testing.T) {
	inner := memory.NewStore()
	ls := NewLockingStore(inner, unreachable(t), LockConfig{}, nil)

	called := false
	err := ls.Atomically(context.Background(), "u1", func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, shared.IsUnavailable(err))
	assert.False(t, called)

	// Reads bypass the lock.
	err = ls.Read(context.Background(), "u1", func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	assert.True(t, shared.IsUnavailable(ls.Ping(context.Background())))
}

func TestNewLockingStoreDefaults(t *testing.T) {
	ls := NewLockingStore(memory.NewStore(), unreachable(t), LockConfig{Wait: -1}, nil)
	assert.Equal(t, DefaultLockConfig(), ls.cfg)
}
