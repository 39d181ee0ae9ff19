package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockConfig tunes lock acquisition.
type LockConfig struct {
	// TTL is how long the lock lives if its holder never releases it.
	TTL time.Duration

	// Wait is how long Atomically keeps trying before reporting a conflict.
	Wait time.Duration

	// PollInterval is the pause between acquisition attempts.
	PollInterval time.Duration
}

// DefaultLockConfig returns the lock settings used by the API server.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:          TTLUserLock,
		Wait:         500 * time.Millisecond,
		PollInterval: 25 * time.Millisecond,
	}
}

// LockingStore serializes units of work for one user across processes by
// holding a Redis lock around the wrapped store's Atomically. Reads are
// not locked.
type LockingStore struct {
	next  store.Store
	cache *Cache
	cfg   LockConfig
	log   *logger.Logger
}

// NewLockingStore wraps next.
func NewLockingStore(next store.Store, cache *Cache, cfg LockConfig, log *logger.Logger) *LockingStore {
	def := DefaultLockConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Wait < 0 {
		cfg.Wait = def.Wait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &LockingStore{
		next:  next,
		cache: cache,
		cfg:   cfg,
		log:   log.With(logger.Component("user_lock")),
	}
}

// Atomically acquires the user's lock, runs the wrapped unit of work and
// releases the lock. A lock still held by someone else after Wait surfaces
// as a conflict so the caller's retry policy applies.
func (s *LockingStore) Atomically(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	key := UserLockKey(userID.String())
	token := uuid.NewString()

	if err := s.acquire(ctx, key, token); err != nil {
		return err
	}
	defer s.release(key, token, userID)

	return s.next.Atomically(ctx, userID, fn)
}

// Read delegates to the wrapped store.
func (s *LockingStore) Read(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	return s.next.Read(ctx, userID, fn)
}

// Ping checks both the wrapped store and Redis.
func (s *LockingStore) Ping(ctx context.Context) error {
	if err := s.next.Ping(ctx); err != nil {
		return err
	}
	if err := s.cache.Ping(ctx); err != nil {
		return shared.WrapError("store", "Ping", shared.ErrStorageUnavailable, "lock backend unavailable", err)
	}
	return nil
}

func (s *LockingStore) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(s.cfg.Wait)
	for {
		ok, err := s.cache.SetNX(ctx, key, token, s.cfg.TTL)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return shared.WrapError("store", "Atomically", shared.ErrStorageUnavailable, "lock backend unavailable", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return shared.ErrStoreConflict
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// release uses a fresh context so a cancelled request still frees the lock.
func (s *LockingStore) release(key, token string, userID shared.UserID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, s.cache.Client(), []string{key}, token).Err(); err != nil {
		s.log.Warn("failed to release user lock", logger.UserID(userID.String()), logger.Err(err))
	}
}
