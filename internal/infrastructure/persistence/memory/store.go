// Package memory implements the engine store in process memory.
// It is used by tests, the CLI's --memory mode and single-instance setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
	"github.com/alem-hub/habit-engine/pkg/timeutil"
)

// CommitHook runs before a unit of work is committed. A non-nil error aborts
// the commit. Tests use it to simulate conflicts and outages.
type CommitHook func(userID shared.UserID) error

// Store is an in-memory store.Store. Each user has a mutex; a unit of work
// operates on a private copy of the user's data which replaces the committed
// copy only when the work succeeds.
type Store struct {
	mu    sync.Mutex
	locks map[shared.UserID]*sync.Mutex
	users map[shared.UserID]*userData

	hook CommitHook
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		locks: make(map[shared.UserID]*sync.Mutex),
		users: make(map[shared.UserID]*userData),
	}
}

// SetCommitHook installs hook. nil removes it.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Atomically implements store.Store.
func (s *Store) Atomically(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	working := s.snapshot(userID)
	if err := fn(ctx, &tx{data: working}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hook != nil {
		if err := s.hook(userID); err != nil {
			return err
		}
	}
	s.users[userID] = working
	return nil
}

// Read implements store.Store.
func (s *Store) Read(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.userLock(userID)
	lock.Lock()
	working := s.snapshot(userID)
	lock.Unlock()

	return fn(ctx, &tx{data: working})
}

func (s *Store) userLock(userID shared.UserID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *Store) snapshot(userID shared.UserID) *userData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.users[userID]; ok {
		return d.clone()
	}
	return newUserData()
}

// ══════════════════════════════════════════════════════════════════════════════
// USER DATA
// ══════════════════════════════════════════════════════════════════════════════

type userData struct {
	progress *progress.UserProgress
	days     map[string]*progress.DailyRecord
	subs     map[shared.ActivityID]habit.Subscription
	unlocks  []achievement.Unlock
}

func newUserData() *userData {
	return &userData{
		days: make(map[string]*progress.DailyRecord),
		subs: make(map[shared.ActivityID]habit.Subscription),
	}
}

func (d *userData) clone() *userData {
	c := newUserData()
	if d.progress != nil {
		c.progress = d.progress.Clone()
	}
	for k, v := range d.days {
		c.days[k] = v.Clone()
	}
	for k, v := range d.subs {
		c.subs[k] = cloneSubscription(v)
	}
	c.unlocks = append([]achievement.Unlock(nil), d.unlocks...)
	return c
}

func cloneSubscription(s habit.Subscription) habit.Subscription {
	if s.SourceRoutineID != nil {
		r := *s.SourceRoutineID
		s.SourceRoutineID = &r
	}
	return s
}

// tx is the working set of one unit of work. It implements all three
// repositories; there is exactly one user per tx.
type tx struct {
	data *userData
}

func (t *tx) Progress() progress.Repository        { return progressRepo{t.data} }
func (t *tx) Habits() habit.Repository             { return habitRepo{t.data} }
func (t *tx) Achievements() achievement.Repository { return achievementRepo{t.data} }

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type progressRepo struct{ d *userData }

func (r progressRepo) GetProgress(_ context.Context, _ shared.UserID) (*progress.UserProgress, error) {
	if r.d.progress == nil {
		return nil, shared.ErrNotFound
	}
	return r.d.progress.Clone(), nil
}

func (r progressRepo) SaveProgress(_ context.Context, p *progress.UserProgress) error {
	var stored int64
	if r.d.progress != nil {
		stored = r.d.progress.Version
	}
	if p.Version != stored {
		return shared.ErrStoreConflict
	}
	p.Version++
	r.d.progress = p.Clone()
	return nil
}

func (r progressRepo) GetDay(_ context.Context, _ shared.UserID, date timeutil.Date) (*progress.DailyRecord, error) {
	day, ok := r.d.days[date.String()]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return day.Clone(), nil
}

func (r progressRepo) SaveDay(_ context.Context, day *progress.DailyRecord) error {
	merged := day.Clone()
	key := day.Date.String()
	if stored, ok := r.d.days[key]; ok {
		merged.Completed.Union(stored.Completed)
		merged.CreatedAt = stored.CreatedAt
	}
	r.d.days[key] = merged
	return nil
}

func (r progressRepo) ListDays(_ context.Context, _ shared.UserID, from, to timeutil.Date) ([]*progress.DailyRecord, error) {
	var out []*progress.DailyRecord
	for _, day := range r.d.days {
		if day.Date.Before(from) || day.Date.After(to) {
			continue
		}
		out = append(out, day.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r progressRepo) PruneDays(_ context.Context, _ shared.UserID, before timeutil.Date) (int, error) {
	removed := 0
	for key, day := range r.d.days {
		if day.Date.Before(before) {
			delete(r.d.days, key)
			removed++
		}
	}
	return removed, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HABIT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type habitRepo struct{ d *userData }

func (r habitRepo) ListSubscriptions(_ context.Context, _ shared.UserID) ([]habit.Subscription, error) {
	out := make([]habit.Subscription, 0, len(r.d.subs))
	for _, s := range r.d.subs {
		out = append(out, cloneSubscription(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityID < out[j].ActivityID })
	return out, nil
}

func (r habitRepo) SaveSubscription(_ context.Context, s habit.Subscription) error {
	r.d.subs[s.ActivityID] = cloneSubscription(s)
	return nil
}

func (r habitRepo) DeleteSubscription(_ context.Context, _ shared.UserID, activityID shared.ActivityID) error {
	delete(r.d.subs, activityID)
	return nil
}

func (r habitRepo) DeleteByRoutine(_ context.Context, _ shared.UserID, routineID shared.RoutineID) ([]shared.ActivityID, error) {
	var removed []shared.ActivityID
	for id, s := range r.d.subs {
		if s.FromRoutine(routineID) {
			delete(r.d.subs, id)
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

type achievementRepo struct{ d *userData }

func (r achievementRepo) ListUnlocks(_ context.Context, _ shared.UserID) ([]achievement.Unlock, error) {
	return append([]achievement.Unlock(nil), r.d.unlocks...), nil
}

func (r achievementRepo) InsertUnlock(_ context.Context, u achievement.Unlock) (bool, error) {
	for _, existing := range r.d.unlocks {
		if existing.AchievementID == u.AchievementID {
			return false, nil
		}
	}
	if u.UnlockedAt.IsZero() {
		u.UnlockedAt = time.Now().UTC()
	}
	r.d.unlocks = append(r.d.unlocks, u)
	return true, nil
}
