package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/habit-engine/internal/domain/achievement"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/progress"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/internal/domain/store"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements store.Store on PostgreSQL.
type Store struct {
	conn *Connection
}

// NewStore creates a new Store.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Atomically runs fn in one transaction. The transaction first takes a
// transaction-scoped advisory lock on the user, which serializes units of
// work for that user until commit or rollback.
func (s *Store) Atomically(ctx context.Context, userID shared.UserID, fn store.TxFunc) error {
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String()); err != nil {
			return err
		}
		return fn(ctx, newTx(tx))
	})
	return translateError("Atomically", err)
}

// Read runs fn against a read-only snapshot.
func (s *Store) Read(ctx context.Context, _ shared.UserID, fn store.TxFunc) error {
	err := s.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, newTx(tx))
	})
	return translateError("Read", err)
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return translateError("Ping", s.conn.Ping(ctx))
}

type txAdapter struct {
	progress     *ProgressRepository
	habits       *HabitRepository
	achievements *AchievementRepository
}

func newTx(q Querier) *txAdapter {
	return &txAdapter{
		progress:     NewProgressRepository(q),
		habits:       NewHabitRepository(q),
		achievements: NewAchievementRepository(q),
	}
}

func (t *txAdapter) Progress() progress.Repository        { return t.progress }
func (t *txAdapter) Habits() habit.Repository             { return t.habits }
func (t *txAdapter) Achievements() achievement.Repository { return t.achievements }
