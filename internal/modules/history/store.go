// Package history is the History/Session Store: pgx-backed repositories
// for orders, trades, positions and strategy profiles, idempotent on
// client_order_id/position_id so a reconnect or restart can replay
// without duplicating rows. Every statistic handed to the rest of the
// engine is derived from a fresh query against these tables rather than
// from in-memory counters, so a restart never silently resets a
// strategy's track record.
package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tradesandbox/pkg/db"
	"tradesandbox/pkg/logger"
)

// Store wraps the shared transaction manager with the history schema's
// repository methods. Grounded on the teacher's pkg/db.PgTxManager: every
// write runs through RunMaster's panic-safe commit-or-rollback, every read
// goes through Conn() directly the same way pkg/db's own callers do.
type Store struct {
	tx *db.PgTxManager
}

// NewStore wires a history store against the shared pgx transaction
// manager. Deliberately takes *db.PgTxManager rather than TxManager: the
// teacher's own postgres module provides the concrete type, and nothing
// in this package needs RunReplica/RunRepeatableRead.
func NewStore(tx *db.PgTxManager) *Store {
	return &Store{tx: tx}
}

// Migrate idempotently creates the schema if it does not already exist.
// Safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.tx.Conn().Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// inMasterTx is the shared write-path helper: every mutating repository
// method runs its statement inside RunMaster's transaction so a crash
// mid-write never leaves a half-applied upsert.
func (s *Store) inMasterTx(ctx context.Context, sql string, args ...any) error {
	err := s.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, sql, args...)
		return err
	})
	if err != nil {
		logger.Error("history: write failed: %v", err)
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}
