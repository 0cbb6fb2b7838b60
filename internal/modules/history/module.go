package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"tradesandbox/pkg/db"
	"tradesandbox/pkg/logger"
)

// Module provides the history Store and runs its migration and
// session-bookkeeping on the fx lifecycle. Unlike risk/positions/exit,
// Store has no import-cycle reason to be hand-wired: it only depends on
// the shared pgx transaction manager, already an fx-provided singleton.
func Module() fx.Option {
	return fx.Module("history",
		fx.Provide(NewStore),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, store *Store, _ *db.PgTxManager) {
	sessionID := uuid.NewString()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			if err := store.RecordSessionStart(ctx, sessionID, time.Now()); err != nil {
				logger.Error("history: record session start: %v", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := store.RecordSessionEnd(ctx, sessionID, time.Now()); err != nil {
				logger.Error("history: record session end: %v", err)
			}
			return nil
		},
	})
}
