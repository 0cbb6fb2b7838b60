package postgres

import (
	"context"
	"fmt"
	"tradesandbox/internal/modules/config"
	"tradesandbox/pkg/db"

	"go.uber.org/fx"
)

// Module provides the pgx pool and transaction manager the history store
// is built on, dialed from the persistence DSN.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.Persistence.DSN,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				return db.NewPgTxManager(poolMaster), nil
			},
		),
	)
}
