package marketstream

import (
	"context"

	"go.uber.org/fx"

	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/eventbus"
)

// Module provides the Supervisor and starts it against the configured
// enabled-instruments set on process start, re-reconciling whenever the
// config watcher reports an on-disk edit.
func Module() fx.Option {
	return fx.Module("marketstream",
		fx.Provide(func(bus *eventbus.Bus, cfg *config.Config) *Supervisor {
			return NewSupervisor(bus, cfg.Stream)
		}),
		fx.Invoke(run),
	)
}

func run(lc fx.Lifecycle, sup *Supervisor, cfg *config.Config, watcher *config.Watcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sup.Run(ctx)
			sup.Reconcile(cfg.Instruments.Enabled)

			go func() {
				for range watcher.Changes() {
					fresh, err := config.NewConfig()
					if err != nil {
						continue
					}
					sup.Reconcile(fresh.Instruments.Enabled)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sup.Shutdown()
			return nil
		},
	})
}
