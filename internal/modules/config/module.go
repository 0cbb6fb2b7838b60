package config

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the decoded Config and a running file Watcher that
// strategy runtime-edit consumers subscribe to for fork-on-edit
// notifications.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			NewWatcher,
		),
		fx.Invoke(func(lc fx.Lifecycle, w *Watcher) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					w.Start()
					return nil
				},
			})
		}),
	)
}
