package strategy

import (
	"context"

	"go.uber.org/fx"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/eventbus"
)

// Module provides the strategy Catalog and Registry, and subscribes the
// registry to every market tick published on the event bus so that
// enabled instruments are evaluated by every strategy registered
// against them.
func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			NewCatalog,
			NewRegistry,
		),
		fx.Invoke(registerInstruments),
		fx.Invoke(runTickLoop),
	)
}

func registerInstruments(cfg *config.Config, catalog *Catalog, registry *Registry) {
	for _, inst := range cfg.Instruments.Enabled {
		for _, strategyID := range catalog.IDs() {
			registry.Ensure(inst, strategyID)
		}
	}
}

// runTickLoop subscribes to the event bus for market ticks published by
// marketstream and routes each one through the strategy registry.
func runTickLoop(lc fx.Lifecycle, bus *eventbus.Bus, registry *Registry) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sub := bus.Subscribe()
			go func() {
				for {
					select {
					case <-ctx.Done():
						sub.Unsubscribe()
						return
					case ev, ok := <-sub.Events():
						if !ok {
							return
						}
						if ev.Kind == models.EventMarketTick && ev.Tick != nil {
							registry.OnTick(*ev.Tick)
						}
					}
				}
			}()
			return nil
		},
	})
}
