package engine

import (
	"context"

	"go.uber.org/fx"
)

// Module hand-wires every leaf component that must not import its
// siblings directly (risk, orders, positions, exit, clock, expectancy)
// and starts the Dispatcher's background loops on process start. This
// is the one package allowed to see all of them at once; see the
// package doc in wiring.go for why.
func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			newResolver,
			newGate,
			newManager,
			newPositionsEngine,
			newOrchestrator,
			newResyncLoop,
			newTracer,
			NewDispatcher,
		),
		fx.Invoke(run),
	)
}

func run(lc fx.Lifecycle, d *Dispatcher, ctx context.Context, shutdownTracer tracerShutdown) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go d.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			shutdownTracer()
			return nil
		},
	})
}
