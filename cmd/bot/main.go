package main

import (
	"context"

	"go.uber.org/fx"

	"tradesandbox/internal/modules/clock"
	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/engine"
	"tradesandbox/internal/modules/eventbus"
	"tradesandbox/internal/modules/exit"
	"tradesandbox/internal/modules/expectancy"
	"tradesandbox/internal/modules/health"
	"tradesandbox/internal/modules/history"
	"tradesandbox/internal/modules/marketstream"
	"tradesandbox/internal/modules/orders"
	"tradesandbox/internal/modules/positions"
	"tradesandbox/internal/modules/postgres"
	"tradesandbox/internal/modules/risk"
	"tradesandbox/internal/modules/strategy"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		eventbus.Module(),
		history.Module(),
		health.Module(),
		clock.Module(),
		orders.Module(),
		risk.Module(),
		positions.Module(),
		exit.Module(),
		expectancy.Module(),
		marketstream.Module(),
		strategy.Module(),
		engine.Module(),
	)
	app.Run()
}
