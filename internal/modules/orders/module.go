package orders

import (
	"go.uber.org/fx"

	"tradesandbox/internal/modules/config"
)

// Module provides the REST client and the market-data caches built
// directly on it. Manager is NOT fx-provided here: it takes a Resyncer
// callback that closes over the clock module's Resync, and wiring that
// closure would require orders to import clock — the same cycle-avoidance
// reason clock.ResyncLoop is deferred to the engine package. Manager is
// constructed by hand there instead.
func Module() fx.Option {
	return fx.Module("orders",
		fx.Provide(
			newRESTClient,
			newInstrumentCache,
			newBalanceCache,
		),
	)
}

func newRESTClient(cfg *config.Config) *RESTClient {
	return NewRESTClient(cfg.Exchange)
}

func newInstrumentCache(client *RESTClient) *InstrumentCache {
	return NewInstrumentCache(client)
}

func newBalanceCache(client *RESTClient) *BalanceCache {
	return NewBalanceCache(client)
}
