package risk

import (
	"time"

	"go.uber.org/fx"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

// Module provides the rate-budget Governor, the execution queue, and the
// kill switch. The policy-chain Gate itself is hand-wired by the engine
// package instead, since Gate's InstrumentSource/BalanceSource/
// ExposureSource/DegradeSource are supplied by whichever package owns
// that state (orders, positions), and this package must not import them
// (it is their dependency, not the other way around).
func Module() fx.Option {
	return fx.Module("risk",
		fx.Provide(
			NewGovernorFromConfig,
			NewExecutionQueue,
			NewKillSwitch,
		),
	)
}

// NewGovernorFromConfig seeds a Governor's global/orders scopes from
// RateConfig. Per-instrument scopes are created lazily on first Reserve.
func NewGovernorFromConfig(cfg *config.Config) *Governor {
	window := time.Duration(cfg.Rate.WindowSeconds) * time.Second
	return NewGovernor(map[models.RateScope]int{
		models.RateScopeGlobal: cfg.Rate.GlobalLimitPerMinute,
		models.RateScopeOrders: cfg.Rate.OrdersLimitPerMinute,
	}, window, 0.7)
}
