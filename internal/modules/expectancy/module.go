package expectancy

import (
	"go.uber.org/fx"

	"tradesandbox/internal/modules/config"
)

// Module provides the estimator config adaptation only. NewEstimator
// needs a TradeStatsReader (owned by the history package) and NewResolver
// needs the set of named Predictors assembled from it plus any ML-model
// slot — both are wired by hand in the engine package once history.Store
// exists, for the same import-cycle reason risk.NewGate is wired by
// hand rather than fx.Provide'd.
func Module() fx.Option {
	return fx.Module("expectancy",
		fx.Provide(NewEstimatorConfig),
	)
}

// NewEstimatorConfig adapts the process config's EV tunables.
func NewEstimatorConfig(cfg *config.Config) EstimatorConfig {
	return EstimatorConfigFromConfig(cfg.EV)
}
