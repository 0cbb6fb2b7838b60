package expectancy

import (
	"fmt"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

// DefaultPredictorName is used when neither a strategy instance nor one
// of its symbol overrides names a predictor explicitly.
const DefaultPredictorName = "empirical-bayes"

// Predictor produces an entry expectancy snapshot for a (strategy,
// instrument) pair. The empirical-Bayes Estimator is the only built-in
// implementation; an ML-model slot is contract-only — any type
// satisfying this interface can be registered, but no inference runtime
// ships with this package.
type Predictor interface {
	EstimateEntryExpectancy(strategyID, instID string, now time.Time) (models.ExpectancySnapshot, error)
}

// Resolver picks which registered Predictor backs a given (strategy,
// instrument) pair, following strategy.symbol_overrides[instrument].
// predictor → strategy.predictor → default.
type Resolver struct {
	strategy   config.StrategyConfig
	predictors map[string]Predictor
	fallback   Predictor
}

// NewResolver builds a resolver over a set of named predictors (keyed by
// the name strategy/symbol_overrides config refers to them by) and a
// fallback used whenever a name doesn't resolve to a registered one.
func NewResolver(strategy config.StrategyConfig, predictors map[string]Predictor, fallback Predictor) *Resolver {
	return &Resolver{strategy: strategy, predictors: predictors, fallback: fallback}
}

// Resolve returns the Predictor that should price an entry for
// (strategyID, instID), per the symbol-override → strategy → default
// resolution order.
func (r *Resolver) Resolve(strategyID, instID string) Predictor {
	inst, ok := r.strategy.Instances[strategyID]
	if !ok {
		return r.fallback
	}

	if override, ok := inst.SymbolOverrides[instID]; ok && override.Predictor != "" {
		if p, ok := r.predictors[override.Predictor]; ok {
			return p
		}
	}
	if inst.Predictor != "" {
		if p, ok := r.predictors[inst.Predictor]; ok {
			return p
		}
	}
	return r.fallback
}

// EstimateEntryExpectancy lets a Resolver itself stand in as a Predictor,
// so callers that just want "the right predictor for this pair, priced
// now" (positions.Engine's ExpectancyProvider) don't need to call
// Resolve and then invoke the result separately.
func (r *Resolver) EstimateEntryExpectancy(strategyID, instID string, now time.Time) (models.ExpectancySnapshot, error) {
	p := r.Resolve(strategyID, instID)
	if p == nil {
		return models.ExpectancySnapshot{}, fmt.Errorf("expectancy: no predictor resolved for %s/%s", strategyID, instID)
	}
	return p.EstimateEntryExpectancy(strategyID, instID, now)
}
