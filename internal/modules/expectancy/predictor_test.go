package expectancy

import (
	"testing"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

type namedPredictor string

func (n namedPredictor) EstimateEntryExpectancy(strategyID, instID string, now time.Time) (models.ExpectancySnapshot, error) {
	return models.ExpectancySnapshot{EVModelVer: string(n)}, nil
}

func TestResolverPrefersSymbolOverrideOverStrategyDefault(t *testing.T) {
	strategy := config.StrategyConfig{Instances: map[string]config.StrategyInstanceConfig{
		"s1": {
			Predictor: "strategy-default",
			SymbolOverrides: map[string]config.SymbolOverrideConfig{
				"BTCUSDT": {Predictor: "btc-special"},
			},
		},
	}}
	predictors := map[string]Predictor{
		"strategy-default": namedPredictor("strategy-default"),
		"btc-special":       namedPredictor("btc-special"),
	}
	r := NewResolver(strategy, predictors, namedPredictor("default"))

	p := r.Resolve("s1", "BTCUSDT")
	snap, _ := p.EstimateEntryExpectancy("s1", "BTCUSDT", time.Now())
	if snap.EVModelVer != "btc-special" {
		t.Fatalf("resolved predictor = %v, expected btc-special", snap.EVModelVer)
	}
}

func TestResolverFallsBackToStrategyDefaultForOtherSymbols(t *testing.T) {
	strategy := config.StrategyConfig{Instances: map[string]config.StrategyInstanceConfig{
		"s1": {
			Predictor: "strategy-default",
			SymbolOverrides: map[string]config.SymbolOverrideConfig{
				"BTCUSDT": {Predictor: "btc-special"},
			},
		},
	}}
	predictors := map[string]Predictor{
		"strategy-default": namedPredictor("strategy-default"),
		"btc-special":       namedPredictor("btc-special"),
	}
	r := NewResolver(strategy, predictors, namedPredictor("default"))

	p := r.Resolve("s1", "ETHUSDT")
	snap, _ := p.EstimateEntryExpectancy("s1", "ETHUSDT", time.Now())
	if snap.EVModelVer != "strategy-default" {
		t.Fatalf("resolved predictor = %v, expected strategy-default", snap.EVModelVer)
	}
}

func TestResolverFallsBackToDefaultForUnknownStrategy(t *testing.T) {
	r := NewResolver(config.StrategyConfig{}, map[string]Predictor{}, namedPredictor("default"))

	p := r.Resolve("unknown", "BTCUSDT")
	snap, _ := p.EstimateEntryExpectancy("unknown", "BTCUSDT", time.Now())
	if snap.EVModelVer != "default" {
		t.Fatalf("resolved predictor = %v, expected default fallback", snap.EVModelVer)
	}
}

func TestResolverFallsBackToDefaultWhenOverrideNamesUnregisteredPredictor(t *testing.T) {
	strategy := config.StrategyConfig{Instances: map[string]config.StrategyInstanceConfig{
		"s1": {
			SymbolOverrides: map[string]config.SymbolOverrideConfig{
				"BTCUSDT": {Predictor: "onnx-model-not-wired"},
			},
		},
	}}
	r := NewResolver(strategy, map[string]Predictor{}, namedPredictor("default"))

	p := r.Resolve("s1", "BTCUSDT")
	snap, _ := p.EstimateEntryExpectancy("s1", "BTCUSDT", time.Now())
	if snap.EVModelVer != "default" {
		t.Fatalf("resolved predictor = %v, expected default fallback for unregistered predictor name", snap.EVModelVer)
	}
}
