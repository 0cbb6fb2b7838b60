package service

import "tradesandbox/internal/models"

// Engine is one strategy's signal-generation capability: stateful per
// instrument, fed one tick at a time. OnTick always folds the tick into
// warm state (indicator windows keep advancing); it only considers
// emitting a signal when enabled is true, so toggling a strategy off
// never resets warm state or the cooldown counter — it is cheap to flip
// back on. Implementations must be safe to call from a single evaluation
// goroutine only — the registry never calls an Engine concurrently for
// the same instrument.
type Engine interface {
	OnTick(instID string, t models.Tick, enabled bool) (models.Signal, bool)
	IsReady(instID string) bool
	Name() string
}

// NewEngine resolves a profile's Kind to its concrete implementation.
func NewEngine(profile models.StrategyProfile) Engine {
	switch profile.Kind {
	case models.StrategyKindDonchian:
		return NewDonchianEngine(profile)
	case models.StrategyKindEMARSI:
		return NewEMARSIEngine(profile)
	default:
		return NewDonchianEngine(profile)
	}
}
