package strategy

import (
	"sync"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/eventbus"
	"tradesandbox/internal/modules/strategy/service"
	"tradesandbox/pkg/logger"
)

// key identifies one (instrument, strategy) evaluation slot.
type key struct {
	instID     string
	strategyID string
}

// Registry holds one live Engine per (instrument, strategy) pair and
// routes every tick to every pair registered for that instrument. A
// strategy that panics while evaluating a tick is quarantined — removed
// from rotation — rather than allowed to bring the whole process down;
// every other strategy keeps running. Disabling a strategy does not stop
// ticks reaching its engine: OnTick keeps updating warm state, it just
// stops being allowed to emit — so re-enabling is instantaneous with no
// rewarm and no cooldown-counter reset.
type Registry struct {
	mu          sync.RWMutex
	engines     map[key]service.Engine
	enabled     map[key]bool
	quarantined map[key]string // reason
	catalog     *Catalog
	bus         *eventbus.Bus
}

// NewRegistry builds an empty registry bound to a catalog and event bus.
func NewRegistry(catalog *Catalog, bus *eventbus.Bus) *Registry {
	return &Registry{
		engines:     make(map[key]service.Engine),
		enabled:     make(map[key]bool),
		quarantined: make(map[key]string),
		catalog:     catalog,
		bus:         bus,
	}
}

// Ensure creates the engine for one (instID, strategyID) pair from the
// catalog's current profile, enabled by default. An existing engine is
// replaced only when the profile's kind or source tag differs; a new
// version with the same kind and tag keeps the existing engine.
func (r *Registry) Ensure(instID, strategyID string) {
	profile, ok := r.catalog.Current(strategyID)
	if !ok {
		return
	}
	k := key{instID, strategyID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, quarantined := r.quarantined[k]; quarantined {
		return
	}
	if existing, ok := r.engines[k]; ok {
		if existing.Name() == engineName(profile) {
			return
		}
	}
	r.engines[k] = service.NewEngine(profile)
	if _, seen := r.enabled[k]; !seen {
		r.enabled[k] = true
	}
}

func engineName(p models.StrategyProfile) string {
	switch p.Kind {
	case models.StrategyKindDonchian:
		return "donchian:" + p.SourceTag
	case models.StrategyKindEMARSI:
		return "ema_rsi:" + p.SourceTag
	default:
		return "donchian:" + p.SourceTag
	}
}

// SetEnabled toggles whether an (instID, strategyID) pair may emit
// signals. The toggle is cheap: it never resets warm state or the
// min-ticks-between-signals cooldown counter, it only gates emission.
func (r *Registry) SetEnabled(instID, strategyID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled[key{instID, strategyID}] = enabled
}

// IsEnabled reports whether a pair is currently allowed to emit. Unknown
// pairs default to enabled.
func (r *Registry) IsEnabled(instID, strategyID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.enabled[key{instID, strategyID}]
	return !ok || v
}

// OnTick routes one tick to every non-quarantined engine registered for
// its instrument, publishing any resulting signal to the event bus. A
// panic inside one engine is recovered, that (instrument, strategy) pair
// is quarantined, and evaluation continues for the rest.
func (r *Registry) OnTick(t models.Tick) {
	r.mu.RLock()
	type slot struct {
		k       key
		e       service.Engine
		enabled bool
	}
	var slots []slot
	for k, e := range r.engines {
		if k.instID == t.InstID {
			slots = append(slots, slot{k, e, r.enabled[k]})
		}
	}
	r.mu.RUnlock()

	for _, s := range slots {
		r.evalOne(s.k, s.e, t, s.enabled)
	}
}

func (r *Registry) evalOne(k key, e service.Engine, t models.Tick, enabled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("strategy: quarantining %s/%s after panic: %v", k.instID, k.strategyID, rec)
			r.mu.Lock()
			r.quarantined[k] = "panic"
			delete(r.engines, k)
			r.mu.Unlock()
		}
	}()

	sig, ok := e.OnTick(k.instID, t, enabled)
	if !ok {
		return
	}
	if r.bus != nil {
		r.bus.Publish(models.NewSignalEvent(sig))
	}
}

// Quarantined reports the reason an (instID, strategyID) pair was pulled
// from rotation, if it has been.
func (r *Registry) Quarantined(instID, strategyID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reason, ok := r.quarantined[key{instID, strategyID}]
	return reason, ok
}

// Reinstate clears a quarantine so the pair is re-created on the next
// Ensure call — used when an operator fixes a bad custom-fork parameter.
func (r *Registry) Reinstate(instID, strategyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.quarantined, key{instID, strategyID})
}
