package strategy

import (
	"testing"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/eventbus"
	"tradesandbox/internal/modules/strategy/service"
)

type panickyEngine struct{}

func (panickyEngine) OnTick(instID string, t models.Tick, enabled bool) (models.Signal, bool) {
	panic("boom")
}
func (panickyEngine) IsReady(instID string) bool { return true }
func (panickyEngine) Name() string               { return "panicky" }

func TestRegistryQuarantinesPanickingEngine(t *testing.T) {
	r := NewRegistry(newTestCatalog(), eventbus.New(8))
	k := key{instID: "BTCUSDT", strategyID: "cfg"}
	r.engines[k] = panickyEngine{}
	r.enabled[k] = true

	r.OnTick(models.Tick{InstID: "BTCUSDT", Price: 100})

	if _, quarantined := r.Quarantined("BTCUSDT", "cfg"); !quarantined {
		t.Fatalf("expected BTCUSDT/cfg to be quarantined after panic")
	}
	if _, ok := r.engines[k]; ok {
		t.Fatalf("expected panicking engine removed from rotation")
	}
}

func TestRegistryEnsureCreatesEngineFromCatalog(t *testing.T) {
	r := NewRegistry(newTestCatalog(), eventbus.New(8))
	r.Ensure("BTCUSDT", "cfg")

	r.mu.RLock()
	_, ok := r.engines[key{"BTCUSDT", "cfg"}]
	r.mu.RUnlock()
	if !ok {
		t.Fatalf("expected engine created for BTCUSDT/cfg")
	}
}

var _ service.Engine = panickyEngine{}
