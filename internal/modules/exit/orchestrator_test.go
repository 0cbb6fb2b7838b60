package exit

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

type fakeCloser struct {
	calls   []models.OrderIntent
	failFor int
}

func (f *fakeCloser) Submit(ctx context.Context, intent models.OrderIntent, qty float64) (*models.OrderRecord, error) {
	f.calls = append(f.calls, intent)
	if len(f.calls) <= f.failFor {
		return nil, errors.New("submit failed")
	}
	return &models.OrderRecord{ClientOrderID: "order-1"}, nil
}

type fakeEmergencyCloser struct {
	calls int
	err   error
}

func (f *fakeEmergencyCloser) EmergencyClose(ctx context.Context, instID string, side models.OrderSide, qty float64) (string, error) {
	f.calls++
	return "emgc-1", f.err
}

type fakeLookup struct {
	positions map[string]*models.PositionState
}

func (f *fakeLookup) Position(instID, strategyID string) (*models.PositionState, bool) {
	p, ok := f.positions[pendingKey(instID, strategyID)]
	return p, ok
}

func newFakeLookup(positions ...*models.PositionState) *fakeLookup {
	m := make(map[string]*models.PositionState)
	for _, p := range positions {
		m[pendingKey(p.InstID, p.StrategyID)] = p
	}
	return &fakeLookup{positions: m}
}

func openPosition(instID, strategyID string) *models.PositionState {
	side := models.SideBuy
	return &models.PositionState{InstID: instID, StrategyID: strategyID, Side: &side, Qty: 1, EntryPrice: 100}
}

func testExitConfig() *config.Config {
	return &config.Config{Exit: config.ExitConfig{
		DebounceWindow:         time.Second,
		MaxRetries:             3,
		RetryBackoff:           time.Millisecond,
		EmergencyCloseOnBreach: true,
	}}
}

func noSleep(time.Duration) {}

func TestOrchestratorCollapsesLowerPriorityTriggerWithinDebounceWindow(t *testing.T) {
	closer := &fakeCloser{}
	o := NewOrchestrator(closer, &fakeEmergencyCloser{}, testExitConfig())
	o.sleep = noSleep

	now := time.Now()
	o.Collect(models.ExitTrigger{InstID: "BTC-USDT", StrategyID: "s1", Reason: models.ExitTimeStop, FiredAt: now})
	o.Collect(models.ExitTrigger{InstID: "BTC-USDT", StrategyID: "s1", Reason: models.ExitStopMissing, FiredAt: now})

	lookup := newFakeLookup(openPosition("BTC-USDT", "s1"))
	outcomes := o.Flush(context.Background(), now.Add(2*time.Second), lookup)
	if len(outcomes) != 1 {
		t.Fatalf("expected exactly one collapsed outcome, got %d", len(outcomes))
	}
	if outcomes[0].Reason != models.ExitStopMissing {
		t.Fatalf("Reason = %v, expected the higher-priority stop_missing to win over time_stop", outcomes[0].Reason)
	}
}

func TestOrchestratorDoesNotFlushBeforeDebounceWindowElapses(t *testing.T) {
	closer := &fakeCloser{}
	o := NewOrchestrator(closer, &fakeEmergencyCloser{}, testExitConfig())
	o.sleep = noSleep

	now := time.Now()
	o.Collect(models.ExitTrigger{InstID: "BTC-USDT", StrategyID: "s1", Reason: models.ExitTimeStop, FiredAt: now})

	lookup := newFakeLookup(openPosition("BTC-USDT", "s1"))
	outcomes := o.Flush(context.Background(), now.Add(10*time.Millisecond), lookup)
	if len(outcomes) != 0 {
		t.Fatalf("expected no flushed outcomes before the debounce window elapses, got %d", len(outcomes))
	}
}

func TestOrchestratorSucceedsOnFirstAttemptWithoutEscalating(t *testing.T) {
	closer := &fakeCloser{}
	emergency := &fakeEmergencyCloser{}
	o := NewOrchestrator(closer, emergency, testExitConfig())
	o.sleep = noSleep

	now := time.Now()
	o.Collect(models.ExitTrigger{InstID: "BTC-USDT", StrategyID: "s1", Reason: models.ExitTimeStop, FiredAt: now})
	lookup := newFakeLookup(openPosition("BTC-USDT", "s1"))
	outcomes := o.Flush(context.Background(), now.Add(2*time.Second), lookup)

	if len(outcomes) != 1 || outcomes[0].Err != nil || outcomes[0].Escalated {
		t.Fatalf("expected a clean single-attempt close, got %+v", outcomes)
	}
	if len(closer.calls) != 1 {
		t.Fatalf("expected exactly one submit call, got %d", len(closer.calls))
	}
	if emergency.calls != 0 {
		t.Fatalf("expected no emergency close call on a successful first attempt")
	}
	if !closer.calls[0].ReduceOnly {
		t.Fatalf("expected the closing order to be reduce-only")
	}
}

func TestOrchestratorEscalatesToEmergencyCloseAfterExhaustingRetries(t *testing.T) {
	closer := &fakeCloser{failFor: 99}
	emergency := &fakeEmergencyCloser{}
	o := NewOrchestrator(closer, emergency, testExitConfig())
	o.sleep = noSleep

	now := time.Now()
	o.Collect(models.ExitTrigger{InstID: "BTC-USDT", StrategyID: "s1", Reason: models.ExitStopLossHit, FiredAt: now})
	lookup := newFakeLookup(openPosition("BTC-USDT", "s1"))
	outcomes := o.Flush(context.Background(), now.Add(2*time.Second), lookup)

	if len(outcomes) != 1 || !outcomes[0].Escalated {
		t.Fatalf("expected an escalated outcome, got %+v", outcomes)
	}
	if len(closer.calls) != 3 {
		t.Fatalf("expected exactly MaxRetries (3) submit attempts before escalating, got %d", len(closer.calls))
	}
	if emergency.calls != 1 {
		t.Fatalf("expected exactly one emergency close call, got %d", emergency.calls)
	}
}

func TestOrchestratorDoesNotEscalateWhenEmergencyCloseOnBreachIsDisabled(t *testing.T) {
	cfg := testExitConfig()
	cfg.Exit.EmergencyCloseOnBreach = false
	closer := &fakeCloser{failFor: 99}
	emergency := &fakeEmergencyCloser{}
	o := NewOrchestrator(closer, emergency, cfg)
	o.sleep = noSleep

	now := time.Now()
	o.Collect(models.ExitTrigger{InstID: "BTC-USDT", StrategyID: "s1", Reason: models.ExitStopLossHit, FiredAt: now})
	lookup := newFakeLookup(openPosition("BTC-USDT", "s1"))
	outcomes := o.Flush(context.Background(), now.Add(2*time.Second), lookup)

	if len(outcomes) != 1 || outcomes[0].Err == nil || outcomes[0].Escalated {
		t.Fatalf("expected a surfaced failure without escalation, got %+v", outcomes)
	}
	if emergency.calls != 0 {
		t.Fatalf("expected no emergency close when EmergencyCloseOnBreach is false")
	}
}

type fakeKillSwitch struct{ engaged bool }

func (f fakeKillSwitch) Engaged() bool { return f.engaged }

type fakeLister struct{ positions []models.PositionState }

func (f fakeLister) ListOpen() []models.PositionState { return f.positions }

func TestCheckKillSwitchCollectsTriggerForEveryOpenPosition(t *testing.T) {
	closer := &fakeCloser{}
	o := NewOrchestrator(closer, &fakeEmergencyCloser{}, testExitConfig())
	o.sleep = noSleep

	now := time.Now()
	lister := fakeLister{positions: []models.PositionState{
		*openPosition("BTC-USDT", "s1"),
		*openPosition("ETH-USDT", "s2"),
	}}
	o.CheckKillSwitch(fakeKillSwitch{engaged: true}, lister, now)

	lookup := newFakeLookup(openPosition("BTC-USDT", "s1"), openPosition("ETH-USDT", "s2"))
	outcomes := o.Flush(context.Background(), now.Add(2*time.Second), lookup)
	if len(outcomes) != 2 {
		t.Fatalf("expected a close outcome for both open positions, got %d", len(outcomes))
	}
	for _, out := range outcomes {
		if out.Reason != models.ExitKillSwitch {
			t.Fatalf("Reason = %v, expected exit.kill_switch", out.Reason)
		}
	}
}

func TestCheckKillSwitchIsNoOpWhenDisengaged(t *testing.T) {
	closer := &fakeCloser{}
	o := NewOrchestrator(closer, &fakeEmergencyCloser{}, testExitConfig())
	o.sleep = noSleep

	now := time.Now()
	lister := fakeLister{positions: []models.PositionState{*openPosition("BTC-USDT", "s1")}}
	o.CheckKillSwitch(fakeKillSwitch{engaged: false}, lister, now)

	lookup := newFakeLookup(openPosition("BTC-USDT", "s1"))
	outcomes := o.Flush(context.Background(), now.Add(2*time.Second), lookup)
	if len(outcomes) != 0 {
		t.Fatalf("expected no outcomes when the kill switch is disengaged, got %d", len(outcomes))
	}
}
