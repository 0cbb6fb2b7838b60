package risk

import (
	"testing"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

type fakeInstruments struct {
	metas map[string]models.InstrumentMeta
}

func (f fakeInstruments) Meta(instID string) (models.InstrumentMeta, bool) {
	m, ok := f.metas[instID]
	return m, ok
}

type fakeBalances map[string]float64

func (f fakeBalances) Balance(asset string) float64 { return f[asset] }

type fakeExposure float64

func (f fakeExposure) ExposureUSDT(string) float64 { return float64(f) }

type fakeDegrade struct {
	ratio float64
	has   bool
}

func (f fakeDegrade) DrawdownRatio(string, string) (float64, bool) { return f.ratio, f.has }

func testGate(t *testing.T, cfg *config.Config, balances fakeBalances, exposure fakeExposure, degrade fakeDegrade) *Gate {
	t.Helper()
	instruments := fakeInstruments{metas: map[string]models.InstrumentMeta{
		"BTCUSDT": {InstID: "BTCUSDT", Market: models.MarketSpot, StepSize: 0.0001, MinQty: 0.0001, MaxQty: 100},
	}}
	governor := NewGovernor(map[models.RateScope]int{
		models.RateScopeGlobal: 100,
		models.RateScopeOrders: 100,
	}, time.Minute, 0.7)
	return NewGate(instruments, balances, exposure, degrade, governor, NewKillSwitch(), cfg)
}

func baseIntent() models.OrderIntent {
	return models.OrderIntent{
		IntentID:  "i1",
		InstID:    "BTCUSDT",
		Market:    models.MarketSpot,
		Side:      models.SideBuy,
		SizeMode:  models.SizeNotionalUSDT,
		Amount:    100,
		LastPrice: 50000,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			EVHardGateEnabled:    true,
			MaxExposureUSDT:      1000,
			DegradeDrawdownRatio: 0.6,
		},
		Rate: config.RateConfig{
			GlobalLimitPerMinute:     100,
			OrdersLimitPerMinute:     100,
			InstrumentLimitPerMinute: 100,
			WindowSeconds:            60,
		},
	}
}

func TestGateApprovesHappyPath(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 10000}, fakeExposure(0), fakeDegrade{})

	d := g.Evaluate(baseIntent())
	if !d.Approved {
		t.Fatalf("expected approval, got rejection: %+v", d.Hit)
	}
	if d.NormalizedQty <= 0 {
		t.Fatalf("expected positive normalized qty, got %v", d.NormalizedQty)
	}
}

func TestGateRejectsWhenKillSwitchEngaged(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 10000}, fakeExposure(0), fakeDegrade{})
	g.killSwitch.Engage()

	d := g.Evaluate(baseIntent())
	if d.Approved {
		t.Fatalf("expected rejection with the kill switch engaged")
	}
	if d.Hit.Reason != models.ReasonKillSwitch {
		t.Fatalf("Reason = %v, expected %v", d.Hit.Reason, models.ReasonKillSwitch)
	}
}

func TestGateRejectsNoPriceData(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 10000}, fakeExposure(0), fakeDegrade{})

	intent := baseIntent()
	intent.LastPrice = 0
	d := g.Evaluate(intent)
	if d.Approved || d.Hit.Reason != models.ReasonNoPriceData {
		t.Fatalf("expected ReasonNoPriceData, got %+v", d)
	}
}

func TestGateRejectsInsufficientQuoteBalance(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 1}, fakeExposure(0), fakeDegrade{})

	d := g.Evaluate(baseIntent())
	if d.Approved || d.Hit.Reason != models.ReasonInsufficientQuoteBalance {
		t.Fatalf("expected ReasonInsufficientQuoteBalance, got %+v", d)
	}
}

func TestGateRejectsNoSpotBaseBalanceOnSell(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{}, fakeExposure(0), fakeDegrade{})

	intent := baseIntent()
	intent.Side = models.SideSell
	intent.SizeMode = models.SizeBaseQty
	intent.Amount = 0.01
	d := g.Evaluate(intent)
	if d.Approved || d.Hit.Reason != models.ReasonNoSpotBaseBalance {
		t.Fatalf("expected ReasonNoSpotBaseBalance, got %+v", d)
	}
}

func TestGateRejectsEVBelowFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.EVFloorUSDT = 5.0
	g := testGate(t, cfg, fakeBalances{"USDT": 10000}, fakeExposure(0), fakeDegrade{})

	intent := baseIntent()
	intent.ExpectancyRef = &models.ExpectancySnapshot{ExpectedReturnUSDT: 1.0}
	d := g.Evaluate(intent)
	if d.Approved || d.Hit.Reason != models.ReasonEVBelowFloor {
		t.Fatalf("expected ReasonEVBelowFloor, got %+v", d)
	}
}

func TestGateEVHardGateOptOutSkipsFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.EVFloorUSDT = 5.0
	cfg.Strategy.Instances = map[string]config.StrategyInstanceConfig{
		"s1": {EVHardGateOptOut: true},
	}
	g := testGate(t, cfg, fakeBalances{"USDT": 10000}, fakeExposure(0), fakeDegrade{})

	intent := baseIntent()
	intent.StrategyID = "s1"
	intent.ExpectancyRef = &models.ExpectancySnapshot{ExpectedReturnUSDT: 1.0}
	d := g.Evaluate(intent)
	if !d.Approved {
		t.Fatalf("expected approval with EV hard gate opted out, got rejection: %+v", d.Hit)
	}
}

func TestGateRejectsDegradedPosition(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 10000}, fakeExposure(0), fakeDegrade{ratio: 0.9, has: true})

	d := g.Evaluate(baseIntent())
	if d.Approved || d.Hit.Reason != models.ReasonRiskDegraded {
		t.Fatalf("expected ReasonRiskDegraded, got %+v", d)
	}
}

func TestGateDegradedPositionStillAllowsReduceOnlyClose(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 10000, "BTC": 10}, fakeExposure(0), fakeDegrade{ratio: 0.9, has: true})

	intent := baseIntent()
	intent.Side = models.SideSell
	intent.ReduceOnly = true
	d := g.Evaluate(intent)
	if !d.Approved {
		t.Fatalf("expected reduce-only close to bypass degrade check, got rejection: %+v", d.Hit)
	}
}

func TestGateRejectsExposureCapExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxExposureUSDT = 50
	g := testGate(t, cfg, fakeBalances{"USDT": 10000}, fakeExposure(0), fakeDegrade{})

	d := g.Evaluate(baseIntent())
	if d.Approved || d.Hit.Reason != models.ReasonExposureCapExceeded {
		t.Fatalf("expected ReasonExposureCapExceeded, got %+v", d)
	}
}

func TestGateRejectsGlobalRateBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 1_000_000}, fakeExposure(0), fakeDegrade{})
	g.governor = NewGovernor(map[models.RateScope]int{
		models.RateScopeGlobal: 0,
		models.RateScopeOrders: 100,
	}, time.Minute, 0.7)

	d := g.Evaluate(baseIntent())
	if d.Approved || d.Hit.Reason != models.ReasonRateGlobalBudgetExceeded {
		t.Fatalf("expected ReasonRateGlobalBudgetExceeded, got %+v", d)
	}
}

func TestGateScopeRejectionRefundsGlobalCharge(t *testing.T) {
	cfg := testConfig()
	g := testGate(t, cfg, fakeBalances{"USDT": 1_000_000}, fakeExposure(0), fakeDegrade{})
	g.governor = NewGovernor(map[models.RateScope]int{
		models.RateScopeGlobal: 1,
		models.RateScopeOrders: 0,
	}, time.Minute, 0.7)

	d := g.Evaluate(baseIntent())
	if d.Approved || d.Hit.Reason != models.ReasonRateScopeBudgetExceeded {
		t.Fatalf("expected ReasonRateScopeBudgetExceeded, got %+v", d)
	}

	snap, ok := g.governor.Snapshot(models.RateScopeGlobal, time.Now())
	if !ok || snap.Used != 0 {
		t.Fatalf("expected global charge refunded after scope rejection, used=%d", snap.Used)
	}
}
