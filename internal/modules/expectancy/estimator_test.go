package expectancy

import (
	"testing"
	"time"

	"tradesandbox/internal/models"
)

type fakeStatsReader struct {
	local  models.TradeStatsWindow
	global models.TradeStatsWindow
}

func (f fakeStatsReader) LoadLocalStats(strategyID, instID string, lookback int) (models.TradeStatsWindow, error) {
	return f.local, nil
}

func (f fakeStatsReader) LoadGlobalStats(lookback int) (models.TradeStatsWindow, error) {
	return f.global, nil
}

func testCfg() EstimatorConfig {
	return EstimatorConfig{
		PriorA:            6,
		PriorB:            6,
		TailPriorA:        3,
		TailPriorB:        7,
		RecencyLambda:     0.08,
		ShrinkK:           40,
		LossThresholdUSDT: 15,
		TimeoutMsDefault:  1_800_000,
		GammaTailPenalty:  0.8,
		ProbModelVersion:  "beta-binomial-v1",
		EVModelVersion:    "ev-conservative-v1",
	}
}

func TestEstimatorWithNoSamplesFallsBackToPriors(t *testing.T) {
	e := NewEstimator(testCfg(), fakeStatsReader{})
	snap, err := e.EstimateEntryExpectancy("s1", "BTCUSDT", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// With no samples, wins=losses=0 for both local and global so p_win
	// reduces to the prior mean prior_a/(prior_a+prior_b) = 0.5.
	if snap.Probability.PWin < 0.49 || snap.Probability.PWin > 0.51 {
		t.Fatalf("p_win = %v, expected ~0.5 from bare priors", snap.Probability.PWin)
	}
	if snap.Probability.Confidence != models.ConfidenceLow {
		t.Fatalf("confidence = %v, expected low with n_eff=0", snap.Probability.Confidence)
	}
	if snap.ExpectedHoldingMs != testCfg().TimeoutMsDefault {
		t.Fatalf("expected holding ms to fall back to timeout default, got %d", snap.ExpectedHoldingMs)
	}
}

func TestEstimatorHighWinRateYieldsPositiveEV(t *testing.T) {
	local := models.TradeStatsWindow{Samples: []models.TradeStatsSample{
		{AgeDays: 1, PnLUSDT: 20, HoldingMs: 60_000},
		{AgeDays: 1, PnLUSDT: 18, HoldingMs: 60_000},
		{AgeDays: 1, PnLUSDT: 22, HoldingMs: 60_000},
		{AgeDays: 1, PnLUSDT: -5, HoldingMs: 60_000},
	}}
	e := NewEstimator(testCfg(), fakeStatsReader{local: local, global: local})
	snap, err := e.EstimateEntryExpectancy("s1", "BTCUSDT", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.ExpectedReturnUSDT <= 0 {
		t.Fatalf("expected positive conservative EV for a strongly winning sample set, got %v", snap.ExpectedReturnUSDT)
	}
	if snap.WorstCaseLossUSDT <= 0 {
		t.Fatalf("expected a nonzero worst-case loss from the one losing sample, got %v", snap.WorstCaseLossUSDT)
	}
}

func TestEstimatorTailLossesDragDownConservativeEV(t *testing.T) {
	mild := models.TradeStatsWindow{Samples: []models.TradeStatsSample{
		{AgeDays: 1, PnLUSDT: 10, HoldingMs: 60_000},
		{AgeDays: 1, PnLUSDT: -8, HoldingMs: 60_000},
	}}
	severe := models.TradeStatsWindow{Samples: []models.TradeStatsSample{
		{AgeDays: 1, PnLUSDT: 10, HoldingMs: 60_000},
		{AgeDays: 1, PnLUSDT: -200, HoldingMs: 60_000},
	}}
	cfg := testCfg()
	mildSnap, _ := NewEstimator(cfg, fakeStatsReader{local: mild, global: mild}).EstimateEntryExpectancy("s1", "BTCUSDT", time.Now())
	severeSnap, _ := NewEstimator(cfg, fakeStatsReader{local: severe, global: severe}).EstimateEntryExpectancy("s1", "BTCUSDT", time.Now())

	if severeSnap.ExpectedReturnUSDT >= mildSnap.ExpectedReturnUSDT {
		t.Fatalf("severe tail loss (%v) should conservatively penalize EV below mild case (%v)",
			severeSnap.ExpectedReturnUSDT, mildSnap.ExpectedReturnUSDT)
	}
}

func TestEstimatorMoreSamplesRaisesConfidence(t *testing.T) {
	var samples []models.TradeStatsSample
	for i := 0; i < 100; i++ {
		samples = append(samples, models.TradeStatsSample{AgeDays: 0, PnLUSDT: 10, HoldingMs: 60_000})
	}
	window := models.TradeStatsWindow{Samples: samples}
	e := NewEstimator(testCfg(), fakeStatsReader{local: window, global: window})
	snap, err := e.EstimateEntryExpectancy("s1", "BTCUSDT", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Probability.Confidence != models.ConfidenceHigh {
		t.Fatalf("confidence = %v, expected high with n_eff=100 (zero decay)", snap.Probability.Confidence)
	}
}
