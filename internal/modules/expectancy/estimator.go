// Package expectancy implements the empirical-Bayes entry expectancy
// model: a recency-weighted, sample-shrunk blend of a strategy's local
// win rate and the account-wide global win rate, penalized for tail-loss
// risk, with a confidence tier derived from effective sample size.
package expectancy

import (
	"fmt"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

// TradeStatsReader loads the trade history windows the estimator blends.
// local is scoped to one (strategy, instrument) pair; global is pooled
// across every strategy and instrument.
type TradeStatsReader interface {
	LoadLocalStats(strategyID, instID string, lookback int) (models.TradeStatsWindow, error)
	LoadGlobalStats(lookback int) (models.TradeStatsWindow, error)
}

// EstimatorConfig mirrors config.EVConfig's tunables, decoupled from the
// config package so the estimator can be unit-tested without it.
type EstimatorConfig struct {
	PriorA                 float64
	PriorB                 float64
	TailPriorA             float64
	TailPriorB             float64
	RecencyLambda          float64
	ShrinkK                float64
	LossThresholdUSDT      float64
	TimeoutMsDefault       int64
	GammaTailPenalty       float64
	FeeSlippagePenaltyUSDT float64
	LookbackTrades         int
	ProbModelVersion       string
	EVModelVersion         string
}

// EstimatorConfigFromConfig adapts the process config's EVConfig group.
func EstimatorConfigFromConfig(cfg config.EVConfig) EstimatorConfig {
	return EstimatorConfig{
		PriorA:                 cfg.PriorA,
		PriorB:                 cfg.PriorB,
		TailPriorA:             cfg.TailPriorA,
		TailPriorB:             cfg.TailPriorB,
		RecencyLambda:          cfg.RecencyLambda,
		ShrinkK:                cfg.ShrinkK,
		LossThresholdUSDT:      cfg.LossThresholdUSDT,
		TimeoutMsDefault:       cfg.TimeoutMsDefault,
		GammaTailPenalty:       cfg.GammaTailPenalty,
		FeeSlippagePenaltyUSDT: cfg.FeeSlippagePenaltyUSDT,
		LookbackTrades:         cfg.LookbackTrades,
		ProbModelVersion:       "beta-binomial-v1",
		EVModelVersion:         "ev-conservative-v1",
	}
}

// Estimator is the built-in empirical-Bayes Predictor implementation.
type Estimator struct {
	cfg      EstimatorConfig
	reader   TradeStatsReader
	lookback int
}

// NewEstimator wires an estimator against a trade-stats reader and
// lookback window (clamped to at least 1 trade).
func NewEstimator(cfg EstimatorConfig, reader TradeStatsReader) *Estimator {
	lookback := cfg.LookbackTrades
	if lookback < 1 {
		lookback = 1
	}
	return &Estimator{cfg: cfg, reader: reader, lookback: lookback}
}

// EstimateEntryExpectancy blends local and global trade history into a
// conservative expectancy snapshot for a prospective entry.
func (e *Estimator) EstimateEntryExpectancy(strategyID, instID string, now time.Time) (models.ExpectancySnapshot, error) {
	local, err := e.reader.LoadLocalStats(strategyID, instID, e.lookback)
	if err != nil {
		return models.ExpectancySnapshot{}, fmt.Errorf("load local trade stats: %w", err)
	}
	global, err := e.reader.LoadGlobalStats(e.lookback)
	if err != nil {
		return models.ExpectancySnapshot{}, fmt.Errorf("load global trade stats: %w", err)
	}

	pWinLocal := posteriorWinProb(local, e.cfg.RecencyLambda, e.cfg.PriorA, e.cfg.PriorB)
	pWinGlobal := posteriorWinProb(global, e.cfg.RecencyLambda, e.cfg.PriorA, e.cfg.PriorB)
	nEff := local.NEff(e.cfg.RecencyLambda)
	shrinkK := e.cfg.ShrinkK
	if shrinkK < 1e-9 {
		shrinkK = 1e-9
	}
	alpha := nEff / (nEff + shrinkK)
	pWin := alpha*pWinLocal + (1-alpha)*pWinGlobal

	pTailLoss := posteriorTailProb(local, e.cfg.RecencyLambda, e.cfg.LossThresholdUSDT, e.cfg.TailPriorA, e.cfg.TailPriorB)
	pTimeoutExit := timeoutProb(local, e.cfg.TimeoutMsDefault)
	avgWin, avgLoss := local.WeightedAvgWinLoss(e.cfg.RecencyLambda)
	q05Loss := local.Q05LossAbsUSDT()

	ev := pWin*avgWin - (1-pWin)*avgLoss - e.cfg.FeeSlippagePenaltyUSDT
	evConservative := ev - e.cfg.GammaTailPenalty*pTailLoss*q05Loss

	expectedHoldingMs := local.MedianHoldingMs()
	if expectedHoldingMs == 0 {
		expectedHoldingMs = e.cfg.TimeoutMsDefault
		if expectedHoldingMs < 1 {
			expectedHoldingMs = 1
		}
	}

	return models.ExpectancySnapshot{
		ExpectedReturnUSDT:     evConservative,
		ExpectedHoldingMs:      expectedHoldingMs,
		WorstCaseLossUSDT:      q05Loss,
		FeeSlippagePenaltyUSDT: e.cfg.FeeSlippagePenaltyUSDT,
		Probability: models.ProbabilitySnapshot{
			PWin:         pWin,
			PTailLoss:    pTailLoss,
			PTimeoutExit: pTimeoutExit,
			NEff:         nEff,
			Confidence:   confidenceFromNEff(nEff),
			ProbModelVer: e.cfg.ProbModelVersion,
		},
		EVModelVer: e.cfg.EVModelVersion,
		ComputedAt: now,
	}, nil
}

func posteriorWinProb(w models.TradeStatsWindow, lambda, priorA, priorB float64) float64 {
	wins, losses := w.WeightedWinLoss(lambda)
	denom := priorA + priorB + wins + losses
	if denom < 1e-9 {
		denom = 1e-9
	}
	return (priorA + wins) / denom
}

func posteriorTailProb(w models.TradeStatsWindow, lambda, lossThresholdUSDT, priorA, priorB float64) float64 {
	tailEvents, lossEvents := w.WeightedTailEvents(lambda, lossThresholdUSDT)
	denom := priorA + priorB + lossEvents
	if denom < 1e-9 {
		denom = 1e-9
	}
	return (priorA + tailEvents) / denom
}

func timeoutProb(w models.TradeStatsWindow, thresholdMs int64) float64 {
	if len(w.Samples) == 0 {
		return 0.5
	}
	var timeout int
	for _, s := range w.Samples {
		if s.HoldingMs > thresholdMs {
			timeout++
		}
	}
	return float64(timeout) / float64(len(w.Samples))
}

func confidenceFromNEff(nEff float64) models.ConfidenceLevel {
	switch {
	case nEff >= 80:
		return models.ConfidenceHigh
	case nEff >= 20:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
