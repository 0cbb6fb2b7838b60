package service

import (
	"fmt"
	"sync"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/strategy/indicator"
)

// EMARSIEngine emits a signal on an EMA-cross-confirmed-by-RSI condition:
// fast EMA above slow EMA with RSI oversold signals a buy, the mirror
// signals a sell. Ported from the teacher's emarsi.go.
type EMARSIEngine struct {
	mu sync.Mutex

	profile  models.StrategyProfile
	fast     map[string]*indicator.EMA
	slow     map[string]*indicator.EMA
	rsi      map[string]*indicator.Wilder
	lastSide map[string]models.SignalSide
	ticks    map[string]int64

	rsiPeriod             int
	overbought, oversold  float64
}

// NewEMARSIEngine builds an EMA/RSI cross engine from a profile. RSI
// period and thresholds are fixed to conventional defaults (14, 70/30);
// the profile only parameterizes the EMA periods, matching the fields
// StrategyInstanceConfig actually exposes.
func NewEMARSIEngine(profile models.StrategyProfile) *EMARSIEngine {
	return &EMARSIEngine{
		profile:    profile,
		fast:       make(map[string]*indicator.EMA),
		slow:       make(map[string]*indicator.EMA),
		rsi:        make(map[string]*indicator.Wilder),
		lastSide:   make(map[string]models.SignalSide),
		ticks:      make(map[string]int64),
		rsiPeriod:  14,
		overbought: 70,
		oversold:   30,
	}
}

func (e *EMARSIEngine) Name() string { return "ema_rsi:" + e.profile.SourceTag }

func (e *EMARSIEngine) state(instID string) (*indicator.EMA, *indicator.EMA, *indicator.Wilder) {
	fast, ok := e.fast[instID]
	if !ok {
		fast = indicator.NewEMA(e.profile.FastPeriod)
		e.fast[instID] = fast
	}
	slow, ok := e.slow[instID]
	if !ok {
		slow = indicator.NewEMA(e.profile.SlowPeriod)
		e.slow[instID] = slow
	}
	rsi, ok := e.rsi[instID]
	if !ok {
		rsi = indicator.NewWilderRSI(e.rsiPeriod)
		e.rsi[instID] = rsi
	}
	return fast, slow, rsi
}

func (e *EMARSIEngine) IsReady(instID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	fast, slow, rsi := e.state(instID)
	return fast.Ready() && slow.Ready() && rsi.Ready()
}

// OnTick folds one tick's price into warm state and, when enabled,
// evaluates an EMA/RSI cross. Warm state always advances regardless of
// enabled.
func (e *EMARSIEngine) OnTick(instID string, t models.Tick, enabled bool) (models.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fast, slow, rsi := e.state(instID)
	fast.Update(t.Price)
	slow.Update(t.Price)
	rsi.Update(t.Price)
	e.ticks[instID]++

	if !enabled || !fast.Ready() || !slow.Ready() || !rsi.Ready() {
		return models.Signal{}, false
	}
	if e.ticks[instID] < e.profile.MinTicksBetweenSignals {
		return models.Signal{}, false
	}

	var side models.SignalSide
	var reason string
	switch {
	case fast.Value() > slow.Value() && rsi.Value() < e.oversold:
		side = models.SignalBuy
		reason = fmt.Sprintf("ema_rsi buy: fast=%.6f > slow=%.6f, rsi=%.2f < %.2f", fast.Value(), slow.Value(), rsi.Value(), e.oversold)
	case fast.Value() < slow.Value() && rsi.Value() > e.overbought:
		side = models.SignalSell
		reason = fmt.Sprintf("ema_rsi sell: fast=%.6f < slow=%.6f, rsi=%.2f > %.2f", fast.Value(), slow.Value(), rsi.Value(), e.overbought)
	default:
		return models.Signal{}, false
	}

	if side == e.lastSide[instID] {
		return models.Signal{}, false
	}
	e.lastSide[instID] = side
	e.ticks[instID] = 0

	return models.Signal{
		StrategyID:  e.profile.StrategyID,
		StrategyVer: e.profile.Version,
		InstID:      instID,
		Side:        side,
		Reason:      reason,
		EmittedAt:   time.Now(),
	}, true
}
