package service

import (
	"fmt"
	"sync"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/strategy/indicator"
)

// DonchianEngine emits a signal when a tick breaks out of the channel
// formed by the prior FastPeriod ticks, filtered by a longer-period trend
// EMA (SlowPeriod) so breakouts against the prevailing trend are
// suppressed. Ported in structure from the teacher's donchian.go ring
// buffer and the donchain_v2 HTF trend-filter idea, collapsed into one
// concrete engine rather than two cooperating structs.
type DonchianEngine struct {
	mu sync.Mutex

	profile  models.StrategyProfile
	channels map[string]*indicator.MinMax
	trendEma map[string]*indicator.EMA
	lastSide map[string]models.SignalSide
	ticks    map[string]int64
}

// NewDonchianEngine builds a Donchian breakout engine from a profile.
func NewDonchianEngine(profile models.StrategyProfile) *DonchianEngine {
	return &DonchianEngine{
		profile:  profile,
		channels: make(map[string]*indicator.MinMax),
		trendEma: make(map[string]*indicator.EMA),
		lastSide: make(map[string]models.SignalSide),
		ticks:    make(map[string]int64),
	}
}

func (e *DonchianEngine) Name() string { return "donchian:" + e.profile.SourceTag }

func (e *DonchianEngine) state(instID string) (*indicator.MinMax, *indicator.EMA) {
	ch, ok := e.channels[instID]
	if !ok {
		ch = indicator.NewMinMax(e.profile.FastPeriod)
		e.channels[instID] = ch
	}
	ema, ok := e.trendEma[instID]
	if !ok {
		ema = indicator.NewEMA(e.profile.SlowPeriod)
		e.trendEma[instID] = ema
	}
	return ch, ema
}

func (e *DonchianEngine) IsReady(instID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ema := e.state(instID)
	return ch.Ready() && ema.Ready()
}

// OnTick folds one tick's price into warm state and, when enabled,
// evaluates a breakout. Warm state (the channel and trend EMA) always
// advances regardless of enabled so a strategy toggled off and back on
// resumes with no discontinuity. Signals for the same side are
// debounced: only a side change re-arms emission, and
// MinTicksBetweenSignals further rate-limits even re-arming. The ticks
// counter advances on every tick, enabled or not — turning a strategy
// off never resets the cooldown.
func (e *DonchianEngine) OnTick(instID string, t models.Tick, enabled bool) (models.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch, ema := e.state(instID)
	e.ticks[instID]++

	ready := ch.Ready()
	var high, low float64
	if ready {
		high, low = ch.Channel()
	}
	ema.Update(t.Price)
	ch.Push(t.Price)

	if !enabled || !ready || !ema.Ready() {
		return models.Signal{}, false
	}
	if e.ticks[instID] < e.profile.MinTicksBetweenSignals {
		return models.Signal{}, false
	}

	var side models.SignalSide
	var reason string
	switch {
	case t.Price > high && t.Price > ema.Value():
		side = models.SignalBuy
		reason = fmt.Sprintf("donchian breakout up: price=%.6f > high=%.6f, trend_ema=%.6f", t.Price, high, ema.Value())
	case t.Price < low && t.Price < ema.Value():
		side = models.SignalSell
		reason = fmt.Sprintf("donchian breakout down: price=%.6f < low=%.6f, trend_ema=%.6f", t.Price, low, ema.Value())
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
