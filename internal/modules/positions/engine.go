// Package positions implements the Position Lifecycle Engine: per-position
// MFE/MAE tracking, protective-stop placement on entry, dual expectancy
// (frozen at entry vs. continuously refreshed live estimate), and the
// exit-condition evaluation that feeds the exit orchestrator.
package positions

import (
	"context"
	"sync"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/metrics"
	"tradesandbox/pkg/logger"
)

// StopPlacer is the order-manager surface the engine needs to keep a
// position's protective stop current, narrowed so tests can fake it.
type StopPlacer interface {
	EnsureProtectiveStop(ctx context.Context, instID string, side models.OrderSide, qty, triggerPrice float64, existingAlgoID string) (string, error)
}

// ExpectancyProvider is the estimator surface the engine calls to freeze
// ExpectancyAtEntry and to refresh EVLive.
type ExpectancyProvider interface {
	EstimateEntryExpectancy(strategyID, instID string, now time.Time) (models.ExpectancySnapshot, error)
}

// tracked wraps a PositionState with the book-keeping the engine needs
// beyond what gets persisted: the resting stop's algo ID and the
// ev_non_positive hysteresis window.
type tracked struct {
	state     *models.PositionState
	algoID    string
	stopPrice float64

	evNonPositiveSince   time.Time
	evNonPositiveSamples int
}

// Engine owns every open position's lifecycle in-process. Keyed by
// instID+":"+strategyID, since the same instrument may be traded by more
// than one strategy concurrently (spec.md §2's per-strategy isolation).
type Engine struct {
	mu         sync.Mutex
	stops      StopPlacer
	expectancy ExpectancyProvider
	cfg        config.PositionConfig
	riskCfg    config.RiskConfig
	positions  map[string]*tracked
}

// NewEngine wires a position lifecycle engine against its dependencies.
func NewEngine(stops StopPlacer, expectancy ExpectancyProvider, cfg *config.Config) *Engine {
	return &Engine{
		stops:      stops,
		expectancy: expectancy,
		cfg:        cfg.Position,
		riskCfg:    cfg.Risk,
		positions:  make(map[string]*tracked),
	}
}

func key(instID, strategyID string) string {
	return instID + ":" + strategyID
}

// OnEntryFill opens (or adds to) a position from a fill, freezes
// ExpectancyAtEntry on first entry, and requests a protective stop at
// stopPrice. Per spec.md §4.8, a stop that cannot be placed when
// EnforceProtectiveStop is true fires an exit.stop_missing trigger
// immediately so the position does not sit unprotected.
func (e *Engine) OnEntryFill(ctx context.Context, instID, strategyID string, side models.OrderSide, fill models.Fill, stopPrice float64) (*models.PositionState, *models.ExitTrigger) {
	e.mu.Lock()
	t, ok := e.positions[key(instID, strategyID)]
	if !ok {
		t = &tracked{state: &models.PositionState{InstID: instID, StrategyID: strategyID}}
		e.positions[key(instID, strategyID)] = t
	}
	isNewEntry := t.state.IsFlat()
	t.state.ApplyFill(side, []models.Fill{fill})
	now := time.Now()
	t.state.UpdatedAt = now
	if isNewEntry {
		t.state.OpenedAt = now
		t.state.MFE = 0
		t.state.MAE = 0
		if snap, err := e.expectancy.EstimateEntryExpectancy(strategyID, instID, now); err == nil {
			t.state.ExpectancyAtEntry = &snap
			live := snap
			t.state.EVLive = &live
		} else {
			logger.Error("positions: estimate entry expectancy %s/%s: %v", strategyID, instID, err)
		}
	}
	t.stopPrice = stopPrice
	count := len(e.positions)
	e.mu.Unlock()
	metrics.SetOpenPositions(count)

	algoID, err := e.stops.EnsureProtectiveStop(ctx, instID, opposite(side), t.state.Qty, stopPrice, t.algoID)
	if err != nil {
		logger.Error("positions: protective stop %s/%s: %v", strategyID, instID, err)
		if e.cfg.EnforceProtectiveStop {
			return t.state, &models.ExitTrigger{
				InstID: instID, StrategyID: strategyID,
				Reason: models.ExitStopMissing, Detail: err.Error(), FiredAt: now,
			}
		}
		return t.state, nil
	}

	e.mu.Lock()
	t.algoID = algoID
	e.mu.Unlock()
	return t.state, nil
}

// OnFill folds a closing (or scaling) fill into an already-open position.
func (e *Engine) OnFill(side models.OrderSide, instID, strategyID string, fill models.Fill) (*models.PositionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.positions[key(instID, strategyID)]
	if !ok {
		return nil, false
	}
	t.state.ApplyFill(side, []models.Fill{fill})
	t.state.UpdatedAt = time.Now()
	if t.state.IsFlat() {
		delete(e.positions, key(instID, strategyID))
	}
	metrics.SetOpenPositions(len(e.positions))
	return t.state, true
}

// OnMarkUpdate refreshes mark-to-market excursions and live expectancy,
// then evaluates the time_stop, ev_non_positive and risk_degrade exit
// conditions. stop_missing is raised on entry fill instead, and
// stop_loss_hit, kill_switch and signal_reversal are not evaluated here. Returns
// every trigger that fires on this tick; the caller (exit orchestrator)
// is responsible for priority resolution and debouncing across ticks.
func (e *Engine) OnMarkUpdate(ctx context.Context, instID, strategyID string, price float64) []models.ExitTrigger {
	e.mu.Lock()
	t, ok := e.positions[key(instID, strategyID)]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	t.state.UpdateMarks(price)
	now := time.Now()
	t.state.UpdatedAt = now

	if snap, err := e.expectancy.EstimateEntryExpectancy(strategyID, instID, now); err == nil {
		t.state.EVLive = &snap
		metrics.SetExpectancyLive(strategyID, instID, snap.ExpectedReturnUSDT)
	}

	var triggers []models.ExitTrigger

	if trig, ok := e.evalTimeStop(t, instID, strategyID, now); ok {
		triggers = append(triggers, trig)
	}
	if trig, ok := e.evalEVNonPositive(t, instID, strategyID, now); ok {
		triggers = append(triggers, trig)
	}
	if trig, ok := e.evalRiskDegrade(t, instID, strategyID, now); ok {
		triggers = append(triggers, trig)
	}
	e.mu.Unlock()
	return triggers
}

func (e *Engine) evalTimeStop(t *tracked, instID, strategyID string, now time.Time) (models.ExitTrigger, bool) {
	expectedHoldMs := e.cfg.ExpectedHoldMsDefault
	if t.state.ExpectancyAtEntry != nil && t.state.ExpectancyAtEntry.ExpectedHoldingMs > 0 {
		expectedHoldMs = t.state.ExpectancyAtEntry.ExpectedHoldingMs
	}
	maxHold := time.Duration(float64(expectedHoldMs)*e.cfg.TimeStopMultiplier) * time.Millisecond
	if maxHold <= 0 || t.state.OpenedAt.IsZero() {
		return models.ExitTrigger{}, false
	}
	if now.Sub(t.state.OpenedAt) <= maxHold {
		return models.ExitTrigger{}, false
	}
	return models.ExitTrigger{
		InstID: instID, StrategyID: strategyID,
		Reason: models.ExitTimeStop, FiredAt: now,
		Detail: "held beyond expected_hold_ms * time_stop_multiplier",
	}, true
}

func (e *Engine) evalEVNonPositive(t *tracked, instID, strategyID string, now time.Time) (models.ExitTrigger, bool) {
	if t.state.EVLive == nil {
		return models.ExitTrigger{}, false
	}
	if t.state.EVLive.ExpectedReturnUSDT > 0 {
		t.evNonPositiveSince = time.Time{}
		t.evNonPositiveSamples = 0
		return models.ExitTrigger{}, false
	}

	if t.evNonPositiveSince.IsZero() {
		t.evNonPositiveSince = now
	}
	t.evNonPositiveSamples++

	sustainedSamples := t.evNonPositiveSamples >= e.cfg.EVNonPositiveSamples
	sustainedDuration := now.Sub(t.evNonPositiveSince) >= e.cfg.EVNonPositiveHysteresis
	if !sustainedSamples || !sustainedDuration {
		return models.ExitTrigger{}, false
	}
	return models.ExitTrigger{
		InstID: instID, StrategyID: strategyID,
		Reason: models.ExitEVNonPositive, FiredAt: now,
		Detail: "ev_live non-positive sustained past hysteresis window",
	}, true
}

func (e *Engine) evalRiskDegrade(t *tracked, instID, strategyID string, now time.Time) (models.ExitTrigger, bool) {
	ratio := t.state.DrawdownFromMFERatio()
	threshold := e.riskCfg.DegradeDrawdownRatio
	if threshold <= 0 || ratio < threshold {
		return models.ExitTrigger{}, false
	}
	return models.ExitTrigger{
		InstID: instID, StrategyID: strategyID,
		Reason: models.ExitRiskDegrade, FiredAt: now,
		Detail: "drawdown-from-mfe ratio breached degrade_drawdown_ratio",
	}, true
}

// CheckProtectiveStopPresence re-issues exit.stop_missing when periodic
// reconciliation (owned by the caller) discovers the resting stop order
// is gone from the venue without this engine having canceled it itself.
func (e *Engine) CheckProtectiveStopPresence(instID, strategyID string, stillResting bool) (models.ExitTrigger, bool) {
	e.mu.Lock()
	_, ok := e.positions[key(instID, strategyID)]
	e.mu.Unlock()
	if !ok || stillResting {
		return models.ExitTrigger{}, false
	}
	return models.ExitTrigger{
		InstID: instID, StrategyID: strategyID,
		Reason: models.ExitStopMissing, FiredAt: time.Now(),
		Detail: "protective stop no longer resting on venue",
	}, true
}

// NotifySignalReversal lets the strategy runtime report that it now
// wants the opposite side, producing the one exit trigger the engine
// cannot derive from price or EV alone.
func (e *Engine) NotifySignalReversal(instID, strategyID string) (models.ExitTrigger, bool) {
	e.mu.Lock()
	_, ok := e.positions[key(instID, strategyID)]
	e.mu.Unlock()
	if !ok {
		return models.ExitTrigger{}, false
	}
	return models.ExitTrigger{
		InstID: instID, StrategyID: strategyID,
		Reason: models.ExitSignalReversal, FiredAt: time.Now(),
	}, true
}

// Seed installs a position recovered from persisted state, bypassing the
// entry-fill path (no fill to apply, no new protective stop to place —
// the stop is assumed to already be resting under algoID). Used once at
// startup to rebuild the in-process book from a history replay before
// new signals are accepted, so a restart does not silently forget a
// still-open position.
func (e *Engine) Seed(state models.PositionState, algoID string, stopPrice float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[key(state.InstID, state.StrategyID)] = &tracked{
		state: &state, algoID: algoID, stopPrice: stopPrice,
	}
	metrics.SetOpenPositions(len(e.positions))
}

// StopOrderID returns the resting protective stop's algo ID for an open
// position, if any — for persistence bookkeeping alongside the position
// row (history.PositionRow.StopOrderID).
func (e *Engine) StopOrderID(instID, strategyID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.positions[key(instID, strategyID)]
	if !ok || t.algoID == "" {
		return "", false
	}
	return t.algoID, true
}

// Position returns the current state for (instID, strategyID), if open.
func (e *Engine) Position(instID, strategyID string) (*models.PositionState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.positions[key(instID, strategyID)]
	if !ok {
		return nil, false
	}
	return t.state, true
}

// ListOpen returns a snapshot of every currently open position, for the
// exit orchestrator's kill-switch sweep (which needs every position, not
// one keyed lookup).
func (e *Engine) ListOpen() []models.PositionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.PositionState, 0, len(e.positions))
	for _, t := range e.positions {
		out = append(out, *t.state)
	}
	return out
}

// ExposureUSDT implements risk.ExposureSource: the sum of every open
// position's notional for the given strategy (or every strategy, when
// strategyID is empty, for an account-wide reading).
func (e *Engine) ExposureUSDT(strategyID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total float64
	for _, t := range e.positions {
		if strategyID != "" && t.state.StrategyID != strategyID {
			continue
		}
		total += t.state.Qty * t.state.EntryPrice
	}
	return total
}

// DrawdownRatio implements risk.DegradeSource.
func (e *Engine) DrawdownRatio(instID, strategyID string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.positions[key(instID, strategyID)]
	if !ok {
		return 0, false
	}
	return t.state.DrawdownFromMFERatio(), true
}

func opposite(side models.OrderSide) models.OrderSide {
	if side == models.SideBuy {
		return models.SideSell
	}
	return models.SideBuy
}
