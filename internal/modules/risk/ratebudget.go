// Package risk implements the central risk/rate gate: a nine-step
// policy chain every order intent passes through before reaching the
// order manager, a per-scope sliding-window rate governor, and a
// per-(strategy, instrument) execution queue with round-robin dispatch.
package risk

import (
	"sync"
	"time"

	"tradesandbox/internal/models"
)

// slidingWindow tracks reservations made within the trailing window
// duration, evicting expired entries lazily on Reserve/Snapshot. This is
// a generalization of original_source/src/risk_module.rs's
// reserve_rate_budget, which tracks exactly one global fixed-window
// counter; here every RateScope gets its own sliding window so S2's
// literal "10 in 100ms, 11th before window rolls" scenario holds without
// one scope's burst crowding out another's.
type slidingWindow struct {
	limit  int
	window time.Duration
	stamps []time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	if limit < 0 {
		limit = 0
	}
	if window <= 0 {
		window = time.Minute
	}
	return &slidingWindow{limit: limit, window: window}
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for ; i < len(w.stamps); i++ {
		if w.stamps[i].After(cutoff) {
			break
		}
	}
	w.stamps = w.stamps[i:]
}

// reserve attempts to consume one unit at now. Returns false without
// consuming anything when the window is already at its limit.
func (w *slidingWindow) reserve(now time.Time) bool {
	w.evict(now)
	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// refund removes the most recent reservation, used when a later step in
// the chain rejects an intent after an earlier scope already charged it.
func (w *slidingWindow) refund() {
	if len(w.stamps) == 0 {
		return
	}
	w.stamps = w.stamps[:len(w.stamps)-1]
}

func (w *slidingWindow) snapshot(scope models.RateScope, now time.Time) models.RateBudgetSnapshot {
	w.evict(now)
	var resetIn time.Duration
	if len(w.stamps) > 0 {
		resetIn = w.window - now.Sub(w.stamps[0])
		if resetIn < 0 {
			resetIn = 0
		}
	}
	return models.RateBudgetSnapshot{
		Scope:      scope,
		Used:       len(w.stamps),
		Limit:      w.limit,
		WindowSize: w.window,
		ResetIn:    resetIn,
	}
}

// Governor is the sliding-window rate-budget ledger, one window per
// scope, all guarded by a single mutex — the one shared-state lock the
// charge/refund path needs, matching the contract that every reservation
// is globally serialized rather than racing across scopes.
type Governor struct {
	mu      sync.Mutex
	windows map[models.RateScope]*slidingWindow
	warnRatio float64
}

// NewGovernor builds a governor with one window per named scope. Unknown
// scopes reserved against later are created lazily with the fallback
// limit/window (used for per-instrument scopes, which are not known
// ahead of time).
func NewGovernor(limits map[models.RateScope]int, window time.Duration, warnRatio float64) *Governor {
	g := &Governor{windows: make(map[models.RateScope]*slidingWindow), warnRatio: warnRatio}
	for scope, limit := range limits {
		g.windows[scope] = newSlidingWindow(limit, window)
	}
	if g.warnRatio <= 0 {
		g.warnRatio = 0.7
	}
	return g
}

func (g *Governor) window(scope models.RateScope, fallbackLimit int, fallbackWindow time.Duration) *slidingWindow {
	w, ok := g.windows[scope]
	if !ok {
		w = newSlidingWindow(fallbackLimit, fallbackWindow)
		g.windows[scope] = w
	}
	return w
}

// Reserve consumes one unit of the named scope's budget at now. When the
// scope has never been configured it is created lazily with
// fallbackLimit/fallbackWindow (used for per-instrument scopes).
func (g *Governor) Reserve(scope models.RateScope, fallbackLimit int, fallbackWindow time.Duration, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window(scope, fallbackLimit, fallbackWindow).reserve(now)
}

// Refund releases the most recent reservation in scope — used when a
// later policy step rejects an intent that an earlier scope already
// charged, so a rejected intent never permanently consumes budget.
func (g *Governor) Refund(scope models.RateScope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w, ok := g.windows[scope]; ok {
		w.refund()
	}
}

// Snapshot reports current usage of scope for health/metrics surfaces.
func (g *Governor) Snapshot(scope models.RateScope, now time.Time) (models.RateBudgetSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.windows[scope]
	if !ok {
		return models.RateBudgetSnapshot{Scope: scope}, false
	}
	return w.snapshot(scope, now), true
}

// WarnRatio reports the configured warning utilization fraction. The
// gate does not read it, and no risk decision carries a warning.
func (g *Governor) WarnRatio() float64 { return g.warnRatio }
