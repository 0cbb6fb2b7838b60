// Package exit implements the Exit Orchestrator: priority resolution
// across simultaneously-firing exit triggers, debounce-window collapse,
// and bounded retry-then-emergency-close escalation when a closing order
// fails.
package exit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/metrics"
	"tradesandbox/pkg/logger"
)

// Closer is the order-manager surface used to submit a reduce-only
// closing order, narrowed so tests can fake it without a live venue.
type Closer interface {
	Submit(ctx context.Context, intent models.OrderIntent, qty float64) (*models.OrderRecord, error)
}

// EmergencyCloser is the last-resort surface used once the bounded retry
// budget on a normal close is exhausted.
type EmergencyCloser interface {
	EmergencyClose(ctx context.Context, instID string, side models.OrderSide, qty float64) (string, error)
}

// KillSwitchSource reports the account-wide emergency-stop flag. Matches
// risk.KillSwitch's Engaged method exactly, narrowed so this package does
// not import risk for a single bool read.
type KillSwitchSource interface {
	Engaged() bool
}

// PositionLookup resolves one open position, matching
// positions.Engine.Position's signature.
type PositionLookup interface {
	Position(instID, strategyID string) (*models.PositionState, bool)
}

// PositionLister enumerates every open position, matching
// positions.Engine.ListOpen's signature — used only for the kill-switch
// sweep, which must reach positions no single trigger named.
type PositionLister interface {
	ListOpen() []models.PositionState
}

type pendingExit struct {
	trigger  models.ExitTrigger
	deadline time.Time
}

// CloseOutcome reports what happened resolving one collapsed trigger.
// Side/Qty echo what was actually submitted so the caller can fold the
// close into the position engine without recomputing it from the
// (already-consumed) trigger.
type CloseOutcome struct {
	InstID        string
	StrategyID    string
	Reason        models.ExitReason
	Side          models.OrderSide
	Qty           float64
	ClientOrderID string
	Escalated     bool
	Err           error
}

// Orchestrator collapses same-position triggers within a debounce window
// to the highest-priority one (spec.md §4.9's priority table, encoded on
// models.ExitReason.Outranks), then drives the close with a bounded
// retry-then-emergency-close escalation.
type Orchestrator struct {
	mu        sync.Mutex
	closer    Closer
	emergency EmergencyCloser
	cfg       config.ExitConfig
	pending   map[string]*pendingExit

	// sleep is overridden in tests to skip real backoff delays.
	sleep func(time.Duration)
}

// NewOrchestrator wires an exit orchestrator from the order-manager
// surfaces it drives and the exit config group.
func NewOrchestrator(closer Closer, emergency EmergencyCloser, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		closer:    closer,
		emergency: emergency,
		cfg:       cfg.Exit,
		pending:   make(map[string]*pendingExit),
		sleep:     time.Sleep,
	}
}

func pendingKey(instID, strategyID string) string {
	return instID + ":" + strategyID
}

// Collect buffers a freshly fired trigger. A second trigger for the same
// position within the debounce window replaces the pending one only if
// it outranks it; the debounce deadline is anchored to the first trigger
// in the window, not extended by later ones.
func (o *Orchestrator) Collect(trigger models.ExitTrigger) {
	o.mu.Lock()
	defer o.mu.Unlock()

	metrics.ObserveExitTrigger(string(trigger.Reason))

	key := pendingKey(trigger.InstID, trigger.StrategyID)
	p, ok := o.pending[key]
	if !ok {
		o.pending[key] = &pendingExit{trigger: trigger, deadline: trigger.FiredAt.Add(o.cfg.DebounceWindow)}
		return
	}
	if trigger.Reason.Outranks(p.trigger.Reason) {
		p.trigger = trigger
	}
}

// CheckKillSwitch sweeps every open position and collects an
// exit.kill_switch trigger for each one when the switch is engaged —
// the one exit condition that is account-wide rather than per-position,
// so no single OnMarkUpdate tick could have produced it.
func (o *Orchestrator) CheckKillSwitch(killSwitch KillSwitchSource, lister PositionLister, now time.Time) {
	if !killSwitch.Engaged() {
		return
	}
	for _, pos := range lister.ListOpen() {
		o.Collect(models.ExitTrigger{
			InstID: pos.InstID, StrategyID: pos.StrategyID,
			Reason: models.ExitKillSwitch, FiredAt: now,
		})
	}
}

// Flush resolves every trigger whose debounce window has elapsed,
// driving a close for each through the bounded retry/emergency-close
// path. Safe to call on a regular tick; triggers whose window hasn't
// elapsed yet are left pending.
func (o *Orchestrator) Flush(ctx context.Context, now time.Time, lookup PositionLookup) []CloseOutcome {
	o.mu.Lock()
	var ready []models.ExitTrigger
	for key, p := range o.pending {
		if !now.Before(p.deadline) {
			ready = append(ready, p.trigger)
			delete(o.pending, key)
		}
	}
	o.mu.Unlock()

	outcomes := make([]CloseOutcome, 0, len(ready))
	for _, trig := range ready {
		pos, ok := lookup.Position(trig.InstID, trig.StrategyID)
		if !ok || pos.IsFlat() {
			continue
		}
		side := opposite(*pos.Side)
		qty := trig.CloseQty
		if qty <= 0 || qty > pos.Qty {
			qty = pos.Qty
		}
		outcomes = append(outcomes, o.executeClose(ctx, trig, side, qty))
	}
	return outcomes
}

// executeClose submits a reduce-only closing order, making up to
// cfg.MaxRetries attempts in total (at least one) with cfg.RetryBackoff
// between attempts. If every
// attempt fails and EmergencyCloseOnBreach is set, it escalates to a
// market-flatten emergency close — never a silent infinite retry loop.
func (o *Orchestrator) executeClose(ctx context.Context, trig models.ExitTrigger, side models.OrderSide, qty float64) CloseOutcome {
	intent := models.OrderIntent{
		IntentID:   uuid.NewString(),
		StrategyID: trig.StrategyID,
		InstID:     trig.InstID,
		Side:       side,
		SizeMode:   models.SizeBaseQty,
		Amount:     qty,
		ReduceOnly: true,
		CreatedAt:  trig.FiredAt,
	}

	attempts := o.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		record, err := o.closer.Submit(ctx, intent, qty)
		if err == nil {
			clientOrderID := ""
			if record != nil {
				clientOrderID = record.ClientOrderID
			}
			return CloseOutcome{InstID: trig.InstID, StrategyID: trig.StrategyID, Reason: trig.Reason, Side: side, Qty: qty, ClientOrderID: clientOrderID}
		}
		lastErr = err
		logger.Error("exit: close attempt %d/%d for %s/%s (%s) failed: %v", i+1, attempts, trig.StrategyID, trig.InstID, trig.Reason, err)
		if i < attempts-1 {
			o.sleep(o.cfg.RetryBackoff)
		}
	}

	if !o.cfg.EmergencyCloseOnBreach || o.emergency == nil {
		return CloseOutcome{InstID: trig.InstID, StrategyID: trig.StrategyID, Reason: trig.Reason, Side: side, Qty: qty, Err: lastErr}
	}

	logger.Error("exit: escalating %s/%s to emergency close after %d failed attempts", trig.StrategyID, trig.InstID, attempts)
	metrics.ObserveExitEscalation()
	if _, err := o.emergency.EmergencyClose(ctx, trig.InstID, side, qty); err != nil {
		logger.Error("exit: emergency close failed for %s/%s: %v", trig.StrategyID, trig.InstID, err)
		return CloseOutcome{InstID: trig.InstID, StrategyID: trig.StrategyID, Reason: models.ExitEmergencyClose, Side: side, Qty: qty, Escalated: true, Err: fmt.Errorf("emergency close: %w", err)}
	}
	return CloseOutcome{InstID: trig.InstID, StrategyID: trig.StrategyID, Reason: models.ExitEmergencyClose, Side: side, Qty: qty, Escalated: true}
}

func opposite(side models.OrderSide) models.OrderSide {
	if side == models.SideBuy {
		return models.SideSell
	}
	return models.SideBuy
}
