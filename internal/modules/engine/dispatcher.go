package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/clock"
	"tradesandbox/internal/modules/eventbus"
	"tradesandbox/internal/modules/exit"
	"tradesandbox/internal/modules/expectancy"
	"tradesandbox/internal/modules/history"
	"tradesandbox/internal/modules/orders"
	"tradesandbox/internal/modules/positions"
	"tradesandbox/internal/modules/risk"
	"tradesandbox/pkg/logger"

	"tradesandbox/internal/modules/config"
)

const (
	balanceRefreshInterval    = 30 * time.Second
	instrumentRefreshInterval = time.Minute
	queuePollInterval         = 100 * time.Millisecond
)

// Dispatcher routes strategy signals through the policy chain to the
// order manager, folds the resulting fills into the position engine,
// and periodically evaluates every open position's exit conditions —
// the runtime that ties every otherwise-decoupled leaf module together.
// This is a sandbox execution engine: it treats a successful REST
// submission as an immediate fill at the instrument's last-known price rather than
// waiting on a matching-engine execution report, since there is no live
// venue behind it.
type Dispatcher struct {
	bus          *eventbus.Bus
	gate         *risk.Gate
	queue        *risk.ExecutionQueue
	killSwitch   *risk.KillSwitch
	manager      *orders.Manager
	instruments  *orders.InstrumentCache
	balances     *orders.BalanceCache
	positions    *positions.Engine
	orchestrator *exit.Orchestrator
	resolver     *expectancy.Resolver
	resync       *clock.ResyncLoop
	store        *history.Store
	cfg          *config.Config
	tracer       opentracing.Tracer

	positionIDs map[string]string // instID:strategyID -> position_id, assigned on first entry
}

// NewDispatcher wires a dispatcher from every already-constructed
// runtime component.
func NewDispatcher(
	bus *eventbus.Bus,
	gate *risk.Gate,
	queue *risk.ExecutionQueue,
	killSwitch *risk.KillSwitch,
	manager *orders.Manager,
	instruments *orders.InstrumentCache,
	balances *orders.BalanceCache,
	posEngine *positions.Engine,
	orchestrator *exit.Orchestrator,
	resolver *expectancy.Resolver,
	resync *clock.ResyncLoop,
	store *history.Store,
	cfg *config.Config,
	tracer opentracing.Tracer,
) *Dispatcher {
	return &Dispatcher{
		bus: bus, gate: gate, queue: queue, killSwitch: killSwitch,
		manager: manager, instruments: instruments, balances: balances,
		positions: posEngine, orchestrator: orchestrator, resolver: resolver,
		resync: resync, store: store, cfg: cfg, tracer: tracer,
		positionIDs: make(map[string]string),
	}
}

// Run starts every background loop the dispatcher owns and blocks until
// ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.seedOpenPositions(ctx)
	go d.instruments.RunRefreshLoop(ctx, d.cfg.Instruments.Enabled, models.MarketFutures, instrumentRefreshInterval)
	go d.balances.RunRefreshLoop(ctx, balanceRefreshInterval)
	go d.resync.Run(ctx)
	go d.consumeSignals(ctx)
	go d.drainQueue(ctx)
	go d.evalLoop(ctx)
}

func posKey(instID, strategyID string) string {
	return instID + ":" + strategyID
}

// seedOpenPositions rebuilds in-process position state and position-ID
// bookkeeping from the last known open rows, so a restart does not
// silently forget a position that is still open on the books.
func (d *Dispatcher) seedOpenPositions(ctx context.Context) {
	rows, err := d.store.ReplayOpenPositions(ctx)
	if err != nil {
		logger.Error("engine: replay open positions: %v", err)
		return
	}
	for _, row := range rows {
		d.positions.Seed(row.State, row.StopOrderID, 0)
		d.positionIDs[posKey(row.State.InstID, row.State.StrategyID)] = row.PositionID
	}
}

// consumeSignals subscribes to the event bus and turns every buy/sell
// strategy signal into a policy-chain evaluation.
func (d *Dispatcher) consumeSignals(ctx context.Context) {
	sub := d.bus.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Kind == models.EventStrategySignal && ev.Signal != nil {
				d.handleSignal(*ev.Signal)
			}
		}
	}
}

func (d *Dispatcher) handleSignal(sig models.Signal) {
	var side models.OrderSide
	switch sig.Side {
	case models.SignalBuy:
		side = models.SideBuy
	case models.SignalSell:
		side = models.SideSell
	default:
		return
	}

	meta, ok := d.instruments.Meta(sig.InstID)
	if !ok || meta.LastPrice <= 0 {
		return
	}

	amount := sig.SuggestedQty
	if amount <= 0 {
		amount = meta.MinQty
	}

	now := time.Now()
	var evRef *models.ExpectancySnapshot
	if snap, err := d.resolver.EstimateEntryExpectancy(sig.StrategyID, sig.InstID, now); err == nil {
		evRef = &snap
	}

	intent := models.OrderIntent{
		IntentID:      uuid.NewString(),
		StrategyID:    sig.StrategyID,
		InstID:        sig.InstID,
		Market:        models.MarketFutures,
		Side:          side,
		SizeMode:      models.SizeBaseQty,
		Amount:        amount,
		LastPrice:     meta.LastPrice,
		ExpectancyRef: evRef,
		CreatedAt:     now,
	}

	decision := d.gate.Evaluate(intent)
	if !decision.Approved {
		return
	}

	d.queue.Push(risk.Approved{
		IntentID:      decision.IntentID,
		StrategyID:    sig.StrategyID,
		InstID:        sig.InstID,
		NormalizedQty: decision.NormalizedQty,
		Market:        intent.Market,
		Side:          side,
		StopPrice:     stopPriceFor(side, meta.LastPrice, d.cfg.Position.StopLossPct),
	})
}

func stopPriceFor(side models.OrderSide, lastPrice, stopLossPct float64) float64 {
	if stopLossPct <= 0 {
		return 0
	}
	if side == models.SideBuy {
		return lastPrice * (1 - stopLossPct)
	}
	return lastPrice * (1 + stopLossPct)
}

// drainQueue pops approved intents off the round-robin queue and
// submits them, one at a time, on a short poll interval — the queue
// itself has no blocking pop, so the interval is the backpressure knob.
func (d *Dispatcher) drainQueue(ctx context.Context) {
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				a, ok := d.queue.Pop()
				if !ok {
					break
				}
				d.executeApproved(ctx, a)
			}
		}
	}
}

func (d *Dispatcher) executeApproved(ctx context.Context, a risk.Approved) {
	span := d.tracer.StartSpan("engine.execute_approved")
	span.SetTag("strategy_id", a.StrategyID)
	span.SetTag("inst_id", a.InstID)
	span.SetTag("side", string(a.Side))
	defer span.Finish()

	intent := models.OrderIntent{
		IntentID:   a.IntentID,
		StrategyID: a.StrategyID,
		InstID:     a.InstID,
		Market:     a.Market,
		Side:       a.Side,
		SizeMode:   models.SizeBaseQty,
		Amount:     a.NormalizedQty,
		ReduceOnly: a.ReduceOnly,
		CreatedAt:  time.Now(),
	}

	record, err := d.manager.Submit(ctx, intent, a.NormalizedQty)
	if record != nil {
		if perr := d.store.UpsertOrder(ctx, *record); perr != nil {
			logger.Error("engine: persist order %s: %v", record.ClientOrderID, perr)
		}
	}
	if err != nil {
		logger.Error("engine: submit %s/%s failed: %v", a.StrategyID, a.InstID, err)
		return
	}

	meta, _ := d.instruments.Meta(a.InstID)
	fill := models.Fill{
		FillID:   record.ExchangeOrderID,
		Price:    meta.LastPrice,
		Qty:      a.NormalizedQty,
		TradedAt: time.Now(),
	}
	if _, ok := d.manager.ApplyFill(record.ClientOrderID, fill); !ok {
		logger.Error("engine: apply fill for unknown order %s", record.ClientOrderID)
	}
	if perr := d.store.InsertFill(ctx, record.ClientOrderID, fill); perr != nil {
		logger.Error("engine: persist fill %s: %v", fill.FillID, perr)
	}

	state, trig := d.positions.OnEntryFill(ctx, a.InstID, a.StrategyID, a.Side, fill, a.StopPrice)
	d.assignPositionID(a.InstID, a.StrategyID)
	d.persistPosition(ctx, a.InstID, a.StrategyID, state, "", 0, nil)
	if trig != nil {
		d.orchestrator.Collect(*trig)
	}
}

func (d *Dispatcher) assignPositionID(instID, strategyID string) string {
	k := posKey(instID, strategyID)
	if id, ok := d.positionIDs[k]; ok {
		return id
	}
	id := uuid.NewString()
	d.positionIDs[k] = id
	return id
}

// persistPosition upserts the position row for the given lifecycle
// state. exitPrice/closedAt are only meaningful when the position just
// went flat; an open position persists with both zero-valued.
func (d *Dispatcher) persistPosition(ctx context.Context, instID, strategyID string, state *models.PositionState, exitReasonCode string, exitPrice float64, closedAt *time.Time) {
	if state == nil {
		return
	}
	id := d.assignPositionID(instID, strategyID)
	stopOrderID, _ := d.positions.StopOrderID(instID, strategyID)
	row := history.PositionRow{
		PositionID:     id,
		State:          *state,
		ExitReasonCode: exitReasonCode,
		StopOrderID:    stopOrderID,
		ExitPrice:      exitPrice,
		ClosedAt:       closedAt,
	}
	if err := d.store.UpsertPosition(ctx, row); err != nil {
		logger.Error("engine: persist position %s/%s: %v", strategyID, instID, err)
	}
	if closedAt != nil {
		delete(d.positionIDs, posKey(instID, strategyID))
	}
}

// evalLoop periodically marks every open position to market, feeds any
// exit triggers to the orchestrator, sweeps the kill switch, and flushes
// the orchestrator's debounce buffer.
func (d *Dispatcher) evalLoop(ctx context.Context) {
	interval := d.cfg.Position.EvalInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.evalTick(ctx, now)
		}
	}
}

func (d *Dispatcher) evalTick(ctx context.Context, now time.Time) {
	for _, pos := range d.positions.ListOpen() {
		meta, ok := d.instruments.Meta(pos.InstID)
		if !ok || meta.LastPrice <= 0 {
			continue
		}
		for _, trig := range d.positions.OnMarkUpdate(ctx, pos.InstID, pos.StrategyID, meta.LastPrice) {
			d.orchestrator.Collect(trig)
		}
	}

	d.orchestrator.CheckKillSwitch(d.killSwitch, d.positions, now)

	for _, outcome := range d.orchestrator.Flush(ctx, now, d.positions) {
		d.applyCloseOutcome(ctx, outcome)
	}
}

func (d *Dispatcher) applyCloseOutcome(ctx context.Context, outcome exit.CloseOutcome) {
	span := d.tracer.StartSpan("engine.apply_close_outcome")
	span.SetTag("strategy_id", outcome.StrategyID)
	span.SetTag("inst_id", outcome.InstID)
	span.SetTag("reason", string(outcome.Reason))
	span.SetTag("escalated", outcome.Escalated)
	defer span.Finish()

	if outcome.Err != nil {
		span.SetTag("error", true)
		return
	}
	fill := models.Fill{
		FillID:   uuid.NewString(),
		Qty:      outcome.Qty,
		TradedAt: time.Now(),
	}
	if meta, ok := d.instruments.Meta(outcome.InstID); ok {
		fill.Price = meta.LastPrice
	}
	// An escalated emergency close bypasses the order manager (it goes
	// straight to the REST client) and so has no order row to attach a
	// fill to; only a normal close, which carries the manager's
	// generated client order ID, gets a persisted trade row.
	if outcome.ClientOrderID != "" {
		if _, ok := d.manager.ApplyFill(outcome.ClientOrderID, fill); !ok {
			logger.Error("engine: apply close fill for unknown order %s", outcome.ClientOrderID)
		}
		if perr := d.store.InsertFill(ctx, outcome.ClientOrderID, fill); perr != nil {
			logger.Error("engine: persist close fill %s: %v", fill.FillID, perr)
		}
	}
	state, _ := d.positions.OnFill(outcome.Side, outcome.InstID, outcome.StrategyID, fill)
	if state != nil && state.IsFlat() {
		closedAt := time.Now()
		d.persistPosition(ctx, outcome.InstID, outcome.StrategyID, state, string(outcome.Reason), fill.Price, &closedAt)
	}
}
