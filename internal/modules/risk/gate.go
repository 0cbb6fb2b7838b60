package risk

import (
	"fmt"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/metrics"
)

// InstrumentSource resolves an instrument's current filters and last
// price — the exchange-side facts the gate normalizes quantity against.
// Grounded on original_source/src/risk_module.rs's
// get_spot_symbol_order_rules/get_futures_symbol_order_rules, collapsed
// into one lookup since InstrumentMeta already carries both the filters
// and the last price.
type InstrumentSource interface {
	Meta(instID string) (models.InstrumentMeta, bool)
}

// BalanceSource reports free balance of an asset, keyed the same way the
// teacher's balances map is (e.g. "USDT", "BTC").
type BalanceSource interface {
	Balance(asset string) float64
}

// ExposureSource reports the strategy's (or account's) current open
// notional exposure in USDT, checked against RiskConfig.MaxExposureUSDT.
type ExposureSource interface {
	ExposureUSDT(strategyID string) float64
}

// DegradeSource reports the live drawdown-from-MFE ratio for an open
// position on (instID, strategyID), if one exists — the family chosen
// for the risk_degrade threshold (see DESIGN.md Open Question 1).
type DegradeSource interface {
	DrawdownRatio(instID, strategyID string) (float64, bool)
}

// Gate runs the nine-step policy chain, short-circuiting at the first
// rejection. Steps, in order: (0) kill switch disengaged, (1) price data
// present, (2) quantity normalization to instrument filters, (3) balance
// sufficiency, (4) EV hard floor, (5) risk-degrade breach, (6) exposure
// cap, (7) global rate budget, (8) per-scope (orders + instrument) rate
// budget.
type Gate struct {
	instruments InstrumentSource
	balances    BalanceSource
	exposure    ExposureSource
	degrade     DegradeSource
	governor    *Governor
	killSwitch  *KillSwitch
	cfg         config.RiskConfig
	rate        config.RateConfig
	strategy    config.StrategyConfig
}

// NewGate wires a policy-chain gate from its dependency sources and the
// risk/rate config groups.
func NewGate(instruments InstrumentSource, balances BalanceSource, exposure ExposureSource, degrade DegradeSource, governor *Governor, killSwitch *KillSwitch, cfg *config.Config) *Gate {
	return &Gate{
		instruments: instruments,
		balances:    balances,
		exposure:    exposure,
		degrade:     degrade,
		governor:    governor,
		killSwitch:  killSwitch,
		strategy:    cfg.Strategy,
		cfg:         cfg.Risk,
		rate:        cfg.Rate,
	}
}

func reject(intentID, step string, reason models.RejectionReason, detail string) models.RiskDecision {
	return models.Rejected(intentID, models.PolicyHit{Step: step, Reason: reason, Detail: detail})
}

// Evaluate runs intent through the policy chain and returns the final
// verdict, recording the outcome (and rejection reason, if any) to the
// risk-decisions metric. ExpectancyRef, if present, supplies the EV the
// hard-floor step checks; an intent with no ExpectancyRef skips that
// step (treated as passing — exits and reduce-only closes never carry
// one).
func (g *Gate) Evaluate(intent models.OrderIntent) models.RiskDecision {
	decision := g.evaluate(intent)
	if decision.Approved {
		metrics.ObserveRiskDecision("approved", "")
	} else {
		reason := string(models.ReasonUnknown)
		if decision.Hit != nil {
			reason = string(decision.Hit.Reason)
		}
		metrics.ObserveRiskDecision("rejected", reason)
	}
	return decision
}

func (g *Gate) evaluate(intent models.OrderIntent) models.RiskDecision {
	now := time.Now()

	// 0. kill switch.
	if g.killSwitch != nil && g.killSwitch.Engaged() {
		return reject(intent.IntentID, "kill_switch", models.ReasonKillSwitch, "kill switch engaged")
	}

	// 1. price data present.
	if intent.LastPrice <= 0 {
		return reject(intent.IntentID, "price_data", models.ReasonNoPriceData, "no price data yet")
	}

	meta, ok := g.instruments.Meta(intent.InstID)
	if !ok {
		return reject(intent.IntentID, "price_data", models.ReasonNoPriceData, "instrument metadata not registered")
	}

	// 2. quantity normalization.
	rawQty := g.rawQuantity(intent, meta)
	var qty float64
	if intent.Market == models.MarketFutures {
		required := meta.MinQty
		if rawQty > required {
			required = rawQty
		}
		if meta.MinNotional > 0 && intent.LastPrice > 0 {
			if n := meta.MinNotional / intent.LastPrice; n > required {
				required = n
			}
		}
		qty = meta.CeilToStep(required)
	} else {
		qty = meta.FloorToStep(rawQty)
	}

	if qty <= 0 {
		return reject(intent.IntentID, "qty_normalize", models.ReasonQtyTooSmall,
			fmt.Sprintf("raw qty %.8f normalized to 0 at step %.8f", rawQty, meta.StepSize))
	}
	if qty < meta.MinQty {
		return reject(intent.IntentID, "qty_normalize", models.ReasonQtyBelowMin,
			fmt.Sprintf("qty %.8f below min %.8f", qty, meta.MinQty))
	}
	if meta.MaxQty > 0 && qty > meta.MaxQty {
		return reject(intent.IntentID, "qty_normalize", models.ReasonQtyAboveMax,
			fmt.Sprintf("qty %.8f above max %.8f", qty, meta.MaxQty))
	}

	// 3. balance sufficiency (spot only — futures margin checks are a
	// Non-goal, matching original_source's same spot-only scope).
	if intent.Market == models.MarketSpot {
		base, quote := splitSymbolAssets(intent.InstID)
		switch intent.Side {
		case models.SideBuy:
			quoteFree := g.balances.Balance(quote)
			orderValue := qty * intent.LastPrice
			if quoteFree < orderValue {
				return reject(intent.IntentID, "balance", models.ReasonInsufficientQuoteBalance,
					fmt.Sprintf("need %.2f %s, have %.2f", orderValue, quote, quoteFree))
			}
		case models.SideSell:
			baseFree := g.balances.Balance(base)
			if baseFree <= 1e-12 {
				return reject(intent.IntentID, "balance", models.ReasonNoSpotBaseBalance,
					fmt.Sprintf("no %s balance to sell", base))
			}
			if baseFree < qty {
				return reject(intent.IntentID, "balance", models.ReasonInsufficientBaseBalance,
					fmt.Sprintf("need %.8f %s, have %.8f", qty, base, baseFree))
			}
		}
	}

	// 4. EV hard floor (global, with per-strategy opt-out — Open Question
	// decision 2).
	if ev := intent.ExpectancyRef; ev != nil && g.evHardGateApplies(intent.StrategyID) {
		floor := g.evFloorFor(intent.StrategyID)
		if !ev.PassesHardFloor(floor) {
			return reject(intent.IntentID, "ev_floor", models.ReasonEVBelowFloor,
				fmt.Sprintf("expected return %.4f below floor %.4f", ev.ExpectedReturnUSDT, floor))
		}
	}

	// 5. risk-degrade breach — only gates new/adding exposure, not
	// reduce-only closes (a degraded position must still be closable).
	if !intent.ReduceOnly && g.degrade != nil {
		if ratio, has := g.degrade.DrawdownRatio(intent.InstID, intent.StrategyID); has {
			if threshold := g.degradeThresholdFor(intent.StrategyID); ratio >= threshold {
				return reject(intent.IntentID, "degrade", models.ReasonRiskDegraded,
					fmt.Sprintf("drawdown-from-MFE ratio %.4f >= threshold %.4f", ratio, threshold))
			}
		}
	}

	// 6. exposure cap.
	if !intent.ReduceOnly && g.exposure != nil {
		cap := g.exposureCapFor(intent.StrategyID)
		current := g.exposure.ExposureUSDT(intent.StrategyID)
		if current+qty*intent.LastPrice > cap {
			return reject(intent.IntentID, "exposure_cap", models.ReasonExposureCapExceeded,
				fmt.Sprintf("exposure %.2f + %.2f exceeds cap %.2f", current, qty*intent.LastPrice, cap))
		}
	}

	// 7. global rate budget.
	if !g.governor.Reserve(models.RateScopeGlobal, g.rate.GlobalLimitPerMinute, time.Duration(g.rate.WindowSeconds)*time.Second, now) {
		return reject(intent.IntentID, "rate_global", models.ReasonRateGlobalBudgetExceeded, "global rate budget exhausted")
	}

	// 8. per-scope rate budget (orders + per-instrument). A rejection
	// here refunds the global charge from step 7 so a rejected intent
	// never leaves stale consumption behind.
	if !g.governor.Reserve(models.RateScopeOrders, g.rate.OrdersLimitPerMinute, time.Duration(g.rate.WindowSeconds)*time.Second, now) {
		g.governor.Refund(models.RateScopeGlobal)
		return reject(intent.IntentID, "rate_scope", models.ReasonRateScopeBudgetExceeded, "orders rate budget exhausted")
	}
	instScope := models.RateScope("instrument:" + intent.InstID)
	if !g.governor.Reserve(instScope, g.rate.InstrumentLimitPerMinute, time.Duration(g.rate.WindowSeconds)*time.Second, now) {
		g.governor.Refund(models.RateScopeOrders)
		g.governor.Refund(models.RateScopeGlobal)
		return reject(intent.IntentID, "rate_scope", models.ReasonRateScopeBudgetExceeded,
			fmt.Sprintf("instrument rate budget exhausted for %s", intent.InstID))
	}

	return models.Approved(intent.IntentID, qty)
}

func (g *Gate) rawQuantity(intent models.OrderIntent, meta models.InstrumentMeta) float64 {
	if intent.SizeMode == models.SizeBaseQty {
		return intent.Amount
	}
	if intent.Side == models.SideSell && intent.Market == models.MarketSpot {
		base, _ := splitSymbolAssets(intent.InstID)
		return g.balances.Balance(base)
	}
	if intent.LastPrice <= 0 {
		return 0
	}
	return intent.Amount / intent.LastPrice
}

// evHardGateApplies implements Open Question decision 2: the EV hard
// floor is a global policy-chain step by default, with a per-strategy
// opt-out (strategy.<id>.ev_hard_gate_opt_out) rather than per-strategy
// enablement by default.
func (g *Gate) evHardGateApplies(strategyID string) bool {
	if !g.cfg.EVHardGateEnabled {
		return false
	}
	if inst, ok := g.strategy.Instances[strategyID]; ok && inst.EVHardGateOptOut {
		return false
	}
	return true
}

func (g *Gate) evFloorFor(strategyID string) float64 {
	if o, ok := g.cfg.Strategy[strategyID]; ok && o.EVFloorUSDT != nil {
		return *o.EVFloorUSDT
	}
	return g.cfg.EVFloorUSDT
}

func (g *Gate) degradeThresholdFor(strategyID string) float64 {
	if o, ok := g.cfg.Strategy[strategyID]; ok && o.DegradeDrawdownRatio != nil {
		return *o.DegradeDrawdownRatio
	}
	return g.cfg.DegradeDrawdownRatio
}

func (g *Gate) exposureCapFor(strategyID string) float64 {
	if o, ok := g.cfg.Strategy[strategyID]; ok && o.MaxExposureUSDT != nil {
		return *o.MaxExposureUSDT
	}
	return g.cfg.MaxExposureUSDT
}

// splitSymbolAssets mirrors original_source/src/risk_module.rs's
// split_symbol_assets: strips a known quote suffix from a concatenated
// symbol like "BTCUSDT" to recover ("BTC", "USDT").
func splitSymbolAssets(symbol string) (base, quote string) {
	quoteSuffixes := []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "TRY", "EUR", "BTC", "ETH", "BNB"}
	for _, q := range quoteSuffixes {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, ""
}
