// Package metrics exposes the engine's Prometheus series: order flow,
// risk-gate decisions, rate-budget utilization, exit triggers and
// position counts. Named and registered the way the pack's
// prometheus-instrumented bot does it (chidi150c-coinbase/metrics.go):
// package-level CounterVec/GaugeVec values, registered once in an
// init-time MustRegister call, with small setter/incrementer helpers so
// callers never touch a *prometheus.CounterVec directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesandbox_orders_submitted_total",
			Help: "Orders submitted to the venue, by instrument and side.",
		},
		[]string{"instrument", "side"},
	)

	OrderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesandbox_order_retries_total",
			Help: "Order submit retries, by reason (time_drift).",
		},
		[]string{"reason"},
	)

	RiskDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesandbox_risk_decisions_total",
			Help: "Risk/rate gate decisions, by outcome and rejection reason.",
		},
		[]string{"outcome", "reason"},
	)

	RateBudgetUsedRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradesandbox_rate_budget_used_ratio",
			Help: "Fraction of a rate-budget scope's sliding window currently consumed.",
		},
		[]string{"scope"},
	)

	ExitTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesandbox_exit_triggers_total",
			Help: "Exit triggers collected, by reason.",
		},
		[]string{"reason"},
	)

	ExitEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradesandbox_exit_escalations_total",
			Help: "Closes that exhausted normal retries and escalated to emergency close.",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradesandbox_open_positions",
			Help: "Currently open positions across every strategy and instrument.",
		},
	)

	ExpectancyLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradesandbox_expectancy_live_usdt",
			Help: "Most recently computed live expectancy, by strategy and instrument.",
		},
		[]string{"strategy", "instrument"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted, OrderRetries, RiskDecisions, RateBudgetUsedRatio,
		ExitTriggers, ExitEscalations, OpenPositions, ExpectancyLive,
	)
}

// ObserveRiskDecision records one risk-gate evaluation outcome.
func ObserveRiskDecision(outcome, reason string) {
	RiskDecisions.WithLabelValues(outcome, reason).Inc()
}

// ObserveOrderSubmitted records one accepted order submission.
func ObserveOrderSubmitted(instrument, side string) {
	OrdersSubmitted.WithLabelValues(instrument, side).Inc()
}

// ObserveOrderRetry records one retry-on-rejection attempt.
func ObserveOrderRetry(reason string) {
	OrderRetries.WithLabelValues(reason).Inc()
}

// SetRateBudgetUsedRatio publishes one scope's current utilization.
func SetRateBudgetUsedRatio(scope string, usedRatio float64) {
	RateBudgetUsedRatio.WithLabelValues(scope).Set(usedRatio)
}

// ObserveExitTrigger records one collected exit trigger.
func ObserveExitTrigger(reason string) {
	ExitTriggers.WithLabelValues(reason).Inc()
}

// ObserveExitEscalation records one emergency-close escalation.
func ObserveExitEscalation() {
	ExitEscalations.Inc()
}

// SetOpenPositions publishes the current open-position count.
func SetOpenPositions(n int) {
	OpenPositions.Set(float64(n))
}

// SetExpectancyLive publishes the most recent live expectancy reading for
// one strategy/instrument pair.
func SetExpectancyLive(strategyID, instID string, evUSDT float64) {
	ExpectancyLive.WithLabelValues(strategyID, instID).Set(evUSDT)
}
