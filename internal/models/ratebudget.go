package models

import "time"

// RateScope identifies the bucket a rate-budget reservation is drawn
// against. The gate tracks one sliding window per scope rather than a
// single global counter, so a noisy strategy cannot starve the others.
type RateScope string

const (
	RateScopeGlobal    RateScope = "global"
	RateScopeOrders    RateScope = "orders"
	RateScopeInstrumnt RateScope = "instrument" // per-instrument, suffixed with InstID by caller
)

// RateBudgetSnapshot reports current consumption of one scope's sliding
// window, for health/metrics surfaces.
type RateBudgetSnapshot struct {
	Scope      RateScope
	Used       int
	Limit      int
	WindowSize time.Duration
	ResetIn    time.Duration
}

// Exhausted reports whether the scope has no remaining budget.
func (s RateBudgetSnapshot) Exhausted() bool {
	return s.Used >= s.Limit
}
