package models

import "time"

// OrderSide is the submitted direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// SizeMode controls how OrderIntent.Amount is interpreted by the risk gate.
type SizeMode string

const (
	// SizeNotionalUSDT means Amount is a quote-currency notional to convert
	// to base quantity at LastPrice.
	SizeNotionalUSDT SizeMode = "notional_usdt"
	// SizeBaseQty means Amount is already a base-asset quantity.
	SizeBaseQty SizeMode = "base_qty"
)

// OrderIntent is a strategy's request to open, add to, or close a position.
// It is immutable once created; the risk gate produces a RiskDecision from
// it without mutating the intent itself.
type OrderIntent struct {
	IntentID      string
	StrategyID    string
	InstID        string
	Market        MarketKind
	Side          OrderSide
	SizeMode      SizeMode
	Amount        float64
	LastPrice     float64
	ReduceOnly    bool
	ExpectancyRef *ExpectancySnapshot
	CreatedAt     time.Time
}
