package models

import "time"

// OrderStatus is the internal, exchange-agnostic order lifecycle state.
type OrderStatus string

const (
	OrderSubmitted      OrderStatus = "submitted"
	OrderFilled         OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderCanceled       OrderStatus = "canceled"
	OrderRejected       OrderStatus = "rejected"
)

// TranslateExternalStatus maps a venue's raw status string onto the closed
// internal OrderStatus set. Unrecognized strings return ok=false so callers
// can log and hold the prior known status rather than silently misfile it.
//
// EXPIRED collapses into Canceled: from the book's perspective an expired
// resting order and a canceled one are indistinguishable — no fill occurred
// and the reserved qty is released.
func TranslateExternalStatus(raw string) (OrderStatus, bool) {
	switch raw {
	case "NEW", "LIVE":
		return OrderSubmitted, true
	case "FILLED":
		return OrderFilled, true
	case "PARTIALLY_FILLED":
		return OrderPartiallyFilled, true
	case "CANCELED", "CANCELLED":
		return OrderCanceled, true
	case "REJECTED":
		return OrderRejected, true
	case "EXPIRED":
		return OrderCanceled, true
	default:
		return "", false
	}
}

// Fill is one execution report against an OrderRecord.
type Fill struct {
	FillID    string
	Price     float64
	Qty       float64
	Fee       float64
	FeeAsset  string
	TradedAt  time.Time
}

// OrderRecord is the durable, mutable record of one submitted order. The
// Order Manager owns transitions on Status; everything else is the
// immutable submission it was created with.
type OrderRecord struct {
	ClientOrderID string
	ExchangeOrderID string
	IntentID      string
	StrategyID    string
	InstID        string
	Market        MarketKind
	Side          OrderSide
	ReduceOnly    bool
	Qty           float64
	Price         float64 // 0 for market orders
	Status        OrderStatus
	Fills         []Fill
	FilledQty     float64
	AvgFillPrice  float64
	SubmittedAt   time.Time
	UpdatedAt     time.Time
}

// ApplyFill folds an execution report into the record's cumulative fill
// bookkeeping, recomputing the volume-weighted average fill price.
func (o *OrderRecord) ApplyFill(f Fill) {
	totalQty := o.FilledQty + f.Qty
	if totalQty > 0 {
		o.AvgFillPrice = (o.AvgFillPrice*o.FilledQty + f.Price*f.Qty) / totalQty
	}
	o.FilledQty = totalQty
	o.Fills = append(o.Fills, f)
	o.UpdatedAt = f.TradedAt
}
