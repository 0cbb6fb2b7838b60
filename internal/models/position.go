package models

import "time"

// PositionStatus is the coarse lifecycle phase of a position.
type PositionStatus string

const (
	PositionFlat   PositionStatus = "flat"
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// PositionState is the mutable, per-instrument inventory and PnL ledger.
// Expectancy is tracked twice deliberately: ExpectancyAtEntry is frozen the
// moment the position opens (what the estimator believed at entry, used for
// post-trade calibration), while EVLive is refreshed on every exit
// evaluation tick (what the estimator believes now, used for live exit
// decisions). They are allowed to diverge.
type PositionState struct {
	InstID     string
	StrategyID string
	Side       *OrderSide
	Qty        float64
	EntryPrice float64

	RealizedPnL   float64
	UnrealizedPnL float64

	MFE float64 // max favorable excursion, as unrealized PnL since entry
	MAE float64 // max adverse excursion, as unrealized PnL since entry

	TradeCount        int
	WinningTradeCount int
	LosingTradeCount  int

	ExpectancyAtEntry *ExpectancySnapshot
	EVLive            *ExpectancySnapshot

	OpenedAt  time.Time
	UpdatedAt time.Time
}

// IsFlat reports whether the position carries no inventory.
func (p *PositionState) IsFlat() bool {
	return p.Side == nil || p.Qty <= 0
}

// ApplyFill folds one or more execution reports into the position, matching
// the opening/adding/closing cases the teacher's fill-application model
// handles. Closing fills realize PnL and update win/loss counters.
func (p *PositionState) ApplyFill(side OrderSide, fills []Fill) {
	for _, f := range fills {
		switch {
		case p.Side == nil:
			s := side
			p.Side = &s
			p.Qty = f.Qty
			p.EntryPrice = f.Price
		case *p.Side == side:
			totalCost := p.EntryPrice*p.Qty + f.Price*f.Qty
			p.Qty += f.Qty
			p.EntryPrice = totalCost / p.Qty
		default:
			closeQty := f.Qty
			if closeQty > p.Qty {
				closeQty = p.Qty
			}
			var pnl float64
			switch *p.Side {
			case SideBuy:
				pnl = (f.Price - p.EntryPrice) * closeQty
			case SideSell:
				pnl = (p.EntryPrice - f.Price) * closeQty
			}
			p.RealizedPnL += pnl
			if pnl > 0 {
				p.WinningTradeCount++
			} else if pnl < 0 {
				p.LosingTradeCount++
			}
			p.Qty -= closeQty
			if p.Qty <= 1e-12 {
				p.Side = nil
				p.Qty = 0
				p.EntryPrice = 0
			}
		}
	}
	p.TradeCount++
}

// UpdateMarks refreshes unrealized PnL and the MFE/MAE excursion envelope
// against the current mark price. MFE/MAE are monotonic: they never shrink
// within the life of an open position.
func (p *PositionState) UpdateMarks(currentPrice float64) {
	if p.IsFlat() {
		p.UnrealizedPnL = 0
		return
	}
	var pnl float64
	switch *p.Side {
	case SideBuy:
		pnl = (currentPrice - p.EntryPrice) * p.Qty
	case SideSell:
		pnl = (p.EntryPrice - currentPrice) * p.Qty
	}
	p.UnrealizedPnL = pnl
	if pnl > p.MFE {
		p.MFE = pnl
	}
	if pnl < p.MAE {
		p.MAE = pnl
	}
}

// WinRatePercent is the closed-trade win rate, 0 when no trades have closed.
func (p *PositionState) WinRatePercent() float64 {
	total := p.WinningTradeCount + p.LosingTradeCount
	if total == 0 {
		return 0
	}
	return float64(p.WinningTradeCount) / float64(total) * 100
}

// DrawdownFromMFERatio is the fraction of peak favorable excursion given
// back by the current unrealized PnL. It is the risk_degrade threshold
// family: 0 means sitting at the peak, 1 means fully round-tripped back to
// breakeven-or-worse relative to that peak.
func (p *PositionState) DrawdownFromMFERatio() float64 {
	if p.MFE <= 0 {
		return 0
	}
	dd := (p.MFE - p.UnrealizedPnL) / p.MFE
	if dd < 0 {
		return 0
	}
	if dd > 1 {
		return 1
	}
	return dd
}
