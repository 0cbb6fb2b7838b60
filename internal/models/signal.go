package models

import "time"

// SignalSide is the directional bias a strategy emits.
type SignalSide string

const (
	SignalBuy  SignalSide = "buy"
	SignalSell SignalSide = "sell"
	SignalHold SignalSide = "hold"
)

// Signal is the output of a strategy evaluation for one instrument at one
// point in time. It carries enough context for the risk gate to size and
// score it without re-reading strategy-internal state.
type Signal struct {
	StrategyID   string
	StrategyVer  int
	InstID       string
	Side         SignalSide
	Confidence   float64
	Reason       string
	SuggestedQty float64
	EmittedAt    time.Time
}
