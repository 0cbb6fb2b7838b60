package models

import "time"

// Tick is a single trade print. Ordered within one instrument by
// Timestamp; never globally ordered across instruments.
type Tick struct {
	InstID    string
	Price     float64
	Quantity  float64
	Timestamp time.Time
	ReceivedAt time.Time
}

// Candle is a closed OHLCV bar, used by strategies that consume klines
// instead of raw trade ticks.
type Candle struct {
	InstID      string
	Timeframe   string
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
	Start       time.Time
	End         time.Time
}
