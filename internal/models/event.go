package models

import "time"

// EventKind discriminates the payload carried by an Event. Go has no sum
// types, so Event carries one populated payload pointer per kind rather
// than an interface{} — callers switch on Kind and know exactly which
// field is non-nil.
type EventKind string

const (
	EventMarketTick     EventKind = "market_tick"
	EventCandleClosed   EventKind = "candle_closed"
	EventStrategySignal EventKind = "strategy_signal"
	EventOrderUpdate    EventKind = "order_update"
	EventWsStatus       EventKind = "ws_status"
	EventError          EventKind = "error"
)

// WsConnStatus is the connection-level state of one market-data stream
// worker.
type WsConnStatus string

const (
	WsConnected     WsConnStatus = "connected"
	WsDisconnected  WsConnStatus = "disconnected"
	WsReconnecting  WsConnStatus = "reconnecting"
)

// WsStatusUpdate reports a stream worker's connection transition.
type WsStatusUpdate struct {
	InstID  string
	Status  WsConnStatus
	Attempt int
}

// OrderUpdate reports an OrderRecord transition, emitted by the order
// manager whenever it observes a new status or fill.
type OrderUpdate struct {
	Order OrderRecord
}

// Event is one item on the event bus: exactly one of the payload fields
// matching Kind is populated.
type Event struct {
	Kind      EventKind
	Tick      *Tick
	Candle    *Candle
	Signal    *Signal
	Order     *OrderUpdate
	WsStatus  *WsStatusUpdate
	Err       string
	EmittedAt time.Time
}

// NewTickEvent wraps a market tick for publication on the event bus.
func NewTickEvent(t Tick) Event {
	return Event{Kind: EventMarketTick, Tick: &t, EmittedAt: t.ReceivedAt}
}

// NewCandleClosedEvent wraps a closed candle for publication. Strategies
// evaluate market ticks, not candle events.
func NewCandleClosedEvent(c Candle) Event {
	return Event{Kind: EventCandleClosed, Candle: &c, EmittedAt: c.End}
}

// NewSignalEvent wraps a strategy signal for publication on the event bus.
func NewSignalEvent(s Signal) Event {
	return Event{Kind: EventStrategySignal, Signal: &s, EmittedAt: s.EmittedAt}
}

// NewOrderUpdateEvent wraps an order transition for publication.
func NewOrderUpdateEvent(o OrderRecord) Event {
	return Event{Kind: EventOrderUpdate, Order: &OrderUpdate{Order: o}, EmittedAt: o.UpdatedAt}
}

// NewWsStatusEvent wraps a stream connection transition.
func NewWsStatusEvent(instID string, status WsConnStatus, attempt int) Event {
	return Event{
		Kind:      EventWsStatus,
		WsStatus:  &WsStatusUpdate{InstID: instID, Status: status, Attempt: attempt},
		EmittedAt: time.Now(),
	}
}

// NewErrorEvent wraps a free-form error message for publication.
func NewErrorEvent(msg string) Event {
	return Event{Kind: EventError, Err: msg, EmittedAt: time.Now()}
}
