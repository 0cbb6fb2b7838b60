// Package marketstream owns one streaming connection per enabled
// instrument (the Instrument Stream Worker) and the reconciler that
// starts/stops those connections as the enabled set changes (the Stream
// Supervisor). Adapted from the teacher's okx_websocket/service, whose
// dial/keepalive-ping/frame-parsing shape is kept, restructured from one
// batched socket per timeframe into one worker per instrument.
package marketstream

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/eventbus"
	"tradesandbox/pkg/logger"
)

// tradesChannelFrame is the subset of an OKX "trades" channel push frame
// this worker cares about: one trade print per element of Data.
type tradesChannelFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID  string `json:"instId"`
		Px      string `json:"px"`
		Sz      string `json:"sz"`
		Side    string `json:"side"`
		TradeID string `json:"tradeId"`
		Ts      string `json:"ts"`
	} `json:"data"`
}

const (
	tradesURL  = "wss://ws.okx.com:8443/ws/v5/public"
	outChanLen = 256
)

// Worker owns one websocket connection for one instrument. It never
// returns a fatal error for transient network failures — those are
// retried internally with backoff — only StreamFatal when the venue
// answers the websocket dial with HTTP 400. Subscribe acks are not
// inspected.
type Worker struct {
	instID    string
	dialer    *websocket.Dialer
	bus       *eventbus.Bus
	reconnect config.StreamReconnectConfig
	idleGap   time.Duration

	out     chan models.Tick
	dropped atomic.Int64

	stop    chan struct{}
	stopped chan struct{}
}

// StreamFatal marks an instrument the venue will never accept a
// subscription for — the supervisor should not retry starting it again.
type StreamFatal struct {
	InstID string
	Reason string
}

func (e *StreamFatal) Error() string {
	return "marketstream: " + e.InstID + " permanently unavailable: " + e.Reason
}

// NewWorker builds a worker for one instrument. dialer may be nil, in
// which case a default *websocket.Dialer is used (matching the teacher's
// zero-value &websocket.Dialer{} in okx_websocket/service/client.go).
func NewWorker(instID string, dialer *websocket.Dialer, bus *eventbus.Bus, reconnect config.StreamReconnectConfig, idleGapMs int64) *Worker {
	if dialer == nil {
		dialer = &websocket.Dialer{}
	}
	return &Worker{
		instID:    instID,
		dialer:    dialer,
		bus:       bus,
		reconnect: reconnect,
		idleGap:   time.Duration(idleGapMs) * time.Millisecond,
		out:       make(chan models.Tick, outChanLen),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Dropped reports how many ticks this worker has discarded because its
// downstream channel was full — observable tick loss, never a stall.
func (w *Worker) Dropped() int64 { return w.dropped.Load() }

// Start begins the dial-read-reconnect loop in the background and
// returns immediately. Calling Start twice on the same Worker is not
// supported — build a new Worker per start.
func (w *Worker) Start(ctx context.Context) {
	go w.forward(ctx)
	go w.run(ctx)
}

// Stop requests the worker halt and blocks until no further ticks will
// be delivered.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.stopped
}

// forward drains the internal drop-oldest buffer onto the event bus so
// a slow bus subscriber cannot stall the websocket read loop — the two
// are decoupled by the out channel.
func (w *Worker) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case t, ok := <-w.out:
			if !ok {
				return
			}
			if w.bus != nil {
				w.bus.Publish(models.NewTickEvent(t))
			}
		}
	}
}

// enqueue pushes a tick onto the bounded out channel, dropping the
// OLDEST queued tick (not the new one) when full, and counting the drop.
// This never blocks the read loop.
func (w *Worker) enqueue(t models.Tick) {
	select {
	case w.out <- t:
		return
	default:
	}
	select {
	case <-w.out:
	default:
	}
	select {
	case w.out <- t:
	default:
	}
	w.dropped.Add(1)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)

	backoff := w.reconnect.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		status, err := w.connectAndRead(ctx)
		if status == connectFatal {
			logger.Error("marketstream: %s permanently unavailable: %v", w.instID, err)
			return
		}
		if status == connectStopped {
			return
		}

		logger.Error("marketstream: %s disconnected, reconnecting in %s: %v", w.instID, backoff, err)
		w.publishWsStatus(models.WsDisconnected, 0)

		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		}

		backoff = time.Duration(float64(backoff) * w.multiplier())
		if max := w.reconnect.MaxBackoff; max > 0 && backoff > max {
			backoff = max
		}
	}
}

func (w *Worker) multiplier() float64 {
	if w.reconnect.Multiplier <= 1 {
		return 2.0
	}
	return w.reconnect.Multiplier
}

type connectStatus int

const (
	connectErr connectStatus = iota
	connectStopped
	connectFatal
)

func (w *Worker) connectAndRead(ctx context.Context) (connectStatus, error) {
	conn, resp, err := w.dialer.Dial(tradesURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 400 {
			return connectFatal, &StreamFatal{InstID: w.instID, Reason: err.Error()}
		}
		return connectErr, err
	}
	defer func() { _ = conn.Close() }()

	sub := map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "trades", "instId": w.instID},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return connectErr, err
	}

	w.publishWsStatus(models.WsConnected, 0)

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			case <-stopPing:
				return
			case <-t.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			}
		}
	}()

	idleGap := w.idleGap
	if idleGap <= 0 {
		idleGap = 30 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return connectStopped, nil
		case <-w.stop:
			return connectStopped, nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(idleGap))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return connectStopped, nil
			}
			select {
			case <-w.stop:
				return connectStopped, nil
			default:
			}
			return connectErr, err
		}

		w.handleFrame(msg)
	}
}

// handleFrame parses one websocket frame. A malformed frame is logged
// and dropped — it must never panic or stall the connection, so parse
// errors are swallowed rather than propagated.
func (w *Worker) handleFrame(msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("marketstream: %s recovered from frame panic: %v", w.instID, r)
		}
	}()

	var frame tradesChannelFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		logger.Error("marketstream: %s malformed frame dropped: %v", w.instID, err)
		return
	}
	if frame.Arg.Channel != "trades" || len(frame.Data) == 0 {
		return
	}

	receivedAt := time.Now()
	for _, row := range frame.Data {
		px, errPx := strconv.ParseFloat(row.Px, 64)
		sz, errSz := strconv.ParseFloat(row.Sz, 64)
		if errPx != nil || errSz != nil || px <= 0 {
			logger.Error("marketstream: %s malformed trade row dropped", w.instID)
			continue
		}
		tsMs, err := strconv.ParseInt(row.Ts, 10, 64)
		var ts time.Time
		if err != nil {
			ts = receivedAt
		} else {
			ts = time.UnixMilli(tsMs)
		}

		w.enqueue(models.Tick{
			InstID:     w.instID,
			Price:      px,
			Quantity:   sz,
			Timestamp:  ts,
			ReceivedAt: receivedAt,
		})
	}
}

func (w *Worker) publishWsStatus(status models.WsConnStatus, attempt int) {
	if w.bus != nil {
		w.bus.Publish(models.NewWsStatusEvent(w.instID, status, attempt))
	}
}
