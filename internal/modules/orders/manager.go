package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/metrics"
	"tradesandbox/pkg/logger"
)

// submitter is the REST surface Manager depends on, narrowed to what the
// state machine actually calls so tests can fake it without a client.
type submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Cancel(ctx context.Context, instID, clientOrderID string) error
}

// Resyncer forces a clock resync ahead of the one retry a time-drift
// rejection earns. Satisfied by *clock.Clock's Resync wrapped with a
// fresh server-time sample in the engine package's wiring — orders does not import
// clock directly for the same reason clock does not import orders.
type Resyncer func(ctx context.Context) error

// Manager owns the durable in-memory record of every order this process
// has submitted, translating venue status reports onto the closed
// internal OrderStatus set and keeping idempotent submission guarantees
// at the client_order_id boundary.
type Manager struct {
	mu      sync.Mutex
	client  submitter
	resync  Resyncer
	records map[string]*models.OrderRecord // keyed by ClientOrderID
}

// NewManager wires an order manager against a submitter and an optional
// resync callback (nil disables the retry-once-on-drift path, useful in
// tests that don't care about it).
func NewManager(client submitter, resync Resyncer) *Manager {
	return &Manager{client: client, resync: resync, records: make(map[string]*models.OrderRecord)}
}

// Submit places a new order for an approved intent. The client order ID
// is generated here (uuid v4) so every call to Submit is a genuinely new
// order, so a caller must not call Submit twice for one intent. The only
// resubmission is the internal retry after a time-drift rejection, which
// reuses the same client order ID — this mirrors original_source's
// one-client-order-id-per-intent invariant.
func (m *Manager) Submit(ctx context.Context, intent models.OrderIntent, qty float64) (*models.OrderRecord, error) {
	clientOrderID := uuid.NewString()
	record := &models.OrderRecord{
		ClientOrderID: clientOrderID,
		IntentID:      intent.IntentID,
		StrategyID:    intent.StrategyID,
		InstID:        intent.InstID,
		Market:        intent.Market,
		Side:          intent.Side,
		ReduceOnly:    intent.ReduceOnly,
		Qty:           qty,
		Status:        models.OrderSubmitted,
		SubmittedAt:   time.Now(),
		UpdatedAt:     time.Now(),
	}

	m.mu.Lock()
	m.records[clientOrderID] = record
	m.mu.Unlock()

	exchangeOrderID, err := m.submitWithRetry(ctx, SubmitRequest{
		ClientOrderID: clientOrderID,
		InstID:        intent.InstID,
		Market:        intent.Market,
		Side:          intent.Side,
		ReduceOnly:    intent.ReduceOnly,
		Qty:           qty,
	})
	if err != nil {
		m.mu.Lock()
		record.Status = models.OrderRejected
		record.UpdatedAt = time.Now()
		m.mu.Unlock()
		return record, fmt.Errorf("submit order %s: %w", clientOrderID, err)
	}

	m.mu.Lock()
	record.ExchangeOrderID = exchangeOrderID
	m.mu.Unlock()
	metrics.ObserveOrderSubmitted(intent.InstID, string(intent.Side))
	return record, nil
}

// submitWithRetry sends the request once, and — if the venue rejects it
// as a time-drift violation — forces one clock resync and retries
// exactly once, per SPEC_FULL.md's "retry-once-on-time-drift" contract.
// Any other failure (including a second drift rejection) is surfaced
// immediately; this is not a general retry loop.
func (m *Manager) submitWithRetry(ctx context.Context, req SubmitRequest) (string, error) {
	orderID, err := m.client.Submit(ctx, req)
	if err == nil {
		return orderID, nil
	}
	if !isTimeDriftRejection(err) || m.resync == nil {
		return "", err
	}

	logger.Info("orders: time-drift rejection on %s, resyncing clock and retrying once", req.ClientOrderID)
	metrics.ObserveOrderRetry("time_drift")
	if rErr := m.resync(ctx); rErr != nil {
		logger.Error("orders: clock resync failed: %v", rErr)
		return "", err
	}
	return m.client.Submit(ctx, req)
}

// Cancel cancels a resting order by its client order ID.
func (m *Manager) Cancel(ctx context.Context, clientOrderID string) error {
	m.mu.Lock()
	record, ok := m.records[clientOrderID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel: unknown client order id %s", clientOrderID)
	}
	return m.client.Cancel(ctx, record.InstID, clientOrderID)
}

// ApplyStatusUpdate folds a raw venue status report onto the matching
// order record, translating it through the closed internal status set.
// An unrecognized raw status is logged and the record's prior status is
// held, never silently misfiled.
func (m *Manager) ApplyStatusUpdate(clientOrderID, rawStatus string) (*models.OrderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[clientOrderID]
	if !ok {
		return nil, false
	}
	status, ok := models.TranslateExternalStatus(rawStatus)
	if !ok {
		logger.Info("orders: unrecognized venue status %q for %s, holding prior status %s", rawStatus, clientOrderID, record.Status)
		return record, true
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	return record, true
}

// ApplyFill folds an execution report into the matching order's
// cumulative fill bookkeeping.
func (m *Manager) ApplyFill(clientOrderID string, fill models.Fill) (*models.OrderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[clientOrderID]
	if !ok {
		return nil, false
	}
	record.ApplyFill(fill)
	if record.FilledQty >= record.Qty {
		record.Status = models.OrderFilled
	} else if record.FilledQty > 0 {
		record.Status = models.OrderPartiallyFilled
	}
	return record, true
}

// Get returns the order record for a client order ID, if known.
func (m *Manager) Get(clientOrderID string) (*models.OrderRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[clientOrderID]
	return r, ok
}
