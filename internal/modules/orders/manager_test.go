package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradesandbox/internal/models"
)

type fakeSubmitter struct {
	submitCalls  []SubmitRequest
	cancelCalls  []string
	nextErr      error
	nextOrderID  string
	failAttempts int // fail this many calls before succeeding
}

func (f *fakeSubmitter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	f.submitCalls = append(f.submitCalls, req)
	if f.failAttempts > 0 {
		f.failAttempts--
		return "", f.nextErr
	}
	return f.nextOrderID, nil
}

func (f *fakeSubmitter) Cancel(ctx context.Context, instID, clientOrderID string) error {
	f.cancelCalls = append(f.cancelCalls, clientOrderID)
	return nil
}

func TestManagerSubmitAssignsExchangeOrderID(t *testing.T) {
	sub := &fakeSubmitter{nextOrderID: "exch-1"}
	m := NewManager(sub, nil)

	record, err := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.ExchangeOrderID != "exch-1" {
		t.Fatalf("ExchangeOrderID = %q, expected exch-1", record.ExchangeOrderID)
	}
	if record.Status != models.OrderSubmitted {
		t.Fatalf("Status = %v, expected Submitted", record.Status)
	}
	if len(sub.submitCalls) != 1 {
		t.Fatalf("expected exactly one Submit call, got %d", len(sub.submitCalls))
	}
}

func TestManagerEachSubmitGetsAFreshClientOrderID(t *testing.T) {
	sub := &fakeSubmitter{nextOrderID: "exch-1"}
	m := NewManager(sub, nil)

	r1, _ := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)
	r2, _ := m.Submit(context.Background(), models.OrderIntent{IntentID: "i2", InstID: "BTCUSDT"}, 0.01)
	if r1.ClientOrderID == r2.ClientOrderID {
		t.Fatalf("expected distinct client order ids across separate submits")
	}
	if _, ok := m.Get(r1.ClientOrderID); !ok {
		t.Fatalf("expected record for r1 to be retrievable")
	}
	if _, ok := m.Get(r2.ClientOrderID); !ok {
		t.Fatalf("expected record for r2 to be retrievable")
	}
}

func TestManagerRetriesOnceAfterTimeDriftRejection(t *testing.T) {
	sub := &fakeSubmitter{nextOrderID: "exch-1", nextErr: &venueError{Code: "50113", Msg: "timestamp expired"}, failAttempts: 1}
	resynced := false
	resync := func(ctx context.Context) error {
		resynced = true
		return nil
	}
	m := NewManager(sub, resync)

	record, err := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)
	if err != nil {
		t.Fatalf("expected retry to succeed, got error: %v", err)
	}
	if !resynced {
		t.Fatalf("expected clock resync to be invoked before retry")
	}
	if len(sub.submitCalls) != 2 {
		t.Fatalf("expected exactly 2 submit attempts (original + one retry), got %d", len(sub.submitCalls))
	}
	if record.ExchangeOrderID != "exch-1" {
		t.Fatalf("expected retry's successful order id to be recorded")
	}
}

func TestManagerDoesNotRetryTwiceOnRepeatedDrift(t *testing.T) {
	sub := &fakeSubmitter{nextErr: &venueError{Code: "50113", Msg: "timestamp expired"}, failAttempts: 2}
	resync := func(ctx context.Context) error { return nil }
	m := NewManager(sub, resync)

	_, err := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)
	if err == nil {
		t.Fatalf("expected submit to fail after the one retry is exhausted")
	}
	if len(sub.submitCalls) != 2 {
		t.Fatalf("expected exactly 2 submit attempts total, got %d", len(sub.submitCalls))
	}
}

func TestManagerDoesNotRetryNonDriftErrors(t *testing.T) {
	sub := &fakeSubmitter{nextErr: errors.New("insufficient margin"), failAttempts: 1}
	resynced := false
	resync := func(ctx context.Context) error {
		resynced = true
		return nil
	}
	m := NewManager(sub, resync)

	_, err := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)
	if err == nil {
		t.Fatalf("expected submit to fail")
	}
	if resynced {
		t.Fatalf("expected non-drift errors to skip the resync-and-retry path entirely")
	}
	if len(sub.submitCalls) != 1 {
		t.Fatalf("expected exactly 1 submit attempt for a non-drift error, got %d", len(sub.submitCalls))
	}
}

func TestManagerApplyStatusUpdateTranslatesKnownStatus(t *testing.T) {
	sub := &fakeSubmitter{nextOrderID: "exch-1"}
	m := NewManager(sub, nil)
	record, _ := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)

	updated, ok := m.ApplyStatusUpdate(record.ClientOrderID, "FILLED")
	if !ok {
		t.Fatalf("expected status update to apply")
	}
	if updated.Status != models.OrderFilled {
		t.Fatalf("Status = %v, expected Filled", updated.Status)
	}
}

func TestManagerApplyStatusUpdateHoldsPriorStatusOnUnknown(t *testing.T) {
	sub := &fakeSubmitter{nextOrderID: "exch-1"}
	m := NewManager(sub, nil)
	record, _ := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)
	priorStatus := record.Status

	updated, ok := m.ApplyStatusUpdate(record.ClientOrderID, "SOME_NEW_VENUE_STATUS")
	if !ok {
		t.Fatalf("expected lookup to succeed even for an unrecognized raw status")
	}
	if updated.Status != priorStatus {
		t.Fatalf("Status = %v, expected unrecognized status to hold prior status %v", updated.Status, priorStatus)
	}
}

func TestManagerApplyFillTransitionsToPartiallyFilledThenFilled(t *testing.T) {
	sub := &fakeSubmitter{nextOrderID: "exch-1"}
	m := NewManager(sub, nil)
	record, _ := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 1.0)

	m.ApplyFill(record.ClientOrderID, models.Fill{FillID: "f1", Price: 100, Qty: 0.4, TradedAt: time.Now()})
	mid, _ := m.Get(record.ClientOrderID)
	if mid.Status != models.OrderPartiallyFilled {
		t.Fatalf("Status = %v, expected PartiallyFilled after partial fill", mid.Status)
	}

	m.ApplyFill(record.ClientOrderID, models.Fill{FillID: "f2", Price: 101, Qty: 0.6, TradedAt: time.Now()})
	final, _ := m.Get(record.ClientOrderID)
	if final.Status != models.OrderFilled {
		t.Fatalf("Status = %v, expected Filled once cumulative qty reaches order qty", final.Status)
	}
}

func TestManagerCancelDelegatesToClient(t *testing.T) {
	sub := &fakeSubmitter{nextOrderID: "exch-1"}
	m := NewManager(sub, nil)
	record, _ := m.Submit(context.Background(), models.OrderIntent{IntentID: "i1", InstID: "BTCUSDT"}, 0.01)

	if err := m.Cancel(context.Background(), record.ClientOrderID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.cancelCalls) != 1 || sub.cancelCalls[0] != record.ClientOrderID {
		t.Fatalf("expected cancel to be delegated with the client order id, got %v", sub.cancelCalls)
	}
}

func TestManagerCancelUnknownOrderFails(t *testing.T) {
	m := NewManager(&fakeSubmitter{}, nil)
	if err := m.Cancel(context.Background(), "does-not-exist"); err == nil {
		t.Fatalf("expected cancel of an unknown client order id to fail")
	}
}
