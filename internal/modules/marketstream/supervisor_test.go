package marketstream

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeWorker records Start/Stop calls without ever dialing a socket.
type fakeWorker struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (f *fakeWorker) Start(ctx context.Context) {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
}

func (f *fakeWorker) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func newTestSupervisor() (*Supervisor, map[string]*fakeWorker) {
	fakes := make(map[string]*fakeWorker)
	var mu sync.Mutex
	s := &Supervisor{
		workers:  make(map[string]streamWorker),
		pending:  make(map[string]time.Time),
		cooldown: 50 * time.Millisecond,
		ctx:      context.Background(),
	}
	s.newWorker = func(instID string) streamWorker {
		mu.Lock()
		defer mu.Unlock()
		f := &fakeWorker{}
		fakes[instID] = f
		return f
	}
	return s, fakes
}

func TestReconcileStartsNewAndSchedulesStopForDeparted(t *testing.T) {
	s, fakes := newTestSupervisor()

	s.Reconcile([]string{"BTC-USDT", "ETH-USDT"})
	if len(fakes) != 2 {
		t.Fatalf("expected 2 workers started, got %d", len(fakes))
	}
	if fakes["BTC-USDT"].started != 1 || fakes["ETH-USDT"].started != 1 {
		t.Fatalf("expected each worker started exactly once")
	}

	s.Reconcile([]string{"BTC-USDT"})
	if fakes["ETH-USDT"].stopped != 0 {
		t.Fatalf("ETH-USDT stopped immediately, expected deferred to cooldown sweep")
	}
	s.mu.Lock()
	_, pending := s.pending["ETH-USDT"]
	s.mu.Unlock()
	if !pending {
		t.Fatalf("expected ETH-USDT scheduled for cooldown stop")
	}
}

func TestReconcileIsIdempotentOnNoDiff(t *testing.T) {
	s, fakes := newTestSupervisor()

	s.Reconcile([]string{"BTC-USDT"})
	s.Reconcile([]string{"BTC-USDT"})
	s.Reconcile([]string{"BTC-USDT"})

	if fakes["BTC-USDT"].started != 1 {
		t.Fatalf("started=%d on repeated identical reconcile, expected 1", fakes["BTC-USDT"].started)
	}
}

func TestReconcileWithinCooldownDoesNotRestart(t *testing.T) {
	s, fakes := newTestSupervisor()

	s.Reconcile([]string{"BTC-USDT"})
	s.Reconcile([]string{}) // departed, scheduled for cooldown stop
	s.Reconcile([]string{"BTC-USDT"}) // re-enabled before cooldown elapses

	if fakes["BTC-USDT"].started != 1 {
		t.Fatalf("started=%d after re-enable within cooldown, expected 1 (no restart)", fakes["BTC-USDT"].started)
	}
	if fakes["BTC-USDT"].stopped != 0 {
		t.Fatalf("stopped=%d after re-enable within cooldown, expected 0", fakes["BTC-USDT"].stopped)
	}
	s.mu.Lock()
	_, pending := s.pending["BTC-USDT"]
	s.mu.Unlock()
	if pending {
		t.Fatalf("expected pending stop cancelled on re-enable")
	}
}

func TestSweepStopsWorkerAfterCooldownElapses(t *testing.T) {
	s, fakes := newTestSupervisor()

	s.Reconcile([]string{"BTC-USDT"})
	s.Reconcile([]string{}) // schedules cooldown stop

	s.sweep(time.Now().Add(s.cooldown + time.Millisecond))

	if fakes["BTC-USDT"].stopped != 1 {
		t.Fatalf("stopped=%d after cooldown elapsed, expected 1", fakes["BTC-USDT"].stopped)
	}
	if len(s.Running()) != 0 {
		t.Fatalf("expected no running workers after cooldown sweep")
	}
}
