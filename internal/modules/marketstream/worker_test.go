package marketstream

import (
	"testing"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/internal/modules/config"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	return NewWorker("BTC-USDT", nil, nil, config.StreamReconnectConfig{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2,
	}, 1000)
}

func TestWorkerEnqueueDropsOldestWhenFull(t *testing.T) {
	w := newTestWorker(t)

	for i := 0; i < outChanLen; i++ {
		w.enqueue(models.Tick{InstID: w.instID, Price: float64(i)})
	}
	if w.Dropped() != 0 {
		t.Fatalf("Dropped()=%d before overflow, expected 0", w.Dropped())
	}

	// One more tick overflows the bounded channel: the OLDEST (price 0)
	// must be evicted, not the new arrival.
	w.enqueue(models.Tick{InstID: w.instID, Price: 999})
	if w.Dropped() != 1 {
		t.Fatalf("Dropped()=%d after overflow, expected 1", w.Dropped())
	}

	first := <-w.out
	if first.Price != 1 {
		t.Fatalf("oldest surviving tick price=%v, expected 1 (price 0 should have been evicted)", first.Price)
	}
}

func TestWorkerEnqueueNeverBlocks(t *testing.T) {
	w := newTestWorker(t)
	done := make(chan struct{})
	go func() {
		for i := 0; i < outChanLen*3; i++ {
			w.enqueue(models.Tick{InstID: w.instID, Price: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked on a full channel instead of dropping")
	}
}
