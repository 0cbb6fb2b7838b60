package risk

import (
	"testing"
	"time"

	"tradesandbox/internal/models"
)

func TestSlidingWindowAllowsExactlyLimitWithinWindow(t *testing.T) {
	w := newSlidingWindow(10, 100*time.Millisecond)
	base := time.Now()

	for i := 0; i < 10; i++ {
		if !w.reserve(base) {
			t.Fatalf("reservation %d rejected, expected allowed within limit", i)
		}
	}
	if w.reserve(base) {
		t.Fatalf("11th reservation allowed before window rolls, expected rejected")
	}
}

func TestSlidingWindowRollsAfterWindowElapses(t *testing.T) {
	w := newSlidingWindow(1, 100*time.Millisecond)
	base := time.Now()

	if !w.reserve(base) {
		t.Fatalf("first reservation rejected")
	}
	if w.reserve(base.Add(50 * time.Millisecond)) {
		t.Fatalf("second reservation allowed mid-window, expected rejected")
	}
	if !w.reserve(base.Add(150 * time.Millisecond)) {
		t.Fatalf("reservation after window rolled was rejected, expected allowed")
	}
}

func TestSlidingWindowRefundFreesSlot(t *testing.T) {
	w := newSlidingWindow(1, time.Minute)
	base := time.Now()

	if !w.reserve(base) {
		t.Fatalf("first reservation rejected")
	}
	w.refund()
	if !w.reserve(base) {
		t.Fatalf("reservation after refund rejected, expected allowed")
	}
}

func TestGovernorScopesAreIndependent(t *testing.T) {
	g := NewGovernor(map[models.RateScope]int{
		models.RateScopeGlobal: 1,
		models.RateScopeOrders: 5,
	}, time.Minute, 0.7)
	now := time.Now()

	if !g.Reserve(models.RateScopeGlobal, 1, time.Minute, now) {
		t.Fatalf("global reservation rejected")
	}
	if g.Reserve(models.RateScopeGlobal, 1, time.Minute, now) {
		t.Fatalf("second global reservation allowed, expected exhausted")
	}
	if !g.Reserve(models.RateScopeOrders, 5, time.Minute, now) {
		t.Fatalf("orders scope starved by exhausted global scope, expected independent budgets")
	}
}
