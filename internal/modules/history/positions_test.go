package history

import (
	"testing"
	"time"
)

func TestHoldingMillisOpenPositionMeasuresAgainstNow(t *testing.T) {
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := opened.Add(90 * time.Second)

	got := holdingMillis(opened, nil, now)
	if want := (90 * time.Second).Milliseconds(); got != want {
		t.Fatalf("holdingMillis = %d, want %d", got, want)
	}
}

func TestHoldingMillisClosedPositionMeasuresAgainstCloseTime(t *testing.T) {
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	closed := opened.Add(5 * time.Minute)
	now := closed.Add(time.Hour) // well after close; must not leak in

	got := holdingMillis(opened, &closed, now)
	if want := (5 * time.Minute).Milliseconds(); got != want {
		t.Fatalf("holdingMillis = %d, want %d", got, want)
	}
}

func TestHoldingMillisZeroOpenedAtIsZero(t *testing.T) {
	if got := holdingMillis(time.Time{}, nil, time.Now()); got != 0 {
		t.Fatalf("holdingMillis = %d, want 0 for a never-opened position", got)
	}
}
