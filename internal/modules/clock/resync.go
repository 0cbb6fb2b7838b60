package clock

import (
	"context"
	"time"

	"tradesandbox/pkg/logger"
)

// ServerTimeFetcher retrieves the venue's current server time in epoch
// milliseconds. Implemented by the order manager's REST client; injected
// here rather than imported directly to avoid a clock->orders->clock
// cycle.
type ServerTimeFetcher func(ctx context.Context) (int64, error)

// RateReserver reserves one unit of a named rate-budget scope, returning
// false if the scope's window is exhausted. The resync loop reserves
// from its own "clock.resync" scope, separate from the scopes order
// submission draws from, so resyncs never consume order budget.
type RateReserver func(scope string) bool

const resyncRateScope = "clock.resync"

// ResyncLoop periodically refreshes Clock's offset against the venue's
// server clock until ctx is canceled.
type ResyncLoop struct {
	clock    *Clock
	fetch    ServerTimeFetcher
	reserve  RateReserver
	interval time.Duration
}

// NewResyncLoop builds a resync loop firing every interval.
func NewResyncLoop(c *Clock, fetch ServerTimeFetcher, reserve RateReserver, interval time.Duration) *ResyncLoop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ResyncLoop{clock: c, fetch: fetch, reserve: reserve, interval: interval}
}

// Run blocks, resyncing on each tick, until ctx is canceled.
func (r *ResyncLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *ResyncLoop) tick(ctx context.Context) {
	if r.reserve != nil && !r.reserve(resyncRateScope) {
		logger.Info("clock: skipping resync, rate budget exhausted")
		return
	}
	before := time.Now()
	serverMs, err := r.fetch(ctx)
	if err != nil {
		logger.Error("clock: resync fetch failed: %v", err)
		return
	}
	r.clock.Resync(serverMs, before)
}
