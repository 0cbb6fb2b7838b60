package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the single source of "now" for the engine: wall time adjusted
// by a periodically-resynced offset against the venue's server clock, so
// order timestamps and signature windows do not drift out of the
// exchange's tolerance during a long-running session.
type Clock struct {
	offsetMs atomic.Int64
}

// New returns a Clock with zero offset; call Resync once a server time
// sample is available.
func New() *Clock {
	return &Clock{}
}

// Now returns the offset-adjusted current time.
func (c *Clock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offsetMs.Load()) * time.Millisecond)
}

// NowMs is Now truncated to epoch milliseconds, the unit most signed REST
// APIs expect for timestamp/recvWindow parameters.
func (c *Clock) NowMs() int64 {
	return c.Now().UnixMilli()
}

// Offset returns the current applied offset.
func (c *Clock) Offset() time.Duration {
	return time.Duration(c.offsetMs.Load()) * time.Millisecond
}

// Resync recomputes the offset from one (serverTime, localTimeBeforeCall)
// sample pair. Called by the background resync loop and, on demand, by
// the order manager after observing a time-drift rejection.
func (c *Clock) Resync(serverTimeMs int64, localBefore time.Time) {
	elapsed := time.Since(localBefore)
	estimatedLocalAtServerSample := localBefore.Add(elapsed / 2)
	offset := time.UnixMilli(serverTimeMs).Sub(estimatedLocalAtServerSample)
	c.offsetMs.Store(offset.Milliseconds())
}
