package orders

import (
	"context"
	"sync"
	"time"

	"tradesandbox/internal/models"
	"tradesandbox/pkg/logger"
)

// fetcher is the subset of RESTClient the caches pull from, narrowed so
// tests can fake market data without a live venue.
type fetcher interface {
	FetchInstrumentMeta(ctx context.Context, instID string, market models.MarketKind) (models.InstrumentMeta, error)
	FetchBalances(ctx context.Context) (map[string]float64, error)
}

// InstrumentCache satisfies risk.InstrumentSource with a periodically
// refreshed snapshot of instrument filters and last price, so the risk
// gate's Evaluate never blocks on a network call.
type InstrumentCache struct {
	mu     sync.RWMutex
	client fetcher
	meta   map[string]models.InstrumentMeta
}

// NewInstrumentCache builds an empty cache; call Refresh (directly or via
// RunRefreshLoop) before relying on Meta.
func NewInstrumentCache(client fetcher) *InstrumentCache {
	return &InstrumentCache{client: client, meta: make(map[string]models.InstrumentMeta)}
}

// Meta implements risk.InstrumentSource.
func (c *InstrumentCache) Meta(instID string) (models.InstrumentMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.meta[instID]
	return m, ok
}

// Refresh re-fetches metadata for every instrument in instIDs, replacing
// stale entries wholesale (a failed fetch for one instrument keeps its
// prior cached entry rather than dropping it).
func (c *InstrumentCache) Refresh(ctx context.Context, instIDs []string, market models.MarketKind) {
	for _, instID := range instIDs {
		m, err := c.client.FetchInstrumentMeta(ctx, instID, market)
		if err != nil {
			logger.Error("orders: refresh instrument meta %s: %v", instID, err)
			continue
		}
		c.mu.Lock()
		c.meta[instID] = m
		c.mu.Unlock()
	}
}

// RunRefreshLoop blocks, refreshing every interval, until ctx is canceled.
func (c *InstrumentCache) RunRefreshLoop(ctx context.Context, instIDs []string, market models.MarketKind, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Refresh(ctx, instIDs, market)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx, instIDs, market)
		}
	}
}

// BalanceCache satisfies risk.BalanceSource with a periodically
// refreshed free-balance snapshot, for the same never-block-Evaluate
// reason InstrumentCache exists.
type BalanceCache struct {
	mu      sync.RWMutex
	client  fetcher
	balance map[string]float64
}

// NewBalanceCache builds an empty balance cache.
func NewBalanceCache(client fetcher) *BalanceCache {
	return &BalanceCache{client: client, balance: make(map[string]float64)}
}

// Balance implements risk.BalanceSource. An asset with no cached entry
// reports zero free balance, matching the gate's insufficient-balance
// rejection for an asset it has simply never seen yet.
func (c *BalanceCache) Balance(asset string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance[asset]
}

// Refresh re-fetches the full balance snapshot, replacing it wholesale.
func (c *BalanceCache) Refresh(ctx context.Context) {
	balances, err := c.client.FetchBalances(ctx)
	if err != nil {
		logger.Error("orders: refresh balances: %v", err)
		return
	}
	c.mu.Lock()
	c.balance = balances
	c.mu.Unlock()
}

// RunRefreshLoop blocks, refreshing every interval, until ctx is canceled.
func (c *BalanceCache) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
