package history

import (
	"context"
	"fmt"

	"tradesandbox/internal/models"
)

// UpsertOrder idempotently persists an order record's current state,
// keyed on client_order_id — the Order Manager calls this on submit and
// again on every status/fill transition, so a reconnect-driven resubmit
// of the same client_order_id never creates a duplicate row.
func (s *Store) UpsertOrder(ctx context.Context, o models.OrderRecord) error {
	const sql = `
INSERT INTO orders (client_order_id, order_id, intent_id, strategy_id, instrument, market, side,
	qty, price, reduce_only, status, filled_qty, avg_fill_price, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (client_order_id) DO UPDATE SET
	order_id       = EXCLUDED.order_id,
	status         = EXCLUDED.status,
	filled_qty     = EXCLUDED.filled_qty,
	avg_fill_price = EXCLUDED.avg_fill_price,
	updated_at     = EXCLUDED.updated_at
`
	return s.inMasterTx(ctx, sql,
		o.ClientOrderID, o.ExchangeOrderID, o.IntentID, o.StrategyID, o.InstID, string(o.Market), string(o.Side),
		o.Qty, o.Price, o.ReduceOnly, string(o.Status), o.FilledQty, o.AvgFillPrice, o.SubmittedAt, o.UpdatedAt,
	)
}

// InsertFill persists one execution report against an already-upserted
// order. trade_id is the fill's own ID, so a replayed fill event is a
// harmless duplicate-key no-op rather than a double-counted trade.
func (s *Store) InsertFill(ctx context.Context, clientOrderID string, f models.Fill) error {
	const sql = `
INSERT INTO trades (trade_id, client_order_id, price, qty, fee, fee_asset, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (trade_id) DO NOTHING
`
	if err := s.inMasterTx(ctx, sql, f.FillID, clientOrderID, f.Price, f.Qty, f.Fee, f.FeeAsset, f.TradedAt); err != nil {
		return fmt.Errorf("history: insert fill: %w", err)
	}
	return nil
}
