package history

import (
	"context"
	"fmt"
	"time"

	"tradesandbox/internal/models"
)

// PositionRow is the persisted shape of one position, layering the
// columns spec.md §6 lists (source_tag, exit_reason_code, stop_order_id,
// the frozen entry-time EV fields) on top of models.PositionState, which
// only tracks what the lifecycle engine needs in memory. PositionID is
// assigned by the caller (the engine's integration layer) and is stable
// across the open→closed transition of one trade.
type PositionRow struct {
	PositionID      string
	StrategyVersion int
	SourceTag       string
	ExitReasonCode  string
	StopOrderID     string
	State           models.PositionState
	ExitPrice       float64
	ClosedAt        *time.Time
}

// holdingMillis is the elapsed time a position has been (or was) open, in
// milliseconds, against an open position's end still being "now".
func holdingMillis(openedAt time.Time, closedAt *time.Time, now time.Time) int64 {
	if openedAt.IsZero() {
		return 0
	}
	end := now
	if closedAt != nil {
		end = *closedAt
	}
	return end.Sub(openedAt).Milliseconds()
}

// UpsertPosition idempotently persists a position's current row, keyed on
// position_id. Called on open, on every mark-to-market tick (for MFE/MAE),
// and on close — each call simply overwrites the row with the latest
// known state.
func (s *Store) UpsertPosition(ctx context.Context, row PositionRow) error {
	if row.State.Side == nil {
		return fmt.Errorf("history: upsert position %s: no side on an open/closing row", row.PositionID)
	}
	var evAtEntry, pWinAtEntry float64
	var evModelVer string
	if row.State.ExpectancyAtEntry != nil {
		evAtEntry = row.State.ExpectancyAtEntry.ExpectedReturnUSDT
		pWinAtEntry = row.State.ExpectancyAtEntry.Probability.PWin
		evModelVer = row.State.ExpectancyAtEntry.EVModelVer
	}
	var confidence string
	if row.State.EVLive != nil {
		confidence = string(row.State.EVLive.Probability.Confidence)
	}
	holdingMs := holdingMillis(row.State.OpenedAt, row.ClosedAt, time.Now())

	const sql = `
INSERT INTO positions (position_id, instrument, strategy_id, strategy_version, side, source_tag,
	opened_at, closed_at, entry_price, exit_price, qty, realized_pnl_usdt, mfe, mae, holding_ms,
	exit_reason_code, expected_return_at_entry, p_win_at_entry, ev_model_version, confidence_level, stop_order_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (position_id) DO UPDATE SET
	closed_at         = EXCLUDED.closed_at,
	exit_price        = EXCLUDED.exit_price,
	qty               = EXCLUDED.qty,
	realized_pnl_usdt = EXCLUDED.realized_pnl_usdt,
	mfe               = EXCLUDED.mfe,
	mae               = EXCLUDED.mae,
	holding_ms        = EXCLUDED.holding_ms,
	exit_reason_code  = EXCLUDED.exit_reason_code,
	confidence_level  = EXCLUDED.confidence_level,
	stop_order_id     = EXCLUDED.stop_order_id
`
	return s.inMasterTx(ctx, sql,
		row.PositionID, row.State.InstID, row.State.StrategyID, row.StrategyVersion, string(*row.State.Side), row.SourceTag,
		row.State.OpenedAt, row.ClosedAt, row.State.EntryPrice, row.ExitPrice, row.State.Qty, row.State.RealizedPnL,
		row.State.MFE, row.State.MAE, holdingMs, row.ExitReasonCode, evAtEntry, pWinAtEntry, evModelVer, confidence, row.StopOrderID,
	)
}

// ReplayOpenPositions returns every position row with no closed_at,
// letting the lifecycle engine rebuild its in-memory book on restart
// instead of starting blind with live inventory on the exchange.
func (s *Store) ReplayOpenPositions(ctx context.Context) ([]PositionRow, error) {
	const sql = `
SELECT position_id, instrument, strategy_id, strategy_version, side, source_tag,
	opened_at, entry_price, qty, mfe, mae, stop_order_id
FROM positions
WHERE closed_at IS NULL
`
	rows, err := s.tx.Conn().Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("history: replay open positions: %w", err)
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var r PositionRow
		var side string
		r.State.Side = new(models.OrderSide)
		if err := rows.Scan(&r.PositionID, &r.State.InstID, &r.State.StrategyID, &r.StrategyVersion, &side, &r.SourceTag,
			&r.State.OpenedAt, &r.State.EntryPrice, &r.State.Qty, &r.State.MFE, &r.State.MAE, &r.StopOrderID); err != nil {
			return nil, fmt.Errorf("history: scan open position: %w", err)
		}
		*r.State.Side = models.OrderSide(side)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: replay open positions: %w", err)
	}
	return out, nil
}
