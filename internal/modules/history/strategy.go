package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"

	"tradesandbox/internal/models"
)

// strategyProfileParams is the JSON shape persisted into
// strategy_profiles.params_json — just the tunable fields a forked
// profile can differ on, matching the teacher's sonic-based request-body
// marshaling idiom (internal/modules/okx_client/service) rather than
// hand-built query strings.
type strategyProfileParams struct {
	Kind                   models.StrategyKind `json:"kind"`
	FastPeriod             int                 `json:"fast_period"`
	SlowPeriod             int                 `json:"slow_period"`
	MinTicksBetweenSignals int64               `json:"min_ticks_between_signals"`
	IsCustom               bool                `json:"is_custom"`
}

// UpsertStrategyProfile persists one versioned strategy parameterization.
// Runtime-forked profiles (StrategyProfile.IsCustom) insert a new version
// row rather than overwrite an existing one, matching the unique index on
// (strategy_id, strategy_version) and the "never mutate a live profile in
// place" rule its doc comment states.
func (s *Store) UpsertStrategyProfile(ctx context.Context, profile models.StrategyProfile, instrument string) error {
	params, err := sonic.Marshal(strategyProfileParams{
		Kind: profile.Kind, FastPeriod: profile.FastPeriod, SlowPeriod: profile.SlowPeriod,
		MinTicksBetweenSignals: profile.MinTicksBetweenSignals, IsCustom: profile.IsCustom,
	})
	if err != nil {
		return fmt.Errorf("history: marshal strategy profile params: %w", err)
	}

	const sql = `
INSERT INTO strategy_profiles (strategy_id, strategy_version, source_tag, instrument, params_json, created_at, cumulative_running_ms, enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (strategy_id, strategy_version) DO UPDATE SET
	cumulative_running_ms = EXCLUDED.cumulative_running_ms,
	enabled               = EXCLUDED.enabled
`
	return s.inMasterTx(ctx, sql, profile.StrategyID, profile.Version, profile.SourceTag, instrument, params, profile.CreatedAt, int64(0), true)
}

// StatsSnapshot rebuilds one strategy's performance record for its
// highest-numbered version that has closed positions, directly from
// those rows — never from an in-memory running
// counter — so a process restart can never desync the reported stats
// from what actually happened.
func (s *Store) StatsSnapshot(ctx context.Context, strategyID string) (models.StrategyStats, error) {
	const sql = `
SELECT strategy_version, COUNT(*), COUNT(*) FILTER (WHERE realized_pnl_usdt > 0),
	COUNT(*) FILTER (WHERE realized_pnl_usdt < 0), COALESCE(SUM(realized_pnl_usdt), 0)
FROM positions
WHERE strategy_id = $1 AND closed_at IS NOT NULL
GROUP BY strategy_version
ORDER BY strategy_version DESC
LIMIT 1
`
	row := s.tx.Conn().QueryRow(ctx, sql, strategyID)
	var out models.StrategyStats
	out.StrategyID = strategyID
	if err := row.Scan(&out.StrategyVersion, &out.TradeCount, &out.WinCount, &out.LossCount, &out.RealizedPnLUSDT); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return out, fmt.Errorf("history: stats snapshot %s: %w", strategyID, err)
	}
	if out.TradeCount > 0 {
		out.WinRatePercent = float64(out.WinCount) / float64(out.TradeCount) * 100
	}
	return out, nil
}

// RebuildStrategyStats re-derives every strategy's cumulative stats in one
// pass, used on startup to warm whatever in-memory cache the caller keeps
// alongside the always-fresh StatsSnapshot queries.
func (s *Store) RebuildStrategyStats(ctx context.Context) ([]models.StrategyStats, error) {
	const sql = `
SELECT strategy_id, strategy_version, COUNT(*), COUNT(*) FILTER (WHERE realized_pnl_usdt > 0),
	COUNT(*) FILTER (WHERE realized_pnl_usdt < 0), COALESCE(SUM(realized_pnl_usdt), 0)
FROM positions
WHERE closed_at IS NOT NULL
GROUP BY strategy_id, strategy_version
`
	rows, err := s.tx.Conn().Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("history: rebuild strategy stats: %w", err)
	}
	defer rows.Close()

	var out []models.StrategyStats
	for rows.Next() {
		var st models.StrategyStats
		if err := rows.Scan(&st.StrategyID, &st.StrategyVersion, &st.TradeCount, &st.WinCount, &st.LossCount, &st.RealizedPnLUSDT); err != nil {
			return nil, fmt.Errorf("history: scan strategy stats row: %w", err)
		}
		if st.TradeCount > 0 {
			st.WinRatePercent = float64(st.WinCount) / float64(st.TradeCount) * 100
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rebuild strategy stats: %w", err)
	}
	return out, nil
}

// LoadLocalStats implements expectancy.TradeStatsReader, scoped to one
// (strategy, instrument) pair's most recent closed positions.
func (s *Store) LoadLocalStats(strategyID, instID string, lookback int) (models.TradeStatsWindow, error) {
	return s.loadStats(context.Background(), `strategy_id = $1 AND instrument = $2`, lookback, strategyID, instID)
}

// LoadGlobalStats implements expectancy.TradeStatsReader, pooled across
// every strategy and instrument.
func (s *Store) LoadGlobalStats(lookback int) (models.TradeStatsWindow, error) {
	return s.loadStats(context.Background(), "", lookback)
}

func (s *Store) loadStats(ctx context.Context, whereClause string, lookback int, whereArgs ...any) (models.TradeStatsWindow, error) {
	where := "closed_at IS NOT NULL"
	args := append([]any{}, whereArgs...)
	if whereClause != "" {
		where += " AND " + whereClause
	}
	limitPlaceholder := len(args) + 1
	sql := fmt.Sprintf(`
SELECT EXTRACT(EPOCH FROM (now() - closed_at)) / 86400.0, realized_pnl_usdt, holding_ms
FROM positions
WHERE %s
ORDER BY closed_at DESC
LIMIT $%d
`, where, limitPlaceholder)
	args = append(args, lookback)

	rows, err := s.tx.Conn().Query(ctx, sql, args...)
	if err != nil {
		return models.TradeStatsWindow{}, fmt.Errorf("history: load trade stats: %w", err)
	}
	defer rows.Close()

	var w models.TradeStatsWindow
	for rows.Next() {
		var sample models.TradeStatsSample
		if err := rows.Scan(&sample.AgeDays, &sample.PnLUSDT, &sample.HoldingMs); err != nil {
			return models.TradeStatsWindow{}, fmt.Errorf("history: scan trade stats sample: %w", err)
		}
		w.Samples = append(w.Samples, sample)
	}
	if err := rows.Err(); err != nil {
		return models.TradeStatsWindow{}, fmt.Errorf("history: load trade stats: %w", err)
	}
	return w, nil
}

// RecordSessionStart persists the start of one bot run.
func (s *Store) RecordSessionStart(ctx context.Context, sessionID string, startedAt time.Time) error {
	const sql = `INSERT INTO sessions (session_id, started_at) VALUES ($1, $2) ON CONFLICT (session_id) DO NOTHING`
	return s.inMasterTx(ctx, sql, sessionID, startedAt)
}

// RecordSessionEnd marks a bot run as cleanly stopped, called from the
// fx.Lifecycle OnStop hook.
func (s *Store) RecordSessionEnd(ctx context.Context, sessionID string, endedAt time.Time) error {
	const sql = `UPDATE sessions SET ended_at = $2 WHERE session_id = $1`
	return s.inMasterTx(ctx, sql, sessionID, endedAt)
}
