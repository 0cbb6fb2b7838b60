package history

// ddl is run once at startup (CREATE TABLE IF NOT EXISTS, idempotent by
// construction) so a fresh database self-provisions without a separate
// migration step. Column set matches spec.md §6's "at minimum" schema,
// plus the columns the stats/replay queries below actually need
// (realized_pnl_usdt, holding_ms) that the minimum list left implicit.
const ddl = `
CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	order_id        TEXT,
	intent_id       TEXT NOT NULL,
	strategy_id     TEXT NOT NULL,
	instrument      TEXT NOT NULL,
	market          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             DOUBLE PRECISION NOT NULL,
	price           DOUBLE PRECISION NOT NULL DEFAULT 0,
	reduce_only     BOOLEAN NOT NULL DEFAULT FALSE,
	status          TEXT NOT NULL,
	filled_qty      DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_fill_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id        TEXT PRIMARY KEY,
	client_order_id TEXT NOT NULL REFERENCES orders(client_order_id),
	price           DOUBLE PRECISION NOT NULL,
	qty             DOUBLE PRECISION NOT NULL,
	fee             DOUBLE PRECISION NOT NULL DEFAULT 0,
	fee_asset       TEXT NOT NULL DEFAULT '',
	ts              TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	position_id              TEXT PRIMARY KEY,
	instrument               TEXT NOT NULL,
	strategy_id              TEXT NOT NULL,
	strategy_version         INTEGER NOT NULL DEFAULT 0,
	side                     TEXT NOT NULL,
	source_tag               TEXT NOT NULL DEFAULT '',
	opened_at                TIMESTAMPTZ NOT NULL,
	closed_at                TIMESTAMPTZ,
	entry_price              DOUBLE PRECISION NOT NULL,
	exit_price               DOUBLE PRECISION NOT NULL DEFAULT 0,
	qty                      DOUBLE PRECISION NOT NULL,
	realized_pnl_usdt        DOUBLE PRECISION NOT NULL DEFAULT 0,
	mfe                      DOUBLE PRECISION NOT NULL DEFAULT 0,
	mae                      DOUBLE PRECISION NOT NULL DEFAULT 0,
	holding_ms               BIGINT NOT NULL DEFAULT 0,
	exit_reason_code         TEXT NOT NULL DEFAULT '',
	expected_return_at_entry DOUBLE PRECISION NOT NULL DEFAULT 0,
	p_win_at_entry           DOUBLE PRECISION NOT NULL DEFAULT 0,
	ev_model_version         TEXT NOT NULL DEFAULT '',
	confidence_level         TEXT NOT NULL DEFAULT '',
	stop_order_id            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_positions_instrument ON positions(instrument);
CREATE INDEX IF NOT EXISTS idx_positions_exit_reason_code ON positions(exit_reason_code);

CREATE TABLE IF NOT EXISTS strategy_profiles (
	strategy_id           TEXT NOT NULL,
	strategy_version      INTEGER NOT NULL,
	source_tag            TEXT NOT NULL DEFAULT '',
	instrument            TEXT NOT NULL,
	params_json           JSONB NOT NULL DEFAULT '{}',
	created_at            TIMESTAMPTZ NOT NULL,
	cumulative_running_ms BIGINT NOT NULL DEFAULT 0,
	enabled               BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (strategy_id, strategy_version)
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ
);
`
