package sink

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS market_ticks (
		symbol        TEXT        NOT NULL,
		market_time   TIMESTAMPTZ NOT NULL,
		sequence      BIGINT      NOT NULL DEFAULT 0,
		last_price    NUMERIC     NOT NULL DEFAULT 0,
		size          NUMERIC     NOT NULL DEFAULT 0,
		best_bid      NUMERIC     NOT NULL DEFAULT 0,
		best_bid_size NUMERIC     NOT NULL DEFAULT 0,
		best_ask      NUMERIC     NOT NULL DEFAULT 0,
		best_ask_size NUMERIC     NOT NULL DEFAULT 0,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (symbol, market_time)
	)`,
	`CREATE TABLE IF NOT EXISTS account_balances (
		account_id        TEXT PRIMARY KEY,
		currency          TEXT        NOT NULL,
		available_balance NUMERIC     NOT NULL DEFAULT 0,
		hold_balance      NUMERIC     NOT NULL DEFAULT 0,
		order_margin      NUMERIC     NOT NULL DEFAULT 0,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		symbol          TEXT        NOT NULL,
		side            TEXT        NOT NULL,
		current_qty     NUMERIC     NOT NULL DEFAULT 0,
		avg_entry_price NUMERIC     NOT NULL DEFAULT 0,
		mark_price      NUMERIC     NOT NULL DEFAULT 0,
		unrealised_pnl  NUMERIC     NOT NULL DEFAULT 0,
		realised_pnl    NUMERIC     NOT NULL DEFAULT 0,
		leverage        NUMERIC     NOT NULL DEFAULT 0,
		liquidation_px  NUMERIC     NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (symbol, side)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          BIGSERIAL PRIMARY KEY,
		order_id    TEXT        NOT NULL UNIQUE,
		client_oid  TEXT        NOT NULL DEFAULT '',
		symbol      TEXT        NOT NULL DEFAULT '',
		side        TEXT        NOT NULL DEFAULT '',
		order_type  TEXT        NOT NULL DEFAULT '',
		status      TEXT        NOT NULL DEFAULT 'UNKNOWN',
		price       NUMERIC     NOT NULL DEFAULT 0,
		size        NUMERIC     NOT NULL DEFAULT 0,
		filled_size NUMERIC     NOT NULL DEFAULT 0,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trade_executions (
		trade_id    TEXT PRIMARY KEY,
		order_ref   BIGINT      NOT NULL REFERENCES orders (id),
		order_id    TEXT        NOT NULL,
		symbol      TEXT        NOT NULL DEFAULT '',
		side        TEXT        NOT NULL DEFAULT '',
		price       NUMERIC     NOT NULL DEFAULT 0,
		size        NUMERIC     NOT NULL DEFAULT 0,
		fee         NUMERIC     NOT NULL DEFAULT 0,
		liquidity   TEXT        NOT NULL DEFAULT '',
		executed_at TIMESTAMPTZ NOT NULL
	)`,
}

const upsertTickerSQL = `
INSERT INTO market_ticks (symbol, market_time, sequence, last_price, size, best_bid, best_bid_size, best_ask, best_ask_size, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (symbol, market_time) DO UPDATE SET
	sequence = EXCLUDED.sequence,
	last_price = EXCLUDED.last_price,
	size = EXCLUDED.size,
	best_bid = EXCLUDED.best_bid,
	best_bid_size = EXCLUDED.best_bid_size,
	best_ask = EXCLUDED.best_ask,
	best_ask_size = EXCLUDED.best_ask_size,
	updated_at = now()`

const upsertAccountSQL = `
INSERT INTO account_balances (account_id, currency, available_balance, hold_balance, order_margin, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (account_id) DO UPDATE SET
	currency = EXCLUDED.currency,
	available_balance = EXCLUDED.available_balance,
	hold_balance = EXCLUDED.hold_balance,
	order_margin = EXCLUDED.order_margin,
	updated_at = EXCLUDED.updated_at`

const upsertPositionSQL = `
INSERT INTO positions (symbol, side, current_qty, avg_entry_price, mark_price, unrealised_pnl, realised_pnl, leverage, liquidation_px, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (symbol, side) DO UPDATE SET
	current_qty = EXCLUDED.current_qty,
	avg_entry_price = EXCLUDED.avg_entry_price,
	mark_price = EXCLUDED.mark_price,
	unrealised_pnl = EXCLUDED.unrealised_pnl,
	realised_pnl = EXCLUDED.realised_pnl,
	leverage = EXCLUDED.leverage,
	liquidation_px = EXCLUDED.liquidation_px,
	updated_at = EXCLUDED.updated_at`

const upsertOrderSQL = `
INSERT INTO orders (order_id, client_oid, symbol, side, order_type, status, price, size, filled_size, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (order_id) DO UPDATE SET
	client_oid = COALESCE(NULLIF(EXCLUDED.client_oid, ''), orders.client_oid),
	symbol = COALESCE(NULLIF(EXCLUDED.symbol, ''), orders.symbol),
	side = COALESCE(NULLIF(EXCLUDED.side, ''), orders.side),
	order_type = COALESCE(NULLIF(EXCLUDED.order_type, ''), orders.order_type),
	status = EXCLUDED.status,
	price = EXCLUDED.price,
	size = EXCLUDED.size,
	filled_size = EXCLUDED.filled_size,
	updated_at = EXCLUDED.updated_at`

const lookupOrderSQL = `SELECT id FROM orders WHERE order_id = $1`

const insertExecutionSQL = `
INSERT INTO trade_executions (trade_id, order_ref, order_id, symbol, side, price, size, fee, liquidity, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (trade_id) DO NOTHING`
