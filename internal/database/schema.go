package database

// schemas maps database names to their DDL. Applied by Migrate.
// All statements are idempotent (IF NOT EXISTS) so migration can run on
// every startup.
var schemas = map[string]string{
	"prices": pricesSchema,
	"ledger": ledgerSchema,
}

// pricesSchema holds the price cache: daily bars per ticker, exchange rates
// per currency pair, and the per-key sync ledger that drives the once-a-day
// freshness policy. Dates are calendar days stored as YYYY-MM-DD text; the
// ISO format keeps lexicographic and chronological order identical.
const pricesSchema = `
CREATE TABLE IF NOT EXISTS daily_bars (
	symbol     TEXT NOT NULL,
	date       TEXT NOT NULL,
	open       REAL NOT NULL,
	high       REAL NOT NULL,
	low        REAL NOT NULL,
	close      REAL NOT NULL,
	adj_close  REAL NOT NULL,
	volume     INTEGER,
	currency   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS exchange_rates (
	pair  TEXT NOT NULL,
	date  TEXT NOT NULL,
	rate  REAL NOT NULL,
	PRIMARY KEY (pair, date)
);

CREATE TABLE IF NOT EXISTS sync_status (
	key              TEXT PRIMARY KEY,
	last_checked_at  INTEGER NOT NULL
);
`

// ledgerSchema holds the transaction ledger. Rows are written by the
// surrounding application; the valuation core only reads them.
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	portfolio_id  TEXT NOT NULL,
	ticker        TEXT NOT NULL,
	type          TEXT NOT NULL CHECK (type IN ('BUY', 'SELL')),
	quantity      REAL NOT NULL CHECK (quantity > 0),
	date          TEXT NOT NULL,
	asset_class   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_portfolio_date
	ON transactions (portfolio_id, date);
`
