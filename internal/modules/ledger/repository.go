// Package ledger provides the transaction ledger: the append-only record of
// buys and sells the valuation engine replays. Rows are created and edited
// by the surrounding application; the valuation core only reads them.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/dates"
)

// ErrNotFound is returned when a transaction does not exist
var ErrNotFound = errors.New("transaction not found")

// Type is a transaction direction
type Type string

const (
	// TypeBuy increases the held quantity
	TypeBuy Type = "BUY"
	// TypeSell decreases the held quantity
	TypeSell Type = "SELL"
)

// Transaction represents one buy or sell of a ticker within a portfolio
type Transaction struct {
	ID          string    `json:"id"`
	PortfolioID string    `json:"portfolioId"`
	Ticker      string    `json:"ticker"`
	Type        Type      `json:"type"`
	Quantity    float64   `json:"quantity"`
	Date        dates.Day `json:"date"`
	AssetClass  string    `json:"assetClass,omitempty"`
}

// Signed returns the transaction's quantity with its direction applied
func (t Transaction) Signed() float64 {
	if t.Type == TypeSell {
		return -t.Quantity
	}
	return t.Quantity
}

// TickerSpan describes a ticker and its earliest transaction date
type TickerSpan struct {
	Ticker   string
	Earliest dates.Day
}

// Repository provides access to the transaction ledger
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "ledger").Logger(),
	}
}

// List returns all transactions for a portfolio ordered by date.
// Ties on the same date keep insertion order, so "latest record processed"
// is well defined for downstream consumers.
func (r *Repository) List(portfolioID string) ([]Transaction, error) {
	query := `
		SELECT id, portfolio_id, ticker, type, quantity, date, asset_class
		FROM transactions
		WHERE portfolio_id = ?
		ORDER BY date ASC, created_at ASC, id ASC
	`

	rows, err := r.db.Query(query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var date string

		err := rows.Scan(&t.ID, &t.PortfolioID, &t.Ticker, &t.Type, &t.Quantity, &date, &t.AssetClass)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Date = dates.Day(date)

		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// Add validates and inserts a transaction. A missing ID is assigned.
func (r *Repository) Add(t Transaction) (Transaction, error) {
	if err := validate(t); err != nil {
		return Transaction{}, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	_, err := r.db.Exec(`
		INSERT INTO transactions (id, portfolio_id, ticker, type, quantity, date, asset_class, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PortfolioID, t.Ticker, string(t.Type), t.Quantity, string(t.Date), t.AssetClass, time.Now().Unix())
	if err != nil {
		return Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}

	r.log.Debug().
		Str("id", t.ID).
		Str("portfolio", t.PortfolioID).
		Str("ticker", t.Ticker).
		Str("type", string(t.Type)).
		Float64("quantity", t.Quantity).
		Msg("Added transaction")

	return t, nil
}

// Update replaces a transaction's mutable fields
func (r *Repository) Update(t Transaction) error {
	if err := validate(t); err != nil {
		return err
	}
	if t.ID == "" {
		return fmt.Errorf("transaction id is required")
	}

	res, err := r.db.Exec(`
		UPDATE transactions
		SET ticker = ?, type = ?, quantity = ?, date = ?, asset_class = ?
		WHERE id = ? AND portfolio_id = ?
	`, t.Ticker, string(t.Type), t.Quantity, string(t.Date), t.AssetClass, t.ID, t.PortfolioID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}

	return nil
}

// Delete removes a transaction
func (r *Repository) Delete(portfolioID, id string) error {
	res, err := r.db.Exec("DELETE FROM transactions WHERE id = ? AND portfolio_id = ?", id, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// AssetClasses returns the distinct non-empty asset class labels used in a portfolio
func (r *Repository) AssetClasses(portfolioID string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT asset_class
		FROM transactions
		WHERE portfolio_id = ? AND asset_class != ''
		ORDER BY asset_class ASC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset classes: %w", err)
	}
	defer rows.Close()

	var classes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan asset class: %w", err)
		}
		classes = append(classes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset classes: %w", err)
	}

	return classes, nil
}

// ActiveTickers returns every distinct ticker across all portfolios with its
// earliest transaction date. Used by the nightly cache warm job.
func (r *Repository) ActiveTickers() ([]TickerSpan, error) {
	rows, err := r.db.Query(`
		SELECT ticker, MIN(date)
		FROM transactions
		GROUP BY ticker
		ORDER BY ticker ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tickers: %w", err)
	}
	defer rows.Close()

	var spans []TickerSpan
	for rows.Next() {
		var s TickerSpan
		var earliest string
		if err := rows.Scan(&s.Ticker, &earliest); err != nil {
			return nil, fmt.Errorf("failed to scan ticker span: %w", err)
		}
		s.Earliest = dates.Day(earliest)
		spans = append(spans, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active tickers: %w", err)
	}

	return spans, nil
}

// validate checks the fields the schema also enforces, for friendlier errors
func validate(t Transaction) error {
	if t.PortfolioID == "" {
		return fmt.Errorf("portfolio id is required")
	}
	if t.Ticker == "" {
		return fmt.Errorf("ticker is required")
	}
	if t.Type != TypeBuy && t.Type != TypeSell {
		return fmt.Errorf("invalid transaction type: %q", t.Type)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", t.Quantity)
	}
	if _, err := dates.Parse(string(t.Date)); err != nil {
		return fmt.Errorf("invalid transaction date: %w", err)
	}
	return nil
}
