// Package prices implements the locally persisted price cache: durable
// storage of daily price bars and exchange rate series, the per-key sync
// ledger, and the cache manager that keeps both incrementally refreshed
// from the market data provider.
package prices

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/database"
	"github.com/portview/portview/internal/dates"
)

// Sync ledger key prefixes. A key identifies either a ticker's bar series
// or a currency pair's rate series.
const (
	syncKeyAssetPrefix = "asset_"
	syncKeyRatePrefix  = "rate_"
)

// Bar represents one day's OHLCV data for a ticker.
// Unique per (symbol, date); immutable once written except for currency
// metadata backfill.
type Bar struct {
	Symbol   string    `json:"symbol"`
	Date     dates.Day `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adjClose"`
	Volume   *int64    `json:"volume,omitempty"`
	Currency string    `json:"currency,omitempty"`
}

// RatePoint represents one day's exchange rate for a currency pair.
// The pair key is provider-oriented (e.g. "USDEUR=X") and the rate is
// units of the target currency per unit of the native currency.
type RatePoint struct {
	Pair string    `json:"pair"`
	Date dates.Day `json:"date"`
	Rate float64   `json:"rate"`
}

// Store provides durable access to cached bars, rates and sync state
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new price store
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "price_store").Logger(),
	}
}

// GetBars fetches stored bars for a symbol with date >= from, ascending by date
func (s *Store) GetBars(symbol string, from dates.Day) ([]Bar, error) {
	query := `
		SELECT symbol, date, open, high, low, close, adj_close, volume, currency
		FROM daily_bars
		WHERE symbol = ? AND date >= ?
		ORDER BY date ASC
	`

	rows, err := s.db.Query(query, symbol, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily bars: %w", err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var b Bar
		var date string
		var volume sql.NullInt64

		err := rows.Scan(&b.Symbol, &date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &volume, &b.Currency)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily bar: %w", err)
		}

		b.Date = dates.Day(date)
		if volume.Valid {
			b.Volume = &volume.Int64
		}

		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily bars: %w", err)
	}

	return bars, nil
}

// LatestBarDate returns the most recent stored bar date for a symbol,
// across the symbol's entire history. Returns the zero Day if no bars exist.
func (s *Store) LatestBarDate(symbol string) (dates.Day, error) {
	var date sql.NullString
	err := s.db.QueryRow("SELECT MAX(date) FROM daily_bars WHERE symbol = ?", symbol).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to get latest bar date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return dates.Day(date.String), nil
}

// InsertBars writes bars with duplicate-skipping on the (symbol, date) key.
// Already-stored dates are never overwritten. All inserts happen in a single
// transaction so no partial write is visible to concurrent readers.
// Returns the number of rows actually inserted.
func (s *Store) InsertBars(bars []Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO daily_bars
			(symbol, date, open, high, low, close, adj_close, volume, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			volume := sql.NullInt64{}
			if b.Volume != nil {
				volume.Int64 = *b.Volume
				volume.Valid = true
			}

			adjClose := b.AdjClose
			if adjClose == 0 {
				adjClose = b.Close
			}

			res, err := stmt.Exec(b.Symbol, string(b.Date), b.Open, b.High, b.Low, b.Close, adjClose, volume, b.Currency)
			if err != nil {
				return fmt.Errorf("failed to insert bar for %s %s: %w", b.Symbol, b.Date, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Debug().
		Int("total", len(bars)).
		Int("inserted", inserted).
		Msg("Stored daily bars")

	return inserted, nil
}

// BackfillCurrency sets the currency on stored bars that have none.
// Bars with a currency already set are left untouched.
func (s *Store) BackfillCurrency(symbol, currency string) error {
	if currency == "" {
		return nil
	}

	_, err := s.db.Exec(
		"UPDATE daily_bars SET currency = ? WHERE symbol = ? AND currency = ''",
		currency, symbol,
	)
	if err != nil {
		return fmt.Errorf("failed to backfill currency for %s: %w", symbol, err)
	}
	return nil
}

// GetRates fetches stored rate points for a pair with date >= from, ascending by date
func (s *Store) GetRates(pair string, from dates.Day) ([]RatePoint, error) {
	query := `
		SELECT pair, date, rate
		FROM exchange_rates
		WHERE pair = ? AND date >= ?
		ORDER BY date ASC
	`

	rows, err := s.db.Query(query, pair, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to query exchange rates: %w", err)
	}
	defer rows.Close()

	var points []RatePoint
	for rows.Next() {
		var p RatePoint
		var date string

		if err := rows.Scan(&p.Pair, &date, &p.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		p.Date = dates.Day(date)

		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exchange rates: %w", err)
	}

	return points, nil
}

// LatestRateDate returns the most recent stored rate date for a pair.
// Returns the zero Day if no rates exist.
func (s *Store) LatestRateDate(pair string) (dates.Day, error) {
	var date sql.NullString
	err := s.db.QueryRow("SELECT MAX(date) FROM exchange_rates WHERE pair = ?", pair).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to get latest rate date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return dates.Day(date.String), nil
}

// InsertRates writes rate points with duplicate-skipping on the (pair, date) key
func (s *Store) InsertRates(points []RatePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare("INSERT OR IGNORE INTO exchange_rates (pair, date, rate) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			res, err := stmt.Exec(p.Pair, string(p.Date), p.Rate)
			if err != nil {
				return fmt.Errorf("failed to insert rate for %s %s: %w", p.Pair, p.Date, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Debug().
		Int("total", len(points)).
		Int("inserted", inserted).
		Msg("Stored exchange rates")

	return inserted, nil
}

// LastChecked returns the sync ledger timestamp for a key.
// Returns nil if the key has never been checked (not an error).
func (s *Store) LastChecked(key string) (*time.Time, error) {
	var unix int64
	err := s.db.QueryRow("SELECT last_checked_at FROM sync_status WHERE key = ?", key).Scan(&unix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}

	t := time.Unix(unix, 0)
	return &t, nil
}

// SetLastChecked upserts the sync ledger timestamp for a key
func (s *Store) SetLastChecked(key string, t time.Time) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO sync_status (key, last_checked_at) VALUES (?, ?)",
		key, t.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set sync status: %w", err)
	}
	return nil
}

// PurgeCheckedSince removes cache entries whose sync ledger timestamp is at
// or after the given instant: the sync rows themselves plus the bars or
// rates they cover. The next series request for an affected symbol treats
// it as stale and re-syncs incrementally.
// Returns the number of purged sync keys.
func (s *Store) PurgeCheckedSince(since time.Time) (int, error) {
	var keys []string

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT key FROM sync_status WHERE last_checked_at >= ?", since.Unix())
		if err != nil {
			return fmt.Errorf("failed to query sync status: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return fmt.Errorf("failed to scan sync key: %w", err)
			}
			keys = append(keys, key)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating sync keys: %w", err)
		}

		for _, key := range keys {
			switch {
			case strings.HasPrefix(key, syncKeyAssetPrefix):
				symbol := strings.TrimPrefix(key, syncKeyAssetPrefix)
				if _, err := tx.Exec("DELETE FROM daily_bars WHERE symbol = ?", symbol); err != nil {
					return fmt.Errorf("failed to purge bars for %s: %w", symbol, err)
				}
			case strings.HasPrefix(key, syncKeyRatePrefix):
				pair := strings.TrimPrefix(key, syncKeyRatePrefix)
				if _, err := tx.Exec("DELETE FROM exchange_rates WHERE pair = ?", pair); err != nil {
					return fmt.Errorf("failed to purge rates for %s: %w", pair, err)
				}
			}

			if _, err := tx.Exec("DELETE FROM sync_status WHERE key = ?", key); err != nil {
				return fmt.Errorf("failed to purge sync entry %s: %w", key, err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(keys) > 0 {
		s.log.Info().
			Int("keys", len(keys)).
			Time("since", since).
			Msg("Purged cache entries")
	}

	return len(keys), nil
}
