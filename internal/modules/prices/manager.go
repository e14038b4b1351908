package prices

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/dates"
)

// QuoteMeta describes a symbol's quote metadata from the provider.
type QuoteMeta struct {
	Currency string
}

// MarketDataGateway defines the contract for the external market data
// provider. Implementations serialize outbound calls internally; the
// manager issues requests freely and relies on that discipline.
type MarketDataGateway interface {
	// FetchDailyBars fetches daily bars for a symbol from a date through now.
	FetchDailyBars(symbol string, from dates.Day) ([]Bar, error)
	// FetchQuoteMeta fetches current quote metadata for a symbol.
	FetchQuoteMeta(symbol string) (QuoteMeta, error)
}

// Manager orchestrates the store, sync ledger and gateway to answer series
// requests with a once-a-day freshness policy and incremental fetches.
type Manager struct {
	store   *Store
	gateway MarketDataGateway
	now     func() time.Time
	log     zerolog.Logger
}

// NewManager creates a new price cache manager
func NewManager(store *Store, gateway MarketDataGateway, log zerolog.Logger) *Manager {
	return &Manager{
		store:   store,
		gateway: gateway,
		now:     time.Now,
		log:     log.With().Str("service", "price_cache").Logger(),
	}
}

// SetClock overrides the manager's clock. Used by tests to control the
// calendar date freshness comparisons run against.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// isFresh reports whether a sync key was checked on the current calendar day
// (in the process's local timezone). A key checked yesterday is stale even
// if checked one minute before midnight.
func (m *Manager) isFresh(key string) bool {
	last, err := m.store.LastChecked(key)
	if err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("Failed to read sync status, treating as stale")
		return false
	}
	if last == nil {
		return false
	}
	return dates.FromTime(m.now()).SameDay(*last)
}

// GetBarSeries returns all stored daily bars for a symbol from a date
// onward, ascending, refreshing the cache from the gateway first when the
// symbol has not been checked today.
//
// On gateway failure the stored range is returned as-is and the sync ledger
// is NOT stamped, so the next request retries the fetch. The failure only
// becomes an error when there is nothing cached to fall back on.
func (m *Manager) GetBarSeries(symbol string, from dates.Day) ([]Bar, error) {
	key := syncKeyAssetPrefix + symbol

	stored, err := m.store.GetBars(symbol, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached bars for %s: %w", symbol, err)
	}

	if m.isFresh(key) && len(stored) > 0 {
		m.log.Debug().Str("symbol", symbol).Int("bars", len(stored)).Msg("Cache hit")
		return stored, nil
	}

	// Incremental fetch: start from the latest stored bar (across the whole
	// history, not just the requested range) so we only download the gap
	// since the last successful sync.
	fetchFrom := from
	latest, err := m.store.LatestBarDate(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest bar date for %s: %w", symbol, err)
	}
	if !latest.IsZero() && latest.After(fetchFrom) {
		fetchFrom = latest
	}

	fetched, err := m.gateway.FetchDailyBars(symbol, fetchFrom)
	if err != nil {
		m.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Str("from", string(fetchFrom)).
			Int("cached", len(stored)).
			Msg("Gateway fetch failed, serving cached bars")
		if len(stored) == 0 {
			return nil, fmt.Errorf("no cached bars for %s and fetch failed: %w", symbol, err)
		}
		return stored, nil
	}

	if _, err := m.store.InsertBars(fetched); err != nil {
		return nil, fmt.Errorf("failed to store fetched bars for %s: %w", symbol, err)
	}

	// Older rows may predate currency metadata; carry the provider's
	// currency onto them.
	if len(fetched) > 0 && fetched[0].Currency != "" {
		if err := m.store.BackfillCurrency(symbol, fetched[0].Currency); err != nil {
			m.log.Warn().Err(err).Str("symbol", symbol).Msg("Currency backfill failed")
		}
	}

	// A "checked, found nothing new" day still counts as checked.
	if err := m.store.SetLastChecked(key, m.now()); err != nil {
		return nil, fmt.Errorf("failed to stamp sync status for %s: %w", symbol, err)
	}

	merged, err := m.store.GetBars(symbol, from)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read bars for %s: %w", symbol, err)
	}

	m.log.Info().
		Str("symbol", symbol).
		Str("fetch_from", string(fetchFrom)).
		Int("fetched", len(fetched)).
		Int("total", len(merged)).
		Msg("Refreshed bar series")

	return merged, nil
}

// GetRateSeries returns all stored rate points for a currency pair from a
// date onward, ascending. Rates share the bar pathway: same freshness
// policy, same incremental fetch, same failure fallback. The provider
// quotes pairs as bar series, so the daily close becomes the day's rate.
func (m *Manager) GetRateSeries(pair string, from dates.Day) ([]RatePoint, error) {
	key := syncKeyRatePrefix + pair

	stored, err := m.store.GetRates(pair, from)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached rates for %s: %w", pair, err)
	}

	if m.isFresh(key) && len(stored) > 0 {
		m.log.Debug().Str("pair", pair).Int("points", len(stored)).Msg("Cache hit")
		return stored, nil
	}

	fetchFrom := from
	latest, err := m.store.LatestRateDate(pair)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest rate date for %s: %w", pair, err)
	}
	if !latest.IsZero() && latest.After(fetchFrom) {
		fetchFrom = latest
	}

	bars, err := m.gateway.FetchDailyBars(pair, fetchFrom)
	if err != nil {
		m.log.Warn().
			Err(err).
			Str("pair", pair).
			Str("from", string(fetchFrom)).
			Int("cached", len(stored)).
			Msg("Gateway fetch failed, serving cached rates")
		if len(stored) == 0 {
			return nil, fmt.Errorf("no cached rates for %s and fetch failed: %w", pair, err)
		}
		return stored, nil
	}

	points := make([]RatePoint, 0, len(bars))
	for _, b := range bars {
		points = append(points, RatePoint{Pair: pair, Date: b.Date, Rate: b.Close})
	}

	if _, err := m.store.InsertRates(points); err != nil {
		return nil, fmt.Errorf("failed to store fetched rates for %s: %w", pair, err)
	}

	if err := m.store.SetLastChecked(key, m.now()); err != nil {
		return nil, fmt.Errorf("failed to stamp sync status for %s: %w", pair, err)
	}

	merged, err := m.store.GetRates(pair, from)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read rates for %s: %w", pair, err)
	}

	m.log.Info().
		Str("pair", pair).
		Str("fetch_from", string(fetchFrom)).
		Int("fetched", len(points)).
		Int("total", len(merged)).
		Msg("Refreshed rate series")

	return merged, nil
}

// QuoteCurrency resolves the native trading currency for a symbol. The
// cached bars are consulted first; the gateway is only asked when no stored
// bar carries currency metadata, and the answer is backfilled.
func (m *Manager) QuoteCurrency(symbol string) (string, error) {
	bars, err := m.store.GetBars(symbol, "")
	if err != nil {
		return "", fmt.Errorf("failed to read cached bars for %s: %w", symbol, err)
	}
	for _, b := range bars {
		if b.Currency != "" {
			return b.Currency, nil
		}
	}

	meta, err := m.gateway.FetchQuoteMeta(symbol)
	if err != nil {
		return "", fmt.Errorf("failed to fetch quote metadata for %s: %w", symbol, err)
	}

	if err := m.store.BackfillCurrency(symbol, meta.Currency); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("Currency backfill failed")
	}

	return meta.Currency, nil
}

// PurgeCheckedSince forces affected symbols to re-sync on their next
// request by removing their cache rows and sync entries.
func (m *Manager) PurgeCheckedSince(since time.Time) (int, error) {
	return m.store.PurgeCheckedSince(since)
}
