package prices

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portview/portview/internal/dates"
	apptesting "github.com/portview/portview/internal/testing"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	db, cleanup := apptesting.NewTestDB(t, "prices")
	return NewStore(db.Conn(), zerolog.Nop()), cleanup
}

func int64Ptr(v int64) *int64 { return &v }

func TestInsertBars_DuplicatesAreSkipped(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	bars := []Bar{
		{Symbol: "AAPL", Date: "2024-01-02", Open: 179, High: 182, Low: 178, Close: 180, AdjClose: 180, Volume: int64Ptr(1000), Currency: "USD"},
		{Symbol: "AAPL", Date: "2024-01-03", Open: 180, High: 184, Low: 179, Close: 183, AdjClose: 183, Currency: "USD"},
	}

	inserted, err := store.InsertBars(bars)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Same dates again with different values: inserts are no-ops and the
	// original rows survive.
	dup := []Bar{
		{Symbol: "AAPL", Date: "2024-01-02", Open: 1, High: 1, Low: 1, Close: 999, AdjClose: 999, Currency: "USD"},
	}
	inserted, err = store.InsertBars(dup)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	stored, err := store.GetBars("AAPL", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 180.0, stored[0].Close, "original row must not be overwritten")
	require.NotNil(t, stored[0].Volume)
	assert.Equal(t, int64(1000), *stored[0].Volume)
}

func TestGetBars_RangeAndOrder(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.InsertBars([]Bar{
		{Symbol: "AAPL", Date: "2024-01-05", Close: 185, AdjClose: 185},
		{Symbol: "AAPL", Date: "2024-01-02", Close: 180, AdjClose: 180},
		{Symbol: "AAPL", Date: "2024-01-03", Close: 183, AdjClose: 183},
		{Symbol: "MSFT", Date: "2024-01-02", Close: 370, AdjClose: 370},
	})
	require.NoError(t, err)

	bars, err := store.GetBars("AAPL", "2024-01-03")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, dates.Day("2024-01-03"), bars[0].Date)
	assert.Equal(t, dates.Day("2024-01-05"), bars[1].Date)

	latest, err := store.LatestBarDate("AAPL")
	require.NoError(t, err)
	assert.Equal(t, dates.Day("2024-01-05"), latest)

	latest, err = store.LatestBarDate("NOPE")
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestBackfillCurrency_OnlyFillsEmpty(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.InsertBars([]Bar{
		{Symbol: "VOD.L", Date: "2024-01-02", Close: 70, AdjClose: 70},
		{Symbol: "VOD.L", Date: "2024-01-03", Close: 71, AdjClose: 71, Currency: "GBp"},
	})
	require.NoError(t, err)

	require.NoError(t, store.BackfillCurrency("VOD.L", "GBp"))

	bars, err := store.GetBars("VOD.L", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "GBp", bars[0].Currency)
	assert.Equal(t, "GBp", bars[1].Currency)
}

func TestRates_RoundTrip(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	inserted, err := store.InsertRates([]RatePoint{
		{Pair: "USDEUR=X", Date: "2024-01-02", Rate: 0.91},
		{Pair: "USDEUR=X", Date: "2024-01-03", Rate: 0.92},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Duplicate insert is a no-op
	inserted, err = store.InsertRates([]RatePoint{{Pair: "USDEUR=X", Date: "2024-01-02", Rate: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	rates, err := store.GetRates("USDEUR=X", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, 0.91, rates[0].Rate)

	latest, err := store.LatestRateDate("USDEUR=X")
	require.NoError(t, err)
	assert.Equal(t, dates.Day("2024-01-03"), latest)
}

func TestSyncLedger(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	last, err := store.LastChecked("asset_AAPL")
	require.NoError(t, err)
	assert.Nil(t, last, "never-checked key returns nil")

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.SetLastChecked("asset_AAPL", now))

	last, err = store.LastChecked("asset_AAPL")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(now))

	// Upsert wins over the old timestamp
	later := now.Add(time.Hour)
	require.NoError(t, store.SetLastChecked("asset_AAPL", later))
	last, err = store.LastChecked("asset_AAPL")
	require.NoError(t, err)
	assert.True(t, last.Equal(later))
}

func TestPurgeCheckedSince(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.InsertBars([]Bar{
		{Symbol: "AAPL", Date: "2024-01-02", Close: 180, AdjClose: 180},
		{Symbol: "MSFT", Date: "2024-01-02", Close: 370, AdjClose: 370},
	})
	require.NoError(t, err)
	_, err = store.InsertRates([]RatePoint{{Pair: "USDEUR=X", Date: "2024-01-02", Rate: 0.91}})
	require.NoError(t, err)

	cutoff := time.Now()
	require.NoError(t, store.SetLastChecked("asset_AAPL", cutoff.Add(-time.Hour)))
	require.NoError(t, store.SetLastChecked("asset_MSFT", cutoff.Add(time.Hour)))
	require.NoError(t, store.SetLastChecked("rate_USDEUR=X", cutoff.Add(time.Hour)))

	purged, err := store.PurgeCheckedSince(cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	// MSFT bars and USDEUR rates are gone, AAPL untouched
	bars, err := store.GetBars("MSFT", "")
	require.NoError(t, err)
	assert.Empty(t, bars)

	rates, err := store.GetRates("USDEUR=X", "")
	require.NoError(t, err)
	assert.Empty(t, rates)

	bars, err = store.GetBars("AAPL", "")
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	last, err := store.LastChecked("asset_AAPL")
	require.NoError(t, err)
	assert.NotNil(t, last)

	last, err = store.LastChecked("asset_MSFT")
	require.NoError(t, err)
	assert.Nil(t, last, "purged key must read as never checked")
}
