package prices

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portview/portview/internal/dates"
	apptesting "github.com/portview/portview/internal/testing"
)

// mockGateway is a scriptable MarketDataGateway for manager tests
type mockGateway struct {
	mu        sync.Mutex
	bars      map[string][]Bar
	meta      map[string]QuoteMeta
	err       error
	calls     []string // symbols in call order
	fetchFrom map[string]dates.Day
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		bars:      make(map[string][]Bar),
		meta:      make(map[string]QuoteMeta),
		fetchFrom: make(map[string]dates.Day),
	}
}

func (g *mockGateway) FetchDailyBars(symbol string, from dates.Day) ([]Bar, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, symbol)
	g.fetchFrom[symbol] = from
	if g.err != nil {
		return nil, g.err
	}

	var out []Bar
	for _, b := range g.bars[symbol] {
		if !b.Date.Before(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (g *mockGateway) FetchQuoteMeta(symbol string) (QuoteMeta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return QuoteMeta{}, g.err
	}
	return g.meta[symbol], nil
}

func (g *mockGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func newTestManager(t *testing.T) (*Manager, *Store, *mockGateway, func()) {
	t.Helper()
	db, cleanup := apptesting.NewTestDB(t, "prices")
	store := NewStore(db.Conn(), zerolog.Nop())
	gateway := newMockGateway()
	manager := NewManager(store, gateway, zerolog.Nop())
	return manager, store, gateway, cleanup
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGetBarSeries_FetchesAndCaches(t *testing.T) {
	manager, _, gateway, cleanup := newTestManager(t)
	defer cleanup()

	gateway.bars["AAPL"] = []Bar{
		{Symbol: "AAPL", Date: "2024-01-02", Close: 180, AdjClose: 180, Currency: "USD"},
		{Symbol: "AAPL", Date: "2024-01-03", Close: 183, AdjClose: 183, Currency: "USD"},
	}

	bars, err := manager.GetBarSeries("AAPL", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1, gateway.callCount())

	// Second request on the same calendar day is a pure cache hit
	bars, err = manager.GetBarSeries("AAPL", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1, gateway.callCount(), "at most one gateway call per symbol per day")
}

func TestGetBarSeries_IncrementalFetchStart(t *testing.T) {
	manager, store, gateway, cleanup := newTestManager(t)
	defer cleanup()

	// Seed the cache with history through 2024-03-01, stale sync stamp.
	_, err := store.InsertBars([]Bar{
		{Symbol: "AAPL", Date: "2024-01-02", Close: 180, AdjClose: 180, Currency: "USD"},
		{Symbol: "AAPL", Date: "2024-03-01", Close: 200, AdjClose: 200, Currency: "USD"},
	})
	require.NoError(t, err)
	require.NoError(t, store.SetLastChecked("asset_AAPL", time.Now().AddDate(0, 0, -3)))

	gateway.bars["AAPL"] = []Bar{
		{Symbol: "AAPL", Date: "2024-03-01", Close: 200, AdjClose: 200, Currency: "USD"},
		{Symbol: "AAPL", Date: "2024-03-04", Close: 205, AdjClose: 205, Currency: "USD"},
	}

	bars, err := manager.GetBarSeries("AAPL", "2024-01-01")
	require.NoError(t, err)

	assert.Equal(t, dates.Day("2024-03-01"), gateway.fetchFrom["AAPL"],
		"fetch must start at the latest stored bar, not the requested from date")

	// Merged result: cache + newly fetched, overlap deduplicated
	require.Len(t, bars, 3)
	assert.Equal(t, dates.Day("2024-03-04"), bars[2].Date)
}

func TestGetBarSeries_StaleCacheRefreshedNextDay(t *testing.T) {
	manager, _, gateway, cleanup := newTestManager(t)
	defer cleanup()

	day1 := time.Date(2024, 6, 10, 15, 0, 0, 0, time.Local)
	manager.SetClock(fixedClock(day1))

	gateway.bars["AAPL"] = []Bar{{Symbol: "AAPL", Date: "2024-06-10", Close: 210, AdjClose: 210, Currency: "USD"}}

	_, err := manager.GetBarSeries("AAPL", "2024-06-01")
	require.NoError(t, err)
	require.Equal(t, 1, gateway.callCount())

	// Still the same calendar day: no new call
	manager.SetClock(fixedClock(day1.Add(8 * time.Hour)))
	_, err = manager.GetBarSeries("AAPL", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 1, gateway.callCount())

	// Next calendar day: cache is stale again
	manager.SetClock(fixedClock(day1.AddDate(0, 0, 1)))
	_, err = manager.GetBarSeries("AAPL", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 2, gateway.callCount())
}

func TestGetBarSeries_EmptyFetchStillCountsAsChecked(t *testing.T) {
	manager, store, gateway, cleanup := newTestManager(t)
	defer cleanup()

	_, err := store.InsertBars([]Bar{{Symbol: "AAPL", Date: "2024-01-02", Close: 180, AdjClose: 180}})
	require.NoError(t, err)

	// Provider returns nothing new (weekend)
	bars, err := manager.GetBarSeries("AAPL", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.Equal(t, 1, gateway.callCount())

	// Sync stamp was written, so the next request is a cache hit
	_, err = manager.GetBarSeries("AAPL", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, gateway.callCount())
}

func TestGetBarSeries_GatewayFailureServesCacheAndRetries(t *testing.T) {
	manager, store, gateway, cleanup := newTestManager(t)
	defer cleanup()

	_, err := store.InsertBars([]Bar{{Symbol: "AAPL", Date: "2024-01-02", Close: 180, AdjClose: 180}})
	require.NoError(t, err)

	gateway.err = errors.New("rate limited")

	bars, err := manager.GetBarSeries("AAPL", "2024-01-01")
	require.NoError(t, err, "cached data must be served despite gateway failure")
	require.Len(t, bars, 1)

	// The failed attempt must not count as checked: the next request retries
	gateway.err = nil
	gateway.bars["AAPL"] = []Bar{{Symbol: "AAPL", Date: "2024-01-03", Close: 183, AdjClose: 183}}

	bars, err = manager.GetBarSeries("AAPL", "2024-01-01")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, 2, gateway.callCount())
}

func TestGetBarSeries_GatewayFailureWithEmptyCacheIsError(t *testing.T) {
	manager, _, gateway, cleanup := newTestManager(t)
	defer cleanup()

	gateway.err = errors.New("unknown symbol")

	_, err := manager.GetBarSeries("NOPE", "2024-01-01")
	assert.Error(t, err)
}

func TestGetRateSeries_SharesBarPathway(t *testing.T) {
	manager, store, gateway, cleanup := newTestManager(t)
	defer cleanup()

	gateway.bars["USDEUR=X"] = []Bar{
		{Symbol: "USDEUR=X", Date: "2024-01-02", Close: 0.91, AdjClose: 0.91},
		{Symbol: "USDEUR=X", Date: "2024-01-03", Close: 0.92, AdjClose: 0.92},
	}

	rates, err := manager.GetRateSeries("USDEUR=X", "2024-01-01")
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, 0.91, rates[0].Rate, "daily close becomes the day's rate")
	assert.Equal(t, 1, gateway.callCount())

	// Fresh on the same day
	_, err = manager.GetRateSeries("USDEUR=X", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, gateway.callCount())

	// Sync key uses the rate prefix
	last, err := store.LastChecked("rate_USDEUR=X")
	require.NoError(t, err)
	assert.NotNil(t, last)
}

func TestQuoteCurrency(t *testing.T) {
	manager, store, gateway, cleanup := newTestManager(t)
	defer cleanup()

	// From cached bars when available
	_, err := store.InsertBars([]Bar{{Symbol: "AAPL", Date: "2024-01-02", Close: 180, AdjClose: 180, Currency: "USD"}})
	require.NoError(t, err)

	cur, err := manager.QuoteCurrency("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "USD", cur)
	assert.Equal(t, 0, gateway.callCount())

	// Falls back to the gateway and backfills
	_, err = store.InsertBars([]Bar{{Symbol: "VOD.L", Date: "2024-01-02", Close: 70, AdjClose: 70}})
	require.NoError(t, err)
	gateway.meta["VOD.L"] = QuoteMeta{Currency: "GBp"}

	cur, err = manager.QuoteCurrency("VOD.L")
	require.NoError(t, err)
	assert.Equal(t, "GBp", cur)

	bars, err := store.GetBars("VOD.L", "")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "GBp", bars[0].Currency)
}
