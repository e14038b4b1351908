package valuation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/dates"
	"github.com/portview/portview/internal/modules/ledger"
	"github.com/portview/portview/internal/modules/prices"
)

// TransactionSource provides the portfolio ledger.
// Implemented by ledger.Repository.
type TransactionSource interface {
	List(portfolioID string) ([]ledger.Transaction, error)
	AssetClasses(portfolioID string) ([]string, error)
}

// SeriesSource provides cached daily price series and quote metadata.
// Implemented by prices.Manager.
type SeriesSource interface {
	GetBarSeries(symbol string, from dates.Day) ([]prices.Bar, error)
	QuoteCurrency(symbol string) (string, error)
	PurgeCheckedSince(since time.Time) (int, error)
}

// Converter converts a bar series into the reporting currency.
// Implemented by currency.Normalizer.
type Converter interface {
	Normalize(bars []prices.Bar, native, target string) ([]prices.Bar, error)
}

// TickerError reports a per-ticker fetch failure. The rest of the valuation
// is still computed from whatever series resolved.
type TickerError struct {
	Ticker  string `json:"ticker"`
	Message string `json:"message"`
}

// TickerPoint is one day of a single ticker's value
type TickerPoint struct {
	Date  dates.Day `json:"date"`
	Value float64   `json:"value"`
}

// TickerSeries is one ticker's daily value over the valuation window
type TickerSeries struct {
	Ticker string        `json:"ticker"`
	Points []TickerPoint `json:"points"`
}

// Valuation is the full per-portfolio payload
type Valuation struct {
	PortfolioID     string         `json:"portfolioId"`
	Currency        string         `json:"currency"`
	Holdings        []Holding      `json:"holdings"`
	ValueSeries     []SeriesPoint  `json:"valueSeries"`
	PerTickerSeries []TickerSeries `json:"perTickerSeries"`
	AssetClasses    []string       `json:"assetClasses"`
	Errors          []TickerError  `json:"errors"`
}

// Service orchestrates ledger reads, price series fetches and currency
// normalization into portfolio valuations.
type Service struct {
	transactions TransactionSource
	series       SeriesSource
	converter    Converter
	now          func() time.Time
	log          zerolog.Logger
}

// NewService creates a new valuation service
func NewService(transactions TransactionSource, series SeriesSource, converter Converter, log zerolog.Logger) *Service {
	return &Service{
		transactions: transactions,
		series:       series,
		converter:    converter,
		now:          time.Now,
		log:          log.With().Str("service", "valuation").Logger(),
	}
}

// SetClock overrides the wall clock, for tests
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetValuation computes the current holdings and daily value series of a
// portfolio in the given reporting currency.
//
// Series for all distinct tickers are requested in parallel; the price cache
// serializes the actual provider calls, so fan-out here costs nothing beyond
// cache-hit latency. A failed or empty fetch for one ticker lands in Errors
// and the rest of the payload is still returned. An abandoned caller does
// not abort sibling fetches: partially warmed cache is kept.
func (s *Service) GetValuation(portfolioID, reportingCurrency string) (*Valuation, error) {
	transactions, err := s.transactions.List(portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	assetClasses, err := s.transactions.AssetClasses(portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset classes: %w", err)
	}

	earliestByTicker := make(map[string]dates.Day)
	for _, tx := range transactions {
		if e, ok := earliestByTicker[tx.Ticker]; !ok || tx.Date.Before(e) {
			earliestByTicker[tx.Ticker] = tx.Date
		}
	}

	seriesByTicker := make(map[string][]prices.Bar, len(earliestByTicker))
	var tickerErrors []TickerError

	var mu sync.Mutex
	var wg sync.WaitGroup

	for ticker, from := range earliestByTicker {
		wg.Add(1)
		go func(ticker string, from dates.Day) {
			defer wg.Done()

			bars, fetchErr := s.fetchNormalized(ticker, from, reportingCurrency)

			mu.Lock()
			defer mu.Unlock()
			if fetchErr != nil {
				tickerErrors = append(tickerErrors, TickerError{Ticker: ticker, Message: fetchErr.Error()})
				return
			}
			if len(bars) == 0 {
				tickerErrors = append(tickerErrors, TickerError{Ticker: ticker, Message: "no price data available"})
				return
			}
			seriesByTicker[ticker] = bars
		}(ticker, from)
	}
	wg.Wait()

	sort.Slice(tickerErrors, func(i, j int) bool {
		return tickerErrors[i].Ticker < tickerErrors[j].Ticker
	})

	asOf := dates.FromTime(s.now())
	result := Compute(transactions, seriesByTicker, asOf)

	return &Valuation{
		PortfolioID:     portfolioID,
		Currency:        reportingCurrency,
		Holdings:        result.Holdings,
		ValueSeries:     result.ValueSeries,
		PerTickerSeries: perTickerSeries(result.ValueSeries),
		AssetClasses:    assetClasses,
		Errors:          tickerErrors,
	}, nil
}

// fetchNormalized resolves one ticker's series in the reporting currency
func (s *Service) fetchNormalized(ticker string, from dates.Day, target string) ([]prices.Bar, error) {
	bars, err := s.series.GetBarSeries(ticker, from)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	native, err := s.series.QuoteCurrency(ticker)
	if err != nil || native == "" {
		// Unknown native currency: serve the series unconverted rather
		// than dropping the ticker.
		s.log.Warn().
			Err(err).
			Str("ticker", ticker).
			Msg("Quote currency unavailable, skipping normalization")
		return bars, nil
	}

	return s.converter.Normalize(bars, native, target)
}

// perTickerSeries splits the aggregate series back into one series per ticker
func perTickerSeries(series []SeriesPoint) []TickerSeries {
	pointsByTicker := make(map[string][]TickerPoint)
	for _, p := range series {
		for ticker, v := range p.ByTicker {
			pointsByTicker[ticker] = append(pointsByTicker[ticker], TickerPoint{Date: p.Date, Value: v})
		}
	}

	tickers := make([]string, 0, len(pointsByTicker))
	for t := range pointsByTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make([]TickerSeries, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, TickerSeries{Ticker: t, Points: pointsByTicker[t]})
	}
	return out
}

// PurgeCheckedSince removes cache entries checked at or after the given
// instant, forcing the next request for the affected symbols to re-sync.
func (s *Service) PurgeCheckedSince(since time.Time) (int, error) {
	purged, err := s.series.PurgeCheckedSince(since)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	s.log.Info().
		Int("purged", purged).
		Time("since", since).
		Msg("Cache entries purged")
	return purged, nil
}
