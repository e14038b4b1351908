package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/dates"
	"github.com/portview/portview/internal/modules/ledger"
	"github.com/portview/portview/internal/modules/prices"
)

// TickerSource lists the tickers worth keeping warm.
// Implemented by ledger.Repository.
type TickerSource interface {
	ActiveTickers() ([]ledger.TickerSpan, error)
}

// SeriesWarmer refreshes a symbol's cached series.
// Implemented by prices.Manager.
type SeriesWarmer interface {
	GetBarSeries(symbol string, from dates.Day) ([]prices.Bar, error)
}

// RefreshJob warms the price cache for every ticker present in the ledger,
// so interactive valuation requests hit a cache already synced today.
type RefreshJob struct {
	tickers TickerSource
	series  SeriesWarmer
	log     zerolog.Logger
}

// NewRefreshJob creates a new cache refresh job
func NewRefreshJob(tickers TickerSource, series SeriesWarmer, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		tickers: tickers,
		series:  series,
		log:     log.With().Str("job", "cache_refresh").Logger(),
	}
}

// Name returns the job name
func (j *RefreshJob) Name() string {
	return "cache_refresh"
}

// Run refreshes every active ticker's series from its earliest transaction
// date. A failing ticker is logged and skipped; the rest still refresh.
func (j *RefreshJob) Run() error {
	spans, err := j.tickers.ActiveTickers()
	if err != nil {
		return err
	}

	refreshed := 0
	failed := 0
	for _, span := range spans {
		if _, err := j.series.GetBarSeries(span.Ticker, span.Earliest); err != nil {
			j.log.Warn().Err(err).Str("ticker", span.Ticker).Msg("Failed to refresh ticker")
			failed++
			continue
		}
		refreshed++
	}

	j.log.Info().
		Int("refreshed", refreshed).
		Int("failed", failed).
		Msg("Cache refresh complete")

	return nil
}
