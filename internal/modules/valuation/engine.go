// Package valuation reconstructs holdings and portfolio value over time by
// replaying the transaction ledger against normalized price series.
package valuation

import (
	"encoding/json"
	"sort"

	"github.com/portview/portview/internal/dates"
	"github.com/portview/portview/internal/modules/ledger"
	"github.com/portview/portview/internal/modules/prices"
)

// priceLookbackDays bounds the backward walk for a missing close. Past the
// window a ticker is valued at 0 for that day, the same bounded
// approximation the currency normalizer applies to rates.
const priceLookbackDays = 7

// Holding summarizes a currently held position
type Holding struct {
	Ticker       string  `json:"ticker"`
	Quantity     float64 `json:"quantity"`
	CurrentPrice float64 `json:"currentPrice"`
	CurrentValue float64 `json:"currentValue"`
	AssetClass   string  `json:"assetClass,omitempty"`
}

// SeriesPoint is one day of portfolio value. ByTicker holds each positively
// held ticker's own contribution to Value.
type SeriesPoint struct {
	Date     dates.Day
	Value    float64
	ByTicker map[string]float64
}

// MarshalJSON flattens per-ticker values into the point itself, so a point
// serializes as {"date": ..., "value": ..., "AAPL": ...}.
func (p SeriesPoint) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(p.ByTicker)+2)
	flat["date"] = p.Date
	flat["value"] = p.Value
	for ticker, v := range p.ByTicker {
		flat[ticker] = v
	}
	return json.Marshal(flat)
}

// Result is the engine's output
type Result struct {
	Holdings    []Holding
	ValueSeries []SeriesPoint
}

// Compute replays the ledger against normalized price series and returns
// current holdings plus the daily value series from the earliest transaction
// through asOf.
//
// The computation is deterministic: iteration orders are fixed, so two runs
// over the same inputs produce identical output.
//
// Held quantity is the signed sum of transactions dated on or before each
// day; it can go negative when sells exceed recorded buys, which is reported
// as-is (a data-quality signal for the caller, not an error here). Tickers
// only contribute to value while their quantity is positive.
func Compute(transactions []ledger.Transaction, seriesByTicker map[string][]prices.Bar, asOf dates.Day) Result {
	byTicker := groupByTicker(transactions)

	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	closeByTicker := make(map[string]map[dates.Day]float64, len(seriesByTicker))
	for ticker, bars := range seriesByTicker {
		closes := make(map[dates.Day]float64, len(bars))
		for _, b := range bars {
			closes[b.Date] = b.Close
		}
		closeByTicker[ticker] = closes
	}

	return Result{
		Holdings:    computeHoldings(tickers, byTicker, seriesByTicker, asOf),
		ValueSeries: computeSeries(tickers, byTicker, closeByTicker, asOf),
	}
}

// groupByTicker splits the ledger per ticker, preserving input order
func groupByTicker(transactions []ledger.Transaction) map[string][]ledger.Transaction {
	byTicker := make(map[string][]ledger.Transaction)
	for _, tx := range transactions {
		byTicker[tx.Ticker] = append(byTicker[tx.Ticker], tx)
	}
	return byTicker
}

// quantityOn returns the signed held quantity of a ticker's transactions on a day
func quantityOn(txs []ledger.Transaction, day dates.Day) float64 {
	qty := 0.0
	for _, tx := range txs {
		if !tx.Date.After(day) {
			qty += tx.Signed()
		}
	}
	return qty
}

// computeSeries builds the daily value series. Leading all-zero days before
// the first meaningful value are trimmed; once a day has been included no
// later day is skipped, even at value 0.
func computeSeries(
	tickers []string,
	byTicker map[string][]ledger.Transaction,
	closeByTicker map[string]map[dates.Day]float64,
	asOf dates.Day,
) []SeriesPoint {
	var earliest dates.Day
	for _, txs := range byTicker {
		for _, tx := range txs {
			if earliest.IsZero() || tx.Date.Before(earliest) {
				earliest = tx.Date
			}
		}
	}
	if earliest.IsZero() {
		return nil
	}

	var series []SeriesPoint
	started := false

	for _, day := range dates.Range(earliest, asOf) {
		total := 0.0
		perTicker := make(map[string]float64)

		for _, ticker := range tickers {
			qty := quantityOn(byTicker[ticker], day)
			if qty <= 0 {
				continue
			}

			price, ok := dates.NearestPrior(closeByTicker[ticker], day, priceLookbackDays)
			if !ok {
				// Unresolvable price: the ticker is valued at 0 for this
				// day, it is not dropped from the date.
				price = 0
			}

			dayValue := qty * price
			total += dayValue
			perTicker[ticker] = dayValue
		}

		if !started && total <= 0 {
			continue
		}
		started = true

		series = append(series, SeriesPoint{Date: day, Value: total, ByTicker: perTicker})
	}

	return series
}

// computeHoldings builds the current holdings summary: every ticker with a
// strictly positive net quantity as of asOf, priced at the latest available
// close in its normalized series. Tickers without any priced series are
// omitted (unpriced, per the cache contract).
func computeHoldings(
	tickers []string,
	byTicker map[string][]ledger.Transaction,
	seriesByTicker map[string][]prices.Bar,
	asOf dates.Day,
) []Holding {
	var holdings []Holding

	for _, ticker := range tickers {
		qty := quantityOn(byTicker[ticker], asOf)
		if qty <= 0 {
			continue
		}

		bars := seriesByTicker[ticker]
		if len(bars) == 0 {
			continue
		}
		currentPrice := bars[len(bars)-1].Close

		holdings = append(holdings, Holding{
			Ticker:       ticker,
			Quantity:     qty,
			CurrentPrice: currentPrice,
			CurrentValue: qty * currentPrice,
			AssetClass:   latestAssetClass(byTicker[ticker]),
		})
	}

	return holdings
}

// latestAssetClass returns the asset class of the ticker's most recent
// transaction by date; ties go to the latest record processed.
func latestAssetClass(txs []ledger.Transaction) string {
	var class string
	var latest dates.Day
	for _, tx := range txs {
		if latest.IsZero() || !tx.Date.Before(latest) {
			latest = tx.Date
			class = tx.AssetClass
		}
	}
	return class
}
