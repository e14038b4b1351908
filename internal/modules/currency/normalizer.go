// Package currency converts price series between currencies using cached
// exchange rate series.
package currency

import (
	"github.com/rs/zerolog"

	"github.com/portview/portview/internal/dates"
	"github.com/portview/portview/internal/modules/prices"
)

// rateLookbackDays bounds the backward walk for a missing rate. A gap longer
// than this falls back to an identity multiplier instead of picking up an
// arbitrarily old rate.
const rateLookbackDays = 7

// RateSource provides cached exchange rate series.
// Implemented by prices.Manager.
type RateSource interface {
	GetRateSeries(pair string, from dates.Day) ([]prices.RatePoint, error)
}

// Normalizer converts bar series into a target reporting currency
type Normalizer struct {
	rates RateSource
	log   zerolog.Logger
}

// NewNormalizer creates a new currency normalizer
func NewNormalizer(rates RateSource, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		rates: rates,
		log:   log.With().Str("service", "currency_normalizer").Logger(),
	}
}

// PairSymbol builds the provider pair key for converting native into target.
// The stored rate for "<native><target>=X" is units of target currency per
// unit of native currency, so converted = native x rate. This convention
// must match everywhere rates are fetched, stored and looked up.
func PairSymbol(native, target string) string {
	return native + target + "=X"
}

// Normalize converts a bar series from its native currency into the target
// currency. The multiplier applies to open/high/low/close/adjClose, never
// volume.
//
// Pence sterling ("GBp"/"GBX") is minor-unit GBP quoting: values are divided
// by 100 before any FX step, including when the target itself is GBP.
//
// Missing rates forward-fill from the nearest prior day within the lookback
// window; past that the bar is kept unconverted (multiplier 1). A pair with
// no rate data at all therefore yields the series unchanged, never an error.
func (n *Normalizer) Normalize(bars []prices.Bar, native, target string) ([]prices.Bar, error) {
	if len(bars) == 0 {
		return bars, nil
	}

	penceScale := 1.0
	if native == "GBp" || native == "GBX" {
		penceScale = 0.01
		native = "GBP"
	}

	if native == target {
		if penceScale == 1.0 {
			return bars, nil
		}
		return scale(bars, func(dates.Day) float64 { return penceScale }, target), nil
	}

	pair := PairSymbol(native, target)

	// Start the rate series a lookback window before the first bar so the
	// first bar can still forward-fill.
	series, err := n.rates.GetRateSeries(pair, bars[0].Date.AddDays(-rateLookbackDays))
	if err != nil {
		n.log.Warn().
			Err(err).
			Str("pair", pair).
			Int("bars", len(bars)).
			Msg("Rate series unavailable, returning series unconverted")
		series = nil
	}

	rateByDay := make(map[dates.Day]float64, len(series))
	for _, p := range series {
		rateByDay[p.Date] = p.Rate
	}

	unresolved := 0
	result := scale(bars, func(d dates.Day) float64 {
		rate, ok := dates.NearestPrior(rateByDay, d, rateLookbackDays)
		if !ok {
			unresolved++
			rate = 1.0
		}
		return penceScale * rate
	}, target)

	if unresolved > 0 {
		n.log.Warn().
			Str("pair", pair).
			Int("unresolved", unresolved).
			Int("total", len(bars)).
			Msg("No rate within lookback window for some days, left unconverted")
	}

	return result, nil
}

// scale copies the series applying a per-day multiplier to the price fields
func scale(bars []prices.Bar, multiplier func(dates.Day) float64, target string) []prices.Bar {
	out := make([]prices.Bar, len(bars))
	for i, b := range bars {
		m := multiplier(b.Date)
		c := b
		c.Open = b.Open * m
		c.High = b.High * m
		c.Low = b.Low * m
		c.Close = b.Close * m
		c.AdjClose = b.AdjClose * m
		c.Currency = target
		out[i] = c
	}
	return out
}
