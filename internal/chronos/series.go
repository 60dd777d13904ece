package chronos

import (
	"chronos/internal/store"

	"github.com/shopspring/decimal"
)

// SeriesVolume sums traded volume over a candle series.
func SeriesVolume(rows []store.CandleRow) int64 {
	var total int64
	for _, r := range rows {
		total += r.Volume
	}
	return total
}

// SeriesVWAP computes the volume-weighted average price across a series.
// Candles carrying a provider VWAP use it directly; the rest fall back to
// the close. Returns zero when the series has no volume.
func SeriesVWAP(rows []store.CandleRow) decimal.Decimal {
	weighted := decimal.Zero
	volume := decimal.Zero
	for _, r := range rows {
		if r.Volume <= 0 {
			continue
		}
		price := r.Close
		if r.VWAP != nil {
			price = *r.VWAP
		}
		v := decimal.NewFromInt(r.Volume)
		weighted = weighted.Add(decimal.NewFromFloat(price).Mul(v))
		volume = volume.Add(v)
	}
	if volume.IsZero() {
		return decimal.Zero
	}
	return weighted.DivRound(volume, 8)
}

// SeriesRange reports the low and high across a series. ok is false for an
// empty series.
func SeriesRange(rows []store.CandleRow) (low, high float64, ok bool) {
	if len(rows) == 0 {
		return 0, 0, false
	}
	low, high = rows[0].Low, rows[0].High
	for _, r := range rows[1:] {
		if r.Low < low {
			low = r.Low
		}
		if r.High > high {
			high = r.High
		}
	}
	return low, high, true
}
