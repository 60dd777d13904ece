package chronos

import (
	"testing"

	"chronos/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesVolume(t *testing.T) {
	rows := []store.CandleRow{
		{Volume: 100},
		{Volume: 250},
		{Volume: 0},
	}
	assert.Equal(t, int64(350), SeriesVolume(rows))
	assert.Zero(t, SeriesVolume(nil))
}

func TestSeriesVWAPPrefersProviderVWAP(t *testing.T) {
	vwap := 10.0
	rows := []store.CandleRow{
		{Close: 20, VWAP: &vwap, Volume: 100},
		{Close: 30, Volume: 100},
	}
	// (10*100 + 30*100) / 200 = 20
	got := SeriesVWAP(rows)
	assert.True(t, got.Equal(decimal.NewFromInt(20)), "got %s", got)
}

func TestSeriesVWAPSkipsZeroVolume(t *testing.T) {
	rows := []store.CandleRow{
		{Close: 1000, Volume: 0},
		{Close: 50, Volume: 10},
	}
	got := SeriesVWAP(rows)
	assert.True(t, got.Equal(decimal.NewFromInt(50)), "got %s", got)
}

func TestSeriesVWAPEmpty(t *testing.T) {
	assert.True(t, SeriesVWAP(nil).IsZero())
}

func TestSeriesRange(t *testing.T) {
	rows := []store.CandleRow{
		{Low: 98, High: 102},
		{Low: 95, High: 101},
		{Low: 99, High: 105},
	}
	low, high, ok := SeriesRange(rows)
	require.True(t, ok)
	assert.Equal(t, 95.0, low)
	assert.Equal(t, 105.0, high)

	_, _, ok = SeriesRange(nil)
	assert.False(t, ok)
}
