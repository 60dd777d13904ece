package chronos

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"chronos/internal/questrade"
	"chronos/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	searchCalls int
	candleCalls int

	searchResults []questrade.Symbol
	candleFn      func(start, end time.Time, interval questrade.Interval) []questrade.Candle

	lastStart time.Time
	lastEnd   time.Time
}

func (f *fakeAPI) SearchSymbols(ctx context.Context, prefix string, offset int) ([]questrade.Symbol, error) {
	f.searchCalls++
	return f.searchResults, nil
}

func (f *fakeAPI) Candles(ctx context.Context, symbolID int64, start, end time.Time, interval questrade.Interval) ([]questrade.Candle, error) {
	f.candleCalls++
	f.lastStart, f.lastEnd = start, end
	if f.candleFn == nil {
		return nil, nil
	}
	return f.candleFn(start, end, interval), nil
}

func hourlyCandles(start, end time.Time) []questrade.Candle {
	var out []questrade.Candle
	for t := start.Truncate(time.Hour); t.Before(end); t = t.Add(time.Hour) {
		out = append(out, questrade.Candle{
			Start:  t,
			End:    t.Add(time.Hour),
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100.5,
			Volume: 1000,
		})
	}
	return out
}

func newTestEngine(t *testing.T, api *fakeAPI) (*Engine, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	codec := store.DefaultTimeCodec()

	symbols, err := store.NewSymbolStore(filepath.Join(dir, "symbols.db"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { symbols.Close() })

	candles, err := store.NewCandleStore(filepath.Join(dir, "candles.db"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { candles.Close() })

	eng, err := NewEngine(Options{
		API:       api,
		Symbols:   symbols,
		Candles:   candles,
		Staleness: 24 * time.Hour,
	})
	require.NoError(t, err)

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	eng.SetClock(func() time.Time { return now })
	return eng, &now
}

func testSymbol() []questrade.Symbol {
	return []questrade.Symbol{{
		Symbol:       "AAPL",
		SymbolID:     8049,
		Description:  "Apple Inc.",
		SecurityType: "Stock",
		IsTradable:   true,
		IsQuotable:   true,
		Currency:     "USD",
	}}
}

func TestSymbolResolutionReadThrough(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	eng, _ := newTestEngine(t, api)
	ctx := context.Background()

	rec, err := eng.Symbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(8049), rec.SymbolID)
	assert.Equal(t, 1, api.searchCalls)

	// Memory hit.
	_, err = eng.Symbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, api.searchCalls)

	// Store hit after the memory cache is cleared.
	eng.ClearSymbolCache()
	_, err = eng.Symbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, api.searchCalls)

	// Invalidation forces a remote resolution.
	require.NoError(t, eng.InvalidateSymbol(ctx, "AAPL"))
	_, err = eng.Symbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, api.searchCalls)
}

func TestSymbolMemoizedUnderRequestedSpelling(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	eng, _ := newTestEngine(t, api)
	ctx := context.Background()

	// The provider canonicalizes "aapl" to "AAPL"; neither spelling should
	// search again once resolved.
	rec, err := eng.Symbol(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", rec.Symbol)
	require.Equal(t, 1, api.searchCalls)

	_, err = eng.Symbol(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, 1, api.searchCalls)

	_, err = eng.Symbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, api.searchCalls)

	// Invalidating by the requested spelling drops the canonical alias too.
	require.NoError(t, eng.InvalidateSymbol(ctx, "aapl"))
	_, err = eng.Symbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, api.searchCalls)
}

func TestSymbolNotFound(t *testing.T) {
	api := &fakeAPI{}
	eng, _ := newTestEngine(t, api)

	_, err := eng.Symbol(context.Background(), "NOPE")
	assert.ErrorContains(t, err, "not found")
}

func TestCandlesNoDataFetchesFullRange(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	api.candleFn = func(start, end time.Time, _ questrade.Interval) []questrade.Candle {
		return hourlyCandles(end.Add(-6*time.Hour), end)
	}
	eng, now := newTestEngine(t, api)

	rows, report, err := eng.Candles(context.Background(), CandleRequest{
		Symbol:   "AAPL",
		Interval: questrade.IntervalOneHour,
		Days:     30,
	})
	require.NoError(t, err)
	assert.Equal(t, StateNoData, report.State)
	assert.Equal(t, 1, api.candleCalls)
	assert.Equal(t, now.AddDate(0, 0, -30), api.lastStart)
	assert.Equal(t, 6, report.Fetched)
	assert.Len(t, rows, 6)
	assert.NotEmpty(t, report.JobID)
}

func TestCandlesFreshServesCacheWithoutFetch(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	api.candleFn = func(start, end time.Time, _ questrade.Interval) []questrade.Candle {
		return hourlyCandles(end.Add(-6*time.Hour), end)
	}
	eng, _ := newTestEngine(t, api)
	req := CandleRequest{Symbol: "AAPL", Interval: questrade.IntervalOneHour, Days: 30}

	_, _, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, api.candleCalls)

	rows, report, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateFresh, report.State)
	assert.Equal(t, 1, api.candleCalls, "fresh cache must not hit the remote API")
	assert.Zero(t, report.Fetched)
	assert.Len(t, rows, 6)
}

func TestCandlesStaleFetchesDeltaFromCursor(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	api.candleFn = func(start, end time.Time, _ questrade.Interval) []questrade.Candle {
		return hourlyCandles(start, end)
	}
	eng, now := newTestEngine(t, api)
	req := CandleRequest{Symbol: "AAPL", Interval: questrade.IntervalOneHour, Days: 30}

	_, _, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)

	cursor := api.lastEnd
	*now = now.Add(48 * time.Hour)

	_, report, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateStale, report.State)
	assert.Equal(t, 2, api.candleCalls)
	assert.Equal(t, cursor, api.lastStart, "stale sync starts at the cached cursor, not the full range")
}

func TestCandlesForceRefresh(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	api.candleFn = func(start, end time.Time, _ questrade.Interval) []questrade.Candle {
		return hourlyCandles(end.Add(-6*time.Hour), end)
	}
	eng, now := newTestEngine(t, api)
	req := CandleRequest{Symbol: "AAPL", Interval: questrade.IntervalOneHour, Days: 30}

	_, _, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)

	req.ForceRefresh = true
	rows, report, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateForceRefresh, report.State)
	assert.Equal(t, 2, api.candleCalls)
	assert.Equal(t, now.AddDate(0, 0, -30), api.lastStart)
	// Overlapping candles collapse through the composite key.
	assert.Len(t, rows, 6)
}

func TestCandlesOverlapIsIdempotent(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	base := time.Date(2024, 6, 10, 6, 0, 0, 0, time.UTC)
	api.candleFn = func(_, _ time.Time, _ questrade.Interval) []questrade.Candle {
		return hourlyCandles(base, base.Add(6*time.Hour))
	}
	eng, _ := newTestEngine(t, api)
	req := CandleRequest{Symbol: "AAPL", Interval: questrade.IntervalOneHour, Days: 30, ForceRefresh: true}

	rows1, _, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)
	rows2, _, err := eng.Candles(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, len(rows1), len(rows2))
}

func TestCandlesRejectsUnknownInterval(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	eng, _ := newTestEngine(t, api)

	_, _, err := eng.Candles(context.Background(), CandleRequest{Symbol: "AAPL", Interval: "TenSeconds"})
	assert.Error(t, err)
	assert.Zero(t, api.candleCalls)
}

func TestCandlesUndatableCursorResyncsFullRange(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	api.candleFn = func(start, end time.Time, _ questrade.Interval) []questrade.Candle {
		return hourlyCandles(end.Add(-6*time.Hour), end)
	}

	dir := t.TempDir()
	codec := store.DefaultTimeCodec()
	symbols, err := store.NewSymbolStore(filepath.Join(dir, "symbols.db"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { symbols.Close() })

	candlesPath := filepath.Join(dir, "candles.db")
	candles, err := store.NewCandleStore(candlesPath, codec)
	require.NoError(t, err)
	t.Cleanup(func() { candles.Close() })

	// Plant a cached row whose end timestamp no codec can date.
	raw, err := sql.Open("sqlite", "file:"+candlesPath+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO candles (symbol, interval, start, "end", low, high, open, close, volume, vwap)
		VALUES ('AAPL', 'OneHour', 'garbage', 'garbage', 0, 0, 0, 0, 0, NULL)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	eng, err := NewEngine(Options{API: api, Symbols: symbols, Candles: candles, Staleness: 24 * time.Hour})
	require.NoError(t, err)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	eng.SetClock(func() time.Time { return now })

	_, report, err := eng.Candles(context.Background(), CandleRequest{
		Symbol:   "AAPL",
		Interval: questrade.IntervalOneHour,
		Days:     30,
	})
	require.NoError(t, err, "an undatable cursor must trigger a resync, not an error")
	assert.Equal(t, StateStale, report.State)
	assert.Equal(t, 1, api.candleCalls)
	assert.Equal(t, now.AddDate(0, 0, -30), api.lastStart, "unknown cache age falls back to the full requested range")
}

func TestUpdateStaleSymbols(t *testing.T) {
	api := &fakeAPI{searchResults: testSymbol()}
	eng, now := newTestEngine(t, api)
	ctx := context.Background()

	_, err := eng.Symbol(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, 1, api.searchCalls)

	// Still fresh, nothing happens.
	n, err := eng.UpdateStaleSymbols(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, api.searchCalls)

	*now = now.Add(8 * 24 * time.Hour)
	n, err = eng.UpdateStaleSymbols(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, api.searchCalls)
}
