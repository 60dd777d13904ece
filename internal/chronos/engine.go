package chronos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chronos/internal/logger"
	"chronos/internal/questrade"
	"chronos/internal/store"

	"github.com/google/uuid"
)

// Fetcher is the remote surface the engine needs; *questrade.Client
// satisfies it.
type Fetcher interface {
	SearchSymbols(ctx context.Context, prefix string, offset int) ([]questrade.Symbol, error)
	Candles(ctx context.Context, symbolID int64, start, end time.Time, interval questrade.Interval) ([]questrade.Candle, error)
}

// SyncState names the decision the engine took for one candle request.
type SyncState string

const (
	StateNoData       SyncState = "no_data"
	StateFresh        SyncState = "fresh"
	StateStale        SyncState = "stale"
	StateForceRefresh SyncState = "force_refresh"
)

// CandleRequest asks for a candle series. Days bounds the historical range
// counted back from now; ForceRefresh bypasses freshness checks entirely.
type CandleRequest struct {
	Symbol       string
	Interval     questrade.Interval
	Days         int
	ForceRefresh bool
}

// SyncReport describes what one candle resolution did.
type SyncReport struct {
	JobID    string
	State    SyncState
	Fetched  int
	Returned int
	From     time.Time
	To       time.Time
}

// Options configures an Engine.
type Options struct {
	API     Fetcher
	Symbols *store.SymbolStore
	Candles *store.CandleStore
	// Staleness is the cursor age beyond which cached candles are
	// re-synced. Defaults to 24 hours.
	Staleness time.Duration
}

// Engine answers symbol and candle queries from the local cache, fetching
// only the missing delta from the remote API and merging it back
// idempotently.
type Engine struct {
	api       Fetcher
	symbols   *store.SymbolStore
	candles   *store.CandleStore
	staleness time.Duration

	memoMu sync.RWMutex
	memo   map[string]store.SymbolRecord

	now func() time.Time
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("engine requires an API client")
	}
	if opts.Symbols == nil || opts.Candles == nil {
		return nil, fmt.Errorf("engine requires both cache stores")
	}
	staleness := opts.Staleness
	if staleness <= 0 {
		staleness = 24 * time.Hour
	}
	return &Engine{
		api:       opts.API,
		symbols:   opts.Symbols,
		candles:   opts.Candles,
		staleness: staleness,
		memo:      make(map[string]store.SymbolRecord),
		now:       time.Now,
	}, nil
}

// SetClock replaces the wall clock, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Symbol resolves symbol metadata read-through: memory cache, then the
// store, then a remote search taking the first match. A memory or store hit
// never touches the remote API.
func (e *Engine) Symbol(ctx context.Context, name string) (store.SymbolRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.SymbolRecord{}, fmt.Errorf("symbol name cannot be empty")
	}

	e.memoMu.RLock()
	rec, ok := e.memo[name]
	e.memoMu.RUnlock()
	if ok {
		return rec, nil
	}

	rec, ok, err := e.symbols.Get(ctx, name)
	if err != nil {
		return store.SymbolRecord{}, err
	}
	if ok {
		e.memoize(name, rec)
		return rec, nil
	}

	matches, err := e.api.SearchSymbols(ctx, name, 0)
	if err != nil {
		return store.SymbolRecord{}, err
	}
	if len(matches) == 0 {
		return store.SymbolRecord{}, fmt.Errorf("symbol %q not found", name)
	}
	first := matches[0]
	rec = store.SymbolRecord{
		SymbolID:        first.SymbolID,
		Symbol:          first.Symbol,
		Description:     first.Description,
		SecurityType:    first.SecurityType,
		ListingExchange: first.ListingExchange,
		IsTradable:      first.IsTradable,
		IsQuotable:      first.IsQuotable,
		Currency:        first.Currency,
		UpdatedAt:       e.now(),
	}
	if err := e.symbols.Upsert(ctx, rec); err != nil {
		return store.SymbolRecord{}, err
	}
	e.memoize(name, rec)
	return rec, nil
}

// memoize caches the record under the name the caller asked with, and under
// the provider's canonical name when the two differ, so repeat lookups by
// either spelling stay local.
func (e *Engine) memoize(name string, rec store.SymbolRecord) {
	e.memoMu.Lock()
	e.memo[name] = rec
	if rec.Symbol != name {
		e.memo[rec.Symbol] = rec
	}
	e.memoMu.Unlock()
}

// InvalidateSymbol drops one symbol from both the memory cache and the
// store, forcing the next resolution to hit the remote API.
func (e *Engine) InvalidateSymbol(ctx context.Context, name string) error {
	canonical := name
	e.memoMu.Lock()
	if rec, ok := e.memo[name]; ok {
		canonical = rec.Symbol
		delete(e.memo, rec.Symbol)
	}
	delete(e.memo, name)
	e.memoMu.Unlock()
	if canonical != name {
		if err := e.symbols.Delete(ctx, name); err != nil {
			return err
		}
	}
	return e.symbols.Delete(ctx, canonical)
}

// ClearSymbolCache empties the in-memory cache; the store is untouched.
func (e *Engine) ClearSymbolCache() {
	e.memoMu.Lock()
	e.memo = make(map[string]store.SymbolRecord)
	e.memoMu.Unlock()
}

// UpdateStaleSymbols refreshes every cached symbol whose metadata is older
// than olderThan, returning how many were refreshed.
func (e *Engine) UpdateStaleSymbols(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := e.now().Add(-olderThan)
	names, err := e.symbols.StaleSymbols(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, name := range names {
		if err := e.InvalidateSymbol(ctx, name); err != nil {
			return refreshed, err
		}
		if _, err := e.Symbol(ctx, name); err != nil {
			return refreshed, err
		}
		refreshed++
	}
	return refreshed, nil
}

// Candles resolves a candle series request against the cache, fetching at
// most the missing delta from the remote provider:
//
//   - no cached data: fetch the full requested range
//   - cursor within the staleness threshold: serve the cache, zero fetches
//   - cursor older: fetch only [cursor, now] and merge
//   - ForceRefresh: always fetch the full requested range
//
// After any fetch the merged series is re-read from the store, so overlapping
// windows collapse through the composite-key upsert instead of duplicating.
func (e *Engine) Candles(ctx context.Context, req CandleRequest) ([]store.CandleRow, SyncReport, error) {
	interval, err := questrade.ParseInterval(string(req.Interval))
	if err != nil {
		return nil, SyncReport{}, err
	}
	days := req.Days
	if days <= 0 {
		days = 90
	}

	rec, err := e.Symbol(ctx, req.Symbol)
	if err != nil {
		return nil, SyncReport{}, err
	}

	// Every age comparison below is UTC on both sides.
	now := e.now().UTC()
	fullStart := now.AddDate(0, 0, -days)
	report := SyncReport{JobID: uuid.NewString(), To: now}

	var fetchFrom time.Time
	needFetch := true

	switch {
	case req.ForceRefresh:
		report.State = StateForceRefresh
		fetchFrom = fullStart
	default:
		cursor, exists, err := e.candles.Cursor(ctx, rec.Symbol, string(interval))
		switch {
		case err != nil && errors.Is(err, store.ErrCursorDecode):
			logger.Warnf("candle cursor for %s@%s undecodable, assuming stale", rec.Symbol, interval)
			report.State = StateStale
			fetchFrom = fullStart
		case err != nil:
			return nil, SyncReport{}, err
		case !exists:
			report.State = StateNoData
			fetchFrom = fullStart
		case now.Sub(cursor.UTC()) <= e.staleness:
			report.State = StateFresh
			needFetch = false
		default:
			report.State = StateStale
			fetchFrom = cursor.UTC()
		}
	}

	if needFetch {
		report.From = fetchFrom
		fetched, err := e.api.Candles(ctx, rec.SymbolID, fetchFrom, now, interval)
		if err != nil {
			return nil, report, err
		}
		rows := make([]store.CandleRow, 0, len(fetched))
		for _, c := range fetched {
			rows = append(rows, store.CandleRow{
				Symbol:   rec.Symbol,
				Interval: string(interval),
				Start:    c.Start,
				End:      c.End,
				Low:      c.Low,
				High:     c.High,
				Open:     c.Open,
				Close:    c.Close,
				Volume:   c.Volume,
				VWAP:     c.VWAP,
			})
		}
		stored, err := e.candles.UpsertBatch(ctx, rows)
		if err != nil {
			return nil, report, err
		}
		report.Fetched = stored
		logger.Debugf("synced %d candles for %s@%s (%s)", stored, rec.Symbol, interval, report.State)
	}

	out, err := e.candles.All(ctx, rec.Symbol, string(interval))
	if err != nil {
		return nil, report, err
	}
	report.Returned = len(out)
	return out, report, nil
}

// CachedCandles reads a range straight from the store without any remote
// call, even on a miss.
func (e *Engine) CachedCandles(ctx context.Context, symbol string, interval questrade.Interval, from, to time.Time) ([]store.CandleRow, error) {
	return e.candles.Range(ctx, symbol, string(interval), from, to)
}
