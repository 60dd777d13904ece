package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrCursorDecode reports that a stored cursor timestamp could not be
// decoded. Callers treat the series as stale rather than failing.
var ErrCursorDecode = errors.New("candle cursor timestamp undecodable")

// CandleRow is one cached candle. The composite key (Symbol, Interval,
// Start) is unique; a later write with the same key replaces the row.
type CandleRow struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
	Low      float64
	High     float64
	Open     float64
	Close    float64
	Volume   int64
	VWAP     *float64
}

// CandleStore persists candle series in a single SQLite file. One store
// instance exclusively owns its database file; writes are serialized through
// a single connection while WAL allows concurrent readers.
type CandleStore struct {
	db    *sql.DB
	codec TimeCodec
}

func NewCandleStore(path string, codec TimeCodec) (*CandleStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("candle store path cannot be empty")
	}
	if !codec.valid() {
		return nil, fmt.Errorf("candle store requires a time codec")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CandleStore{db: db, codec: codec}, nil
}

func ensureCandleSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol   TEXT NOT NULL,
			interval TEXT NOT NULL,
			start    TEXT NOT NULL,
			"end"    TEXT NOT NULL,
			low      REAL NOT NULL,
			high     REAL NOT NULL,
			open     REAL NOT NULL,
			close    REAL NOT NULL,
			volume   INTEGER NOT NULL,
			vwap     REAL,
			PRIMARY KEY (symbol, interval, start)
		);`)
	return err
}

func (s *CandleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertBatch writes candles in one transaction: either every row commits or
// none does, and concurrent readers never observe a half-written batch.
// Rows whose composite key already exists are overwritten.
func (s *CandleStore) UpsertBatch(ctx context.Context, rows []CandleRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, interval, start, "end", low, high, open, close, volume, vwap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, start) DO UPDATE SET
		    "end"=excluded."end",
		    low=excluded.low,
		    high=excluded.high,
		    open=excluded.open,
		    close=excluded.close,
		    volume=excluded.volume,
		    vwap=excluded.vwap`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, row := range rows {
		if row.Symbol == "" || row.Interval == "" {
			_ = tx.Rollback()
			return 0, fmt.Errorf("candle row requires symbol and interval")
		}
		var vwap any
		if row.VWAP != nil {
			vwap = *row.VWAP
		}
		_, err := stmt.ExecContext(ctx,
			row.Symbol, row.Interval,
			s.codec.Encode(row.Start), s.codec.Encode(row.End),
			row.Low, row.High, row.Open, row.Close, row.Volume, vwap)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

const candleColumns = `symbol, interval, start, "end", low, high, open, close, volume, vwap`

// Range returns candles for (symbol, interval) whose start falls inside
// [from, to], ordered by start. A zero bound leaves that side open.
func (s *CandleStore) Range(ctx context.Context, symbol, interval string, from, to time.Time) ([]CandleRow, error) {
	query := `SELECT ` + candleColumns + ` FROM candles WHERE symbol = ? AND interval = ?`
	args := []any{symbol, interval}
	if !from.IsZero() {
		query += ` AND start >= ?`
		args = append(args, s.codec.Encode(from))
	}
	if !to.IsZero() {
		query += ` AND start <= ?`
		args = append(args, s.codec.Encode(to))
	}
	query += ` ORDER BY start ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanRows(rows)
}

// All returns the full cached series for (symbol, interval), ordered by
// start.
func (s *CandleStore) All(ctx context.Context, symbol, interval string) ([]CandleRow, error) {
	return s.Range(ctx, symbol, interval, time.Time{}, time.Time{})
}

// Count returns the number of cached candles for (symbol, interval).
func (s *CandleStore) Count(ctx context.Context, symbol, interval string) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = ? AND interval = ?`, symbol, interval)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Cursor returns the maximum end timestamp cached for (symbol, interval).
// ok is false when no candles exist. A stored value that fails to decode
// returns ErrCursorDecode with ok still true, so the caller can distinguish
// "no data" from "data of unknown age".
func (s *CandleStore) Cursor(ctx context.Context, symbol, interval string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT "end" FROM candles
		WHERE symbol = ? AND interval = ?
		ORDER BY "end" DESC LIMIT 1`, symbol, interval)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	ts, err := s.codec.Decode(raw)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("%w: %q", ErrCursorDecode, raw)
	}
	return ts, true, nil
}

func (s *CandleStore) scanRows(rows *sql.Rows) ([]CandleRow, error) {
	var out []CandleRow
	for rows.Next() {
		var (
			row        CandleRow
			start, end string
			vwap       sql.NullFloat64
		)
		if err := rows.Scan(&row.Symbol, &row.Interval, &start, &end,
			&row.Low, &row.High, &row.Open, &row.Close, &row.Volume, &vwap); err != nil {
			return nil, err
		}
		if ts, err := s.codec.Decode(start); err == nil {
			row.Start = ts
		}
		if ts, err := s.codec.Decode(end); err == nil {
			row.End = ts
		}
		if vwap.Valid {
			v := vwap.Float64
			row.VWAP = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
