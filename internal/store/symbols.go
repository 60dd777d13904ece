package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SymbolRecord is one cached symbol metadata row. SymbolID is the provider's
// stable identifier; Symbol is the unique human-readable name.
type SymbolRecord struct {
	SymbolID        int64
	Symbol          string
	Description     string
	SecurityType    string
	ListingExchange string
	IsTradable      bool
	IsQuotable      bool
	Currency        string
	UpdatedAt       time.Time
}

type symbolModel struct {
	SymbolID        int64  `gorm:"column:symbol_id;primaryKey"`
	Symbol          string `gorm:"column:symbol;uniqueIndex:idx_symbol"`
	Description     string `gorm:"column:description"`
	SecurityType    string `gorm:"column:security_type"`
	ListingExchange string `gorm:"column:listing_exchange"`
	IsTradable      bool   `gorm:"column:is_tradable"`
	IsQuotable      bool   `gorm:"column:is_quotable"`
	Currency        string `gorm:"column:currency"`
	UpdatedAt       string `gorm:"column:updated_at"`
}

func (symbolModel) TableName() string { return "symbols" }

// SymbolStore persists symbol metadata using Gorm + SQLite.
type SymbolStore struct {
	db    *gorm.DB
	codec TimeCodec
}

// NewSymbolStore opens (and migrates) the symbol database at path. The codec
// controls how updated_at is written; pass DefaultTimeCodec() unless a test
// needs otherwise.
func NewSymbolStore(path string, codec TimeCodec) (*SymbolStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("symbol store path cannot be empty")
	}
	if !codec.valid() {
		return nil, fmt.Errorf("symbol store requires a time codec")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName routes gorm through the pure-Go modernc.org/sqlite driver
	// (registered in candles.go); the default mattn/go-sqlite3 needs cgo,
	// which is disabled in this build.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&symbolModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep write contention low while allowing concurrent reads.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &SymbolStore{db: db, codec: codec}, nil
}

func (s *SymbolStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get looks up one symbol by name. The second return value reports whether
// the row exists.
func (s *SymbolStore) Get(ctx context.Context, name string) (SymbolRecord, bool, error) {
	var m symbolModel
	err := s.db.WithContext(ctx).Where("symbol = ?", name).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SymbolRecord{}, false, nil
		}
		return SymbolRecord{}, false, err
	}
	return s.toRecord(m), true, nil
}

// Upsert writes one symbol record, replacing any existing row with the same
// symbol id.
func (s *SymbolStore) Upsert(ctx context.Context, rec SymbolRecord) error {
	return s.UpsertBatch(ctx, []SymbolRecord{rec})
}

// UpsertBatch writes many symbol records in one transaction; either all rows
// commit or none do.
func (s *SymbolStore) UpsertBatch(ctx context.Context, recs []SymbolRecord) error {
	if len(recs) == 0 {
		return nil
	}
	models := make([]symbolModel, 0, len(recs))
	for _, rec := range recs {
		if rec.SymbolID == 0 || strings.TrimSpace(rec.Symbol) == "" {
			return fmt.Errorf("symbol record requires symbol_id and symbol (got id=%d name=%q)", rec.SymbolID, rec.Symbol)
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = time.Now()
		}
		models = append(models, s.toModel(rec))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"symbol", "description", "security_type", "listing_exchange",
				"is_tradable", "is_quotable", "currency", "updated_at",
			}),
		}).Create(&models).Error
	})
}

// Delete removes one symbol row by name. Used for explicit invalidation.
func (s *SymbolStore) Delete(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("symbol = ?", name).Delete(&symbolModel{}).Error
}

// StaleSymbols returns the names of symbols whose updated_at is older than
// cutoff. Rows whose timestamp fails to decode are included: a row we cannot
// date is due for a refresh.
func (s *SymbolStore) StaleSymbols(ctx context.Context, cutoff time.Time) ([]string, error) {
	var models []symbolModel
	if err := s.db.WithContext(ctx).Select("symbol", "updated_at").Find(&models).Error; err != nil {
		return nil, err
	}
	var names []string
	for _, m := range models {
		ts, err := s.codec.Decode(m.UpdatedAt)
		if err != nil || ts.Before(cutoff) {
			names = append(names, m.Symbol)
		}
	}
	return names, nil
}

// Search returns symbols whose name or description contains term.
func (s *SymbolStore) Search(ctx context.Context, term string) ([]SymbolRecord, error) {
	pattern := "%" + term + "%"
	var models []symbolModel
	if err := s.db.WithContext(ctx).
		Where("symbol LIKE ? OR description LIKE ?", pattern, pattern).
		Order("symbol ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]SymbolRecord, 0, len(models))
	for _, m := range models {
		out = append(out, s.toRecord(m))
	}
	return out, nil
}

// All returns every cached symbol.
func (s *SymbolStore) All(ctx context.Context) ([]SymbolRecord, error) {
	var models []symbolModel
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]SymbolRecord, 0, len(models))
	for _, m := range models {
		out = append(out, s.toRecord(m))
	}
	return out, nil
}

// Count returns the number of cached symbols.
func (s *SymbolStore) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&symbolModel{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SymbolStore) toModel(rec SymbolRecord) symbolModel {
	return symbolModel{
		SymbolID:        rec.SymbolID,
		Symbol:          rec.Symbol,
		Description:     rec.Description,
		SecurityType:    rec.SecurityType,
		ListingExchange: rec.ListingExchange,
		IsTradable:      rec.IsTradable,
		IsQuotable:      rec.IsQuotable,
		Currency:        rec.Currency,
		UpdatedAt:       s.codec.Encode(rec.UpdatedAt),
	}
}

func (s *SymbolStore) toRecord(m symbolModel) SymbolRecord {
	rec := SymbolRecord{
		SymbolID:        m.SymbolID,
		Symbol:          m.Symbol,
		Description:     m.Description,
		SecurityType:    m.SecurityType,
		ListingExchange: m.ListingExchange,
		IsTradable:      m.IsTradable,
		IsQuotable:      m.IsQuotable,
		Currency:        m.Currency,
	}
	if ts, err := s.codec.Decode(m.UpdatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return rec
}
