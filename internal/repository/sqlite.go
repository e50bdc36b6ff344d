package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"AlertGate/internal/domain/models"
)

// OpenSQLite opens (creating if needed) the state database and migrates every table.
// A single connection serializes writers; SQLite allows only one anyway.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := InitTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

func InitTables(db *gorm.DB) error {
	if err := db.AutoMigrate(allTables()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// corruption maps storage faults that make dedup state untrustworthy onto ErrStoreCorruption.
func corruption(err error) error {
	if err == nil || errors.Is(err, models.ErrStoreCorruption) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"malformed", "not a database", "corrupt", "no such table"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", models.ErrStoreCorruption, err)
		}
	}
	return err
}

func toMs(t time.Time) int64 { return t.UnixMilli() }

func fromMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
