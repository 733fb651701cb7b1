package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

// OpenSQLite opens a file (or ":memory:") database. SQLite allows one writer,
// so the pool is pinned to a single connection.
func OpenSQLite(path string, logg *logger.Logger) (*gorm.DB, error) {
	if path == "" || path == ":memory:" {
		path = "file::memory:?cache=shared"
	}
	logg.With("service", "SQLite").Info("Opening SQLite...", "path", path)
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
