package testutil

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/research-agent-backend/internal/data/db"
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// MemoryStore is the default backend for service tests.
func MemoryStore(tb testing.TB) docstore.Store {
	tb.Helper()
	return docstore.NewMemoryStore()
}

// SQLiteStore opens a private in-memory SQLite database per call.
func SQLiteStore(tb testing.TB) docstore.Store {
	tb.Helper()
	gdb, err := db.OpenSQLite("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.NewNop())
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	s := docstore.NewGormStore(gdb, logger.NewNop())
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

// PostgresStore skips the test unless TEST_POSTGRES_DSN is set.
func PostgresStore(tb testing.TB) docstore.Store {
	tb.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		tb.Skipf("set TEST_POSTGRES_DSN to run repo integration tests (%v)", errMissingDSN)
	}
	gdb, err := db.OpenPostgres(dsn, logger.NewNop())
	if err != nil {
		tb.Fatalf("failed to init test db: %v", err)
	}
	if err := db.AutoMigrateAll(gdb); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return docstore.NewGormStore(gdb, logger.NewNop())
}
