package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/research-agent-backend/internal/data/db"
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

// storage is what the chosen backend hands back: the store itself, a health
// probe, and the raw clients the metrics collectors watch.
type storage struct {
	store docstore.Store
	ping  func(ctx context.Context) error
	gdb   *gorm.DB
}

func openRedis(ctx context.Context, cfg Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

// OpenStore builds the docstore selected by cfg.DocstoreDriver. rdb is only
// used by the redis driver.
func OpenStore(log *logger.Logger, cfg Config, rdb *goredis.Client) (*storage, error) {
	switch cfg.DocstoreDriver {
	case DriverMemory:
		log.Warn("Using the in-memory document store; data is lost on restart")
		return &storage{store: docstore.NewMemoryStore()}, nil
	case DriverSQLite, DriverPostgres:
		var (
			gdb *gorm.DB
			err error
		)
		if cfg.DocstoreDriver == DriverSQLite {
			gdb, err = db.OpenSQLite(cfg.SQLitePath, log)
		} else {
			gdb, err = db.OpenPostgres(cfg.PostgresDSN, log)
		}
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrateAll(gdb); err != nil {
			return nil, fmt.Errorf("%s automigrate: %w", cfg.DocstoreDriver, err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		return &storage{
			store: docstore.NewGormStore(gdb, log),
			ping:  sqlDB.PingContext,
			gdb:   gdb,
		}, nil
	case DriverRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis driver needs a redis client")
		}
		return &storage{
			store: docstore.NewRedisStore(rdb, cfg.RedisPrefix, log),
			ping:  func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown DOCSTORE_DRIVER %q", cfg.DocstoreDriver)
	}
}
