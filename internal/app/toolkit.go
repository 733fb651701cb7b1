package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/services"
)

// Toolkit is the offline view of the configured store: no HTTP server, no
// publisher, no LLM.
type Toolkit struct {
	History services.HistoryService
	Auditor services.ChainAuditor

	store docstore.Store
}

func OpenToolkit(ctx context.Context, log *logger.Logger) (*Toolkit, error) {
	cfg, err := LoadConfig(log)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var rdb *goredis.Client
	if cfg.DocstoreDriver == DriverRedis {
		if rdb, err = openRedis(ctx, cfg); err != nil {
			return nil, err
		}
	}
	st, err := OpenStore(log, cfg, rdb)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, fmt.Errorf("open store: %w", err)
	}
	return NewToolkit(log, st.store), nil
}

func NewToolkit(log *logger.Logger, store docstore.Store) *Toolkit {
	chats := repos.NewChatRepo(store, log)
	msgs := repos.NewMessageRepo(store, log)
	// No notifier: clients of a running server see the repaired tail on their
	// next read.
	chain := services.NewChainStore(log, chats, msgs, nil, nil, services.ChainStoreConfig{})
	return &Toolkit{
		History: services.NewHistoryService(log, chats, msgs, nil),
		Auditor: services.NewChainAuditor(log, chats, msgs, chain),
		store:   store,
	}
}

func (t *Toolkit) Close() error {
	return t.store.Close()
}
