package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/data/repos/chat"
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

func SeedChat(tb testing.TB, store docstore.Store, userID string) *domain.Chat {
	tb.Helper()
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     "chat",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := chat.NewChatRepo(store, logger.NewNop()).Create(dbctx.Background(), c); err != nil {
		tb.Fatalf("seed chat: %v", err)
	}
	return c
}

func Text(s string) domain.Fragments {
	return domain.Fragments{domain.Text{Content: s}}
}
