package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

const (
	ChatsCollection    = "chats"
	MessagesCollection = "messages"
)

// VersionedChat pairs a chat with the store version it was read at, which is
// the token for the next conditional write.
type VersionedChat struct {
	*domain.Chat
	Version int64
}

type ChatRepo interface {
	Create(dbc dbctx.Context, c *domain.Chat) (*VersionedChat, error)
	Get(dbc dbctx.Context, id string) (*VersionedChat, error)
	// Update writes c only if the stored version still equals expectedVersion,
	// applying also in the same atomic unit.
	Update(dbc dbctx.Context, c *domain.Chat, expectedVersion int64, also ...docstore.Write) (*VersionedChat, error)
}

type chatRepo struct {
	store docstore.Store
	log   *logger.Logger
}

func NewChatRepo(store docstore.Store, log *logger.Logger) ChatRepo {
	return &chatRepo{store: store, log: log.With("repo", "ChatRepo")}
}

func (r *chatRepo) Create(dbc dbctx.Context, c *domain.Chat) (*VersionedChat, error) {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return nil, fmt.Errorf("%w: missing chat id", domain.ErrInvalidArgument)
	}
	return r.Update(dbc, c, 0)
}

func (r *chatRepo) Get(dbc dbctx.Context, id string) (*VersionedChat, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: missing chat_id", domain.ErrInvalidArgument)
	}
	rec, err := r.store.Get(dbc, ChatsCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("chat %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeChat(rec)
}

func (r *chatRepo) Update(dbc dbctx.Context, c *domain.Chat, expectedVersion int64, also ...docstore.Write) (*VersionedChat, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode chat %s: %w", c.ID, err)
	}
	rec, err := r.store.ConditionalPut(dbc, ChatsCollection, docstore.Record{ID: c.ID, Data: raw}, expectedVersion, also...)
	if err != nil {
		return nil, err
	}
	return &VersionedChat{Chat: c, Version: rec.Version}, nil
}

func decodeChat(rec *docstore.Record) (*VersionedChat, error) {
	var c domain.Chat
	if err := json.Unmarshal(rec.Data, &c); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", rec.ID, err)
	}
	return &VersionedChat{Chat: &c, Version: rec.Version}, nil
}
