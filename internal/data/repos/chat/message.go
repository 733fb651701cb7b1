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

type VersionedMessage struct {
	*domain.Message
	Version int64
}

type MessageRepo interface {
	Get(dbc dbctx.Context, id string) (*VersionedMessage, error)
	// Update replaces the stored message if it is still at expectedVersion.
	Update(dbc dbctx.Context, m *domain.Message, expectedVersion int64) (*VersionedMessage, error)
	Delete(dbc dbctx.Context, id string) error
	// Successors returns the ids of every stored message of chatID whose
	// previous_message_id is id. It scans the whole collection.
	Successors(dbc dbctx.Context, chatID, id string) ([]string, error)
	// CreateWrite and DeleteWrite build side writes for a chat-guarded
	// conditional put, so a message and its chat tail commit together.
	CreateWrite(m *domain.Message) (docstore.Write, error)
	DeleteWrite(id string) docstore.Write
}

type messageRepo struct {
	store docstore.Store
	log   *logger.Logger
}

func NewMessageRepo(store docstore.Store, log *logger.Logger) MessageRepo {
	return &messageRepo{store: store, log: log.With("repo", "MessageRepo")}
}

func (r *messageRepo) Get(dbc dbctx.Context, id string) (*VersionedMessage, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: missing message_id", domain.ErrInvalidArgument)
	}
	rec, err := r.store.Get(dbc, MessagesCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var m domain.Message
	if err := json.Unmarshal(rec.Data, &m); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	return &VersionedMessage{Message: &m, Version: rec.Version}, nil
}

func (r *messageRepo) Update(dbc dbctx.Context, m *domain.Message, expectedVersion int64) (*VersionedMessage, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	rec, err := r.store.ConditionalPut(dbc, MessagesCollection, docstore.Record{ID: m.ID, Data: raw}, expectedVersion)
	if err != nil {
		return nil, err
	}
	return &VersionedMessage{Message: m, Version: rec.Version}, nil
}

func (r *messageRepo) Delete(dbc dbctx.Context, id string) error {
	err := r.store.Delete(dbc, MessagesCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return err
}

func (r *messageRepo) Successors(dbc dbctx.Context, chatID, id string) ([]string, error) {
	var out []string
	err := r.store.Scan(dbc, MessagesCollection, func(rec docstore.Record) error {
		var m domain.Message
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			r.log.Warn("Skipping undecodable message during scan", "message_id", rec.ID, "error", err)
			return nil
		}
		if m.ChatID == chatID && m.Previous() == id {
			out = append(out, m.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("successors of %s: %w", id, err)
	}
	return out, nil
}

func (r *messageRepo) CreateWrite(m *domain.Message) (docstore.Write, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return docstore.Write{}, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return docstore.PutWrite(MessagesCollection, docstore.Record{ID: m.ID, Data: raw}), nil
}

func (r *messageRepo) DeleteWrite(id string) docstore.Write {
	return docstore.DeleteWrite(MessagesCollection, id)
}
