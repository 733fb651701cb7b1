package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

// ChatService is the thin CRUD surface the chain hangs off. It never touches
// LastMessageID.
type ChatService interface {
	CreateChat(dbc dbctx.Context, userID, title string) (*domain.Chat, error)
	GetChat(dbc dbctx.Context, chatID string) (*domain.Chat, error)
	RenameChat(dbc dbctx.Context, chatID, title string) (*domain.Chat, error)
}

type chatService struct {
	log     *logger.Logger
	chats   repos.ChatRepo
	retries int
}

func NewChatService(log *logger.Logger, chats repos.ChatRepo) ChatService {
	return &chatService{
		log:     log.With("service", "ChatService"),
		chats:   chats,
		retries: DefaultAppendMaxRetries,
	}
}

func (s *chatService) CreateChat(dbc dbctx.Context, userID, title string) (*domain.Chat, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id", domain.ErrInvalidArgument)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.chats.Create(dbc, c); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	s.log.Info("chat created", "chat_id", c.ID, "user_id", userID)
	return c, nil
}

func (s *chatService) GetChat(dbc dbctx.Context, chatID string) (*domain.Chat, error) {
	vc, err := s.chats.Get(dbc, chatID)
	if err != nil {
		return nil, err
	}
	return vc.Chat, nil
}

// RenameChat only changes the title, but it still bumps the chat version, so
// it races appends the same way appends race each other.
func (s *chatService) RenameChat(dbc dbctx.Context, chatID, title string) (*domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: empty title", domain.ErrInvalidArgument)
	}
	for attempt := 0; ; attempt++ {
		vc, err := s.chats.Get(dbc, chatID)
		if err != nil {
			return nil, err
		}
		next := *vc.Chat
		next.Title = title
		next.UpdatedAt = time.Now().UTC()
		if _, err := s.chats.Update(dbc, &next, vc.Version); err != nil {
			if errors.Is(err, docstore.ErrVersionMismatch) && attempt < s.retries {
				continue
			}
			return nil, fmt.Errorf("rename chat %s: %w", chatID, err)
		}
		return &next, nil
	}
}
