package services

import (
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/research-agent-backend/internal/data/repos"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/ctxutil"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

// HistoryService rebuilds a chat's message order by walking previous-message
// links back from the tail. There is no index; the walk is node by node.
type HistoryService interface {
	// Reconstruct returns the whole chain, oldest first.
	Reconstruct(dbc dbctx.Context, chatID string) ([]*domain.Message, error)
	// ListPage skips the newest skip messages, collects up to limit more and
	// returns them oldest first.
	ListPage(dbc dbctx.Context, chatID string, skip, limit int) ([]*domain.Message, error)
}

type historyService struct {
	log      *logger.Logger
	chats    repos.ChatRepo
	messages repos.MessageRepo
	metrics  *observability.Metrics
}

func NewHistoryService(log *logger.Logger, chats repos.ChatRepo, messages repos.MessageRepo, metrics *observability.Metrics) HistoryService {
	return &historyService{
		log:      log.With("service", "HistoryService"),
		chats:    chats,
		messages: messages,
		metrics:  metrics,
	}
}

func (s *historyService) Reconstruct(dbc dbctx.Context, chatID string) ([]*domain.Message, error) {
	out, err := s.walk(dbc, chatID, 0, -1, "full")
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *historyService) ListPage(dbc dbctx.Context, chatID string, skip, limit int) ([]*domain.Message, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)
	return s.walk(dbc, chatID, skip, limit, "page")
}

// walk visits nodes from the tail backward. limit < 0 means unbounded.
func (s *historyService) walk(dbc dbctx.Context, chatID string, skip, limit int, mode string) (out []*domain.Message, err error) {
	ctx, span := observability.StartSpan(ctxutil.Default(dbc.Ctx), "history.walk",
		attribute.String("chat.id", chatID),
		attribute.String("walk.mode", mode),
	)
	defer func() { observability.EndSpan(span, err, domain.ErrNotFound) }()
	dbc.Ctx = ctx

	vc, err := s.chats.Get(dbc, chatID)
	if err != nil {
		return nil, err
	}

	out = []*domain.Message{}
	seen := map[string]struct{}{}
	referencedBy := ""
	visited := 0
	for id := vc.Tail(); id != "" && (limit < 0 || len(out) < limit); {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: chat %s revisits message %s", domain.ErrBrokenChain, chatID, id)
		}
		seen[id] = struct{}{}

		vm, err := s.messages.Get(dbc, id)
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("chain link missing", "chat_id", chatID, "missing_id", id, "referenced_by", referencedBy)
			return nil, &domain.BrokenChainError{ChatID: chatID, MissingID: id, ReferencedBy: referencedBy}
		}
		if err != nil {
			return nil, err
		}
		visited++
		if visited > skip {
			out = append(out, vm.Message)
		}
		referencedBy = id
		id = vm.Previous()
	}
	s.metrics.ObserveWalk(mode, visited)
	slices.Reverse(out)
	return out, nil
}
