package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	"github.com/yungbote/research-agent-backend/internal/data/repos"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/ctxutil"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

const DefaultAppendMaxRetries = 5

// ChainStore is the only writer of a chat's LastMessageID. Every mutation is a
// conditional put on the chat record, with the message write or delete riding
// along in the same atomic unit.
type ChainStore interface {
	// Append links a new message after previousMessageID (nil for an empty
	// chat). It fails with ErrChainConflict when the tail is not previousMessageID.
	Append(dbc dbctx.Context, chatID string, previousMessageID *string, author domain.AuthorKind, fragments domain.Fragments) (*domain.Message, error)
	// AppendNext appends after whatever the tail currently is, retrying on conflict.
	AppendNext(dbc dbctx.Context, chatID string, author domain.AuthorKind, fragments domain.Fragments) (*domain.Message, error)
	ReplaceFragments(dbc dbctx.Context, messageID string, fragments domain.Fragments) (*domain.Message, error)
	// Delete removes a message. Deleting the tail rolls the tail back to the
	// message's predecessor; deleting any other node leaves a gap.
	Delete(dbc dbctx.Context, messageID string) error
	GetMessage(dbc dbctx.Context, messageID string) (*domain.Message, error)
	// RepairTail points a chat whose tail record is gone at target, a message
	// of the same chat that nothing follows yet. An empty target empties the
	// chain, which needs the chat to have no stored first message. Either way
	// the chat keeps at most one successor per node.
	RepairTail(dbc dbctx.Context, chatID, target string) (*domain.Chat, error)
}

type ChainStoreConfig struct {
	MaxRetries int
}

type chainStore struct {
	log      *logger.Logger
	chats    repos.ChatRepo
	messages repos.MessageRepo
	notify   ChainNotifier
	metrics  *observability.Metrics
	retries  int
	now      func() time.Time
}

func NewChainStore(
	log *logger.Logger,
	chats repos.ChatRepo,
	messages repos.MessageRepo,
	notify ChainNotifier,
	metrics *observability.Metrics,
	cfg ChainStoreConfig,
) ChainStore {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultAppendMaxRetries
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	return &chainStore{
		log:      log.With("service", "ChainStore"),
		chats:    chats,
		messages: messages,
		notify:   notify,
		metrics:  metrics,
		retries:  retries,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *chainStore) Append(dbc dbctx.Context, chatID string, previousMessageID *string, author domain.AuthorKind, fragments domain.Fragments) (msg *domain.Message, err error) {
	ctx, span := observability.StartSpan(ctxutil.Default(dbc.Ctx), "chain.append",
		attribute.String("chat.id", chatID),
		attribute.String("author.kind", string(author)),
	)
	defer func() { observability.EndSpan(span, err, domain.ErrChainConflict, domain.ErrEmptyContent, domain.ErrMalformedFragment) }()
	dbc.Ctx = ctx

	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		s.metrics.ObserveAppend("invalid")
		return nil, fmt.Errorf("%w: missing chat_id", domain.ErrInvalidArgument)
	}
	if _, err := domain.ParseAuthorKind(string(author)); err != nil {
		s.metrics.ObserveAppend("invalid")
		return nil, err
	}
	if err := fragments.Validate(); err != nil {
		s.metrics.ObserveAppend("invalid")
		return nil, err
	}
	expected := ""
	if previousMessageID != nil {
		expected = *previousMessageID
	}

	for attempt := 0; ; attempt++ {
		vc, err := s.chats.Get(dbc, chatID)
		if err != nil {
			s.metrics.ObserveAppend("error")
			return nil, err
		}
		if vc.Tail() != expected {
			s.metrics.ObserveAppend("conflict")
			return nil, fmt.Errorf("%w: chat %s tail is %q, caller expected %q", domain.ErrChainConflict, chatID, vc.Tail(), expected)
		}

		now := s.now()
		msg = &domain.Message{
			ID:                uuid.NewString(),
			ChatID:            chatID,
			PreviousMessageID: domain.OptionalID(expected),
			AuthorKind:        author,
			Fragments:         fragments,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		create, err := s.messages.CreateWrite(msg)
		if err != nil {
			s.metrics.ObserveAppend("error")
			return nil, err
		}
		next := *vc.Chat
		next.LastMessageID = domain.OptionalID(msg.ID)
		next.UpdatedAt = now

		_, err = s.chats.Update(dbc, &next, vc.Version, create)
		if err == nil {
			s.metrics.ObserveAppend("ok")
			s.notify.MessageCreated(msg)
			s.log.Debug("message appended", "chat_id", chatID, "message_id", msg.ID, "attempt", attempt)
			return msg, nil
		}
		if !errors.Is(err, docstore.ErrVersionMismatch) {
			s.metrics.ObserveAppend("error")
			return nil, fmt.Errorf("append to chat %s: %w", chatID, err)
		}
		// The chat record moved; the tail may still match, so re-read.
		if attempt >= s.retries {
			s.metrics.ObserveAppend("conflict")
			return nil, fmt.Errorf("%w: chat %s kept changing after %d attempts", domain.ErrChainConflict, chatID, attempt+1)
		}
		s.metrics.IncCASRetry()
	}
}

func (s *chainStore) AppendNext(dbc dbctx.Context, chatID string, author domain.AuthorKind, fragments domain.Fragments) (*domain.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		vc, err := s.chats.Get(dbc, chatID)
		if err != nil {
			return nil, err
		}
		msg, err := s.Append(dbc, chatID, vc.LastMessageID, author, fragments)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, domain.ErrChainConflict) {
			return nil, err
		}
		lastErr = err
		s.log.Debug("append lost the tail race; retrying", "chat_id", chatID, "attempt", attempt)
	}
	return nil, lastErr
}

func (s *chainStore) ReplaceFragments(dbc dbctx.Context, messageID string, fragments domain.Fragments) (msg *domain.Message, err error) {
	ctx, span := observability.StartSpan(ctxutil.Default(dbc.Ctx), "chain.replace_fragments", attribute.String("message.id", messageID))
	defer func() { observability.EndSpan(span, err, domain.ErrChainConflict, domain.ErrNotFound) }()
	dbc.Ctx = ctx

	if err := fragments.Validate(); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		vm, err := s.messages.Get(dbc, messageID)
		if err != nil {
			return nil, err
		}
		next := *vm.Message
		next.Fragments = fragments
		next.UpdatedAt = s.now()
		if _, err := s.messages.Update(dbc, &next, vm.Version); err != nil {
			if errors.Is(err, docstore.ErrVersionMismatch) && attempt < s.retries {
				s.metrics.IncCASRetry()
				continue
			}
			return nil, fmt.Errorf("replace fragments of %s: %w", messageID, err)
		}
		s.notify.MessageUpdated(&next)
		return &next, nil
	}
}

func (s *chainStore) Delete(dbc dbctx.Context, messageID string) (err error) {
	ctx, span := observability.StartSpan(ctxutil.Default(dbc.Ctx), "chain.delete", attribute.String("message.id", messageID))
	defer func() { observability.EndSpan(span, err, domain.ErrNotFound) }()
	dbc.Ctx = ctx

	for attempt := 0; ; attempt++ {
		vm, err := s.messages.Get(dbc, messageID)
		if err != nil {
			return err
		}
		vc, err := s.chats.Get(dbc, vm.ChatID)
		if errors.Is(err, domain.ErrNotFound) {
			// Orphaned message: nothing to keep consistent.
			return s.messages.Delete(dbc, messageID)
		}
		if err != nil {
			return err
		}

		next := *vc.Chat
		position := "gap"
		if vc.Tail() == messageID {
			position = "tail"
			next.LastMessageID = vm.PreviousMessageID
			next.UpdatedAt = s.now()
		}
		// Guarding even a gap delete on the chat version keeps it from racing a
		// tail rollback onto the same node.
		_, err = s.chats.Update(dbc, &next, vc.Version, s.messages.DeleteWrite(messageID))
		if err == nil {
			s.metrics.ObserveDelete(position)
			if position == "gap" {
				s.log.Warn("deleted a non-tail message; chain now has a gap", "chat_id", vm.ChatID, "message_id", messageID)
			}
			s.notify.MessageDeleted(vm.ChatID, messageID, next.LastMessageID)
			return nil
		}
		if !errors.Is(err, docstore.ErrVersionMismatch) || attempt >= s.retries {
			return fmt.Errorf("delete message %s: %w", messageID, err)
		}
		s.metrics.IncCASRetry()
	}
}

func (s *chainStore) GetMessage(dbc dbctx.Context, messageID string) (*domain.Message, error) {
	vm, err := s.messages.Get(dbc, messageID)
	if err != nil {
		return nil, err
	}
	return vm.Message, nil
}

func (s *chainStore) RepairTail(dbc dbctx.Context, chatID, target string) (c *domain.Chat, err error) {
	ctx, span := observability.StartSpan(ctxutil.Default(dbc.Ctx), "chain.repair_tail",
		attribute.String("chat.id", chatID),
		attribute.String("target.id", target),
	)
	defer func() { observability.EndSpan(span, err, domain.ErrChainConflict, domain.ErrInvalidArgument, domain.ErrNotFound) }()
	dbc.Ctx = ctx

	vc, err := s.chats.Get(dbc, chatID)
	if err != nil {
		return nil, err
	}
	tail := vc.Tail()
	if tail == "" {
		return nil, fmt.Errorf("%w: chat %s is empty", domain.ErrInvalidArgument, chatID)
	}
	if _, err := s.messages.Get(dbc, tail); err == nil {
		return nil, fmt.Errorf("%w: tail %s of chat %s still exists", domain.ErrInvalidArgument, tail, chatID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if target != "" {
		vm, err := s.messages.Get(dbc, target)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %s does not exist", domain.ErrInvalidArgument, target)
		}
		if err != nil {
			return nil, err
		}
		if vm.ChatID != chatID {
			return nil, fmt.Errorf("%w: message %s belongs to chat %s", domain.ErrInvalidArgument, target, vm.ChatID)
		}
	}
	next, err := s.messages.Successors(dbc, chatID, target)
	if err != nil {
		return nil, err
	}
	if len(next) > 0 {
		what := "message " + target
		if target == "" {
			what = "the chat root"
		}
		return nil, fmt.Errorf("%w: %s is already followed by %s", domain.ErrChainConflict, what, next[0])
	}

	repaired := *vc.Chat
	repaired.LastMessageID = domain.OptionalID(target)
	repaired.UpdatedAt = s.now()
	if _, err := s.chats.Update(dbc, &repaired, vc.Version); err != nil {
		if errors.Is(err, docstore.ErrVersionMismatch) {
			return nil, fmt.Errorf("%w: chat %s changed during repair", domain.ErrChainConflict, chatID)
		}
		return nil, fmt.Errorf("repair tail of chat %s: %w", chatID, err)
	}
	s.log.Warn("chat tail repaired", "chat_id", chatID, "lost_tail", tail, "new_tail", target)
	s.notify.MessageDeleted(chatID, tail, repaired.LastMessageID)
	return &repaired, nil
}
