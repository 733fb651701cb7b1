package services

import (
	"context"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/realtime"
)

// ChainNotifier tells other clients of a chat that its chain changed.
type ChainNotifier interface {
	MessageCreated(msg *domain.Message)
	MessageUpdated(msg *domain.Message)
	MessageDeleted(chatID, messageID string, newTail *string)
}

type chainNotifier struct {
	emit realtime.Emitter
}

func NewChainNotifier(emit realtime.Emitter) ChainNotifier {
	return &chainNotifier{emit: emit}
}

func (n *chainNotifier) MessageCreated(msg *domain.Message) {
	if n == nil || n.emit == nil || msg == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.Message{
		Channel: realtime.ChatChannel(msg.ChatID),
		Event: realtime.Event{
			ChatID:    msg.ChatID,
			Type:      realtime.EventMessageCreated,
			Content:   "message created",
			MessageID: msg.ID,
			Details:   map[string]any{"message": msg},
		},
	})
}

func (n *chainNotifier) MessageUpdated(msg *domain.Message) {
	if n == nil || n.emit == nil || msg == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.Message{
		Channel: realtime.ChatChannel(msg.ChatID),
		Event: realtime.Event{
			ChatID:    msg.ChatID,
			Type:      realtime.EventMessageUpdated,
			Content:   "message updated",
			MessageID: msg.ID,
			Details:   map[string]any{"message": msg},
		},
	})
}

func (n *chainNotifier) MessageDeleted(chatID, messageID string, newTail *string) {
	if n == nil || n.emit == nil || chatID == "" {
		return
	}
	n.emit.Emit(context.Background(), realtime.Message{
		Channel: realtime.ChatChannel(chatID),
		Event: realtime.Event{
			ChatID:    chatID,
			Type:      realtime.EventMessageDeleted,
			Content:   "message deleted",
			MessageID: messageID,
			Details:   map[string]any{"last_message_id": newTail},
		},
	})
}

type nopNotifier struct{}

func (nopNotifier) MessageCreated(*domain.Message)         {}
func (nopNotifier) MessageUpdated(*domain.Message)         {}
func (nopNotifier) MessageDeleted(string, string, *string) {}
