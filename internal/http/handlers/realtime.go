package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/research-agent-backend/internal/http/response"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/realtime"
	"github.com/yungbote/research-agent-backend/internal/services"
)

// RealtimeHandler streams a chat's chain notifications (message created,
// updated, deleted) so every open client of that chat can refresh.
type RealtimeHandler struct {
	log       *logger.Logger
	pub       *realtime.Publisher
	chats     services.ChatService
	heartbeat time.Duration
}

func NewRealtimeHandler(log *logger.Logger, pub *realtime.Publisher, chats services.ChatService, heartbeat time.Duration) *RealtimeHandler {
	return &RealtimeHandler{
		log:       log.With("handler", "RealtimeHandler"),
		pub:       pub,
		chats:     chats,
		heartbeat: heartbeat,
	}
}

// GET /api/chats/:id/events
func (h *RealtimeHandler) ChatEvents(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.chats.GetChat(dbcFrom(c), chatID); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	sub := h.pub.Subscribe(realtime.ChatChannel(chatID))
	h.log.Debug("chat stream open", "chat_id", chatID, "subscription_id", sub.ID)
	streamSubscription(c, h.log.With("chat_id", chatID), sub, h.heartbeat)
}
