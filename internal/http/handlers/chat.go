package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/research-agent-backend/internal/agent"
	"github.com/yungbote/research-agent-backend/internal/http/response"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/services"
)

type ChatHandler struct {
	log       *logger.Logger
	chats     services.ChatService
	history   services.HistoryService
	runner    *agent.Runner
	heartbeat time.Duration
}

type ChatHandlerDeps struct {
	Log     *logger.Logger
	Chats   services.ChatService
	History services.HistoryService
	Runner  *agent.Runner

	// Heartbeat overrides DefaultHeartbeat for SSE responses.
	Heartbeat time.Duration
}

func NewChatHandler(deps ChatHandlerDeps) *ChatHandler {
	return &ChatHandler{
		log:       deps.Log.With("handler", "ChatHandler"),
		chats:     deps.Chats,
		history:   deps.History,
		runner:    deps.Runner,
		heartbeat: deps.Heartbeat,
	}
}

type createChatReq struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

// POST /api/chats
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatReq
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.chats.CreateChat(dbcFrom(c), req.UserID, req.Title)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"chat": chat})
}

// GET /api/chats/:id
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	chat, err := h.chats.GetChat(dbcFrom(c), chatID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chat": chat})
}

type renameChatReq struct {
	Title string `json:"title"`
}

// PATCH /api/chats/:id
func (h *ChatHandler) RenameChat(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req renameChatReq
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.chats.RenameChat(dbcFrom(c), chatID, req.Title)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chat": chat})
}

// GET /api/chats/:id/history
func (h *ChatHandler) History(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgs, err := h.history.Reconstruct(dbcFrom(c), chatID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"messages": msgs})
}

// GET /api/chats/:id/messages?skip=0&limit=100
//
// limit defaults to 100 when absent and is capped at 500; an explicit 0 is
// rejected.
func (h *ChatHandler) ListPage(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	skip, ok := queryInt(c, "skip", 0, 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", services.DefaultPageLimit, 1)
	if !ok {
		return
	}
	msgs, err := h.history.ListPage(dbcFrom(c), chatID, skip, limit)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"messages": msgs, "skip": skip, "count": len(msgs)})
}

type sendReq struct {
	Text              string  `json:"text"`
	PreviousMessageID *string `json:"previous_message_id"`
}

// POST /api/chats/:id/send
//
// Saves the human message, then streams the agent run that answers it.
func (h *ChatHandler) Send(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req sendReq
	if !bindJSON(c, &req) {
		return
	}
	if req.PreviousMessageID != nil && strings.TrimSpace(*req.PreviousMessageID) == "" {
		req.PreviousMessageID = nil
	}
	handle, err := h.runner.SendAndRespond(c.Request.Context(), agent.SendRequest{
		ChatID:            chatID,
		PreviousMessageID: req.PreviousMessageID,
		Text:              req.Text,
	})
	if err != nil {
		respondRunError(c, err)
		return
	}
	tagRun(c, handle.ID)
	c.Header(headerMessageID, handle.HumanMessageID)
	streamSubscription(c, h.log.With("run_id", handle.ID), handle.Events, h.heartbeat)
}
