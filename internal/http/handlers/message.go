package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/http/response"
	"github.com/yungbote/research-agent-backend/internal/services"
)

type MessageHandler struct {
	chain services.ChainStore
}

func NewMessageHandler(chain services.ChainStore) *MessageHandler {
	return &MessageHandler{chain: chain}
}

type appendMessageReq struct {
	ChatID            string           `json:"chat_id"`
	PreviousMessageID *string          `json:"previous_message_id"`
	AuthorKind        string           `json:"author_kind"`
	Fragments         domain.Fragments `json:"fragments"`
}

// POST /api/messages
//
// 409 chain_conflict when previous_message_id is not the chat's tail.
func (h *MessageHandler) Append(c *gin.Context) {
	var req appendMessageReq
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_chat_id", errors.New("chat_id is required"))
		return
	}
	author, err := domain.ParseAuthorKind(req.AuthorKind)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if req.PreviousMessageID != nil && strings.TrimSpace(*req.PreviousMessageID) == "" {
		req.PreviousMessageID = nil
	}
	msg, err := h.chain.Append(dbcFrom(c), req.ChatID, req.PreviousMessageID, author, req.Fragments)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"message": msg})
}

// GET /api/messages/:id
func (h *MessageHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	msg, err := h.chain.GetMessage(dbcFrom(c), id)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"message": msg})
}

type replaceFragmentsReq struct {
	Fragments domain.Fragments `json:"fragments"`
}

// PUT /api/messages/:id
func (h *MessageHandler) ReplaceFragments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req replaceFragmentsReq
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.chain.ReplaceFragments(dbcFrom(c), id, req.Fragments)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"message": msg})
}

// DELETE /api/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.chain.Delete(dbcFrom(c), id); err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": id})
}
