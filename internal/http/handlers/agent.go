package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/research-agent-backend/internal/agent"
	"github.com/yungbote/research-agent-backend/internal/http/response"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

type AgentHandler struct {
	log       *logger.Logger
	runner    *agent.Runner
	heartbeat time.Duration
}

func NewAgentHandler(log *logger.Logger, runner *agent.Runner, heartbeat time.Duration) *AgentHandler {
	return &AgentHandler{log: log.With("handler", "AgentHandler"), runner: runner, heartbeat: heartbeat}
}

type runAgentReq struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
}

// POST /api/agent
//
// Stateless run: streams the pipeline without touching any chat.
func (h *AgentHandler) Run(c *gin.Context) {
	var req runAgentReq
	if !bindJSON(c, &req) {
		return
	}
	handle, err := h.runner.Run(c.Request.Context(), req.UserID, req.Query)
	if err != nil {
		respondRunError(c, err)
		return
	}
	tagRun(c, handle.ID)
	streamSubscription(c, h.log.With("run_id", handle.ID), handle.Events, h.heartbeat)
}

// GET /api/runs/:id
func (h *AgentHandler) GetRun(c *gin.Context) {
	runID, ok := pathID(c, "id")
	if !ok {
		return
	}
	info, err := h.runner.Get(runID)
	if err != nil {
		respondRunError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": info})
}

// GET /api/runs/:id/events
//
// Joins a live run. Earlier events are not replayed; 410 once it finished.
func (h *AgentHandler) Events(c *gin.Context) {
	runID, ok := pathID(c, "id")
	if !ok {
		return
	}
	sub, err := h.runner.Subscribe(runID)
	if err != nil {
		respondRunError(c, err)
		return
	}
	tagRun(c, runID)
	streamSubscription(c, h.log.With("run_id", runID), sub, h.heartbeat)
}

// POST /api/runs/:id/cancel
func (h *AgentHandler) Cancel(c *gin.Context) {
	runID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.runner.Cancel(runID); err != nil {
		respondRunError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"run_id": runID, "status": "cancelling"})
}
