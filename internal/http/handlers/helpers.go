package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/research-agent-backend/internal/agent"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/http/response"
	"github.com/yungbote/research-agent-backend/internal/platform/ctxutil"
	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
)

const (
	headerRunID     = "X-Run-Id"
	headerMessageID = "X-Message-Id"
)

// tagRun exposes the run id to the client and to the request log.
func tagRun(c *gin.Context, runID string) {
	c.Header(headerRunID, runID)
	ctxutil.SetRunID(c.Request.Context(), runID)
}

func dbcFrom(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

// bindJSON decodes the body into dst. Fragment decoding errors keep their
// domain status (422); anything else is a 400.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, domain.ErrMalformedFragment) || errors.Is(err, domain.ErrEmptyContent) {
			response.RespondDomainError(c, err)
			return false
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (string, bool) {
	id := strings.TrimSpace(c.Param(name))
	if id == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+name, errors.New(name+" is required"))
		return "", false
	}
	return id, true
}

// queryInt reads an optional integer no smaller than least; def applies only
// when the parameter is absent.
func queryInt(c *gin.Context, key string, def, least int) (int, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < least {
		response.RespondError(c, http.StatusBadRequest, "invalid_"+key, fmt.Errorf("%s must be an integer >= %d", key, least))
		return 0, false
	}
	return n, true
}

// respondRunError covers the runner's own errors on top of the domain ones.
func respondRunError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agent.ErrRunFinished):
		response.RespondError(c, http.StatusGone, "run_finished", err)
	case errors.Is(err, agent.ErrRunnerClosed):
		response.RespondError(c, http.StatusServiceUnavailable, "shutting_down", err)
	default:
		response.RespondDomainError(c, err)
	}
}
