package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
	"github.com/yungbote/research-agent-backend/internal/platform/apierr"
)

type ErrorBody struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// RespondError writes the error envelope and records err on the gin context
// so the request log carries it. 5xx bodies never echo the internal message.
func RespondError(c *gin.Context, status int, code string, err error) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	_ = c.Error(err)

	body := ErrorBody{Message: err.Error(), Code: code}
	if status >= http.StatusInternalServerError && code == "internal_error" {
		body.Message = "internal error"
	}
	var broken *domain.BrokenChainError
	if errors.As(err, &broken) {
		body.Details = map[string]any{
			"chat_id":       broken.ChatID,
			"missing_id":    broken.MissingID,
			"referenced_by": broken.ReferencedBy,
		}
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: body})
}

// RespondDomainError maps chain, history and pipeline errors to their HTTP
// status and code.
func RespondDomainError(c *gin.Context, err error) {
	if ae := apierr.FromDomain(err); ae != nil {
		RespondError(c, ae.Status, ae.Code, ae.Err)
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
