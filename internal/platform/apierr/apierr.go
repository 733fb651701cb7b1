package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/yungbote/research-agent-backend/internal/data/docstore"
	domain "github.com/yungbote/research-agent-backend/internal/domain/chat"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromDomain maps chain and pipeline errors onto HTTP semantics. Unknown errors
// become 500 internal_error.
func FromDomain(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, domain.ErrChainConflict):
		return New(http.StatusConflict, "chain_conflict", err)
	case errors.Is(err, domain.ErrNotFound):
		return New(http.StatusNotFound, "not_found", err)
	case errors.Is(err, domain.ErrEmptyContent):
		return New(http.StatusUnprocessableEntity, "empty_content", err)
	case errors.Is(err, domain.ErrMalformedFragment):
		return New(http.StatusUnprocessableEntity, "malformed_fragment", err)
	case errors.Is(err, domain.ErrInvalidArgument):
		return New(http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, docstore.ErrVersionMismatch):
		return New(http.StatusConflict, "version_conflict", err)
	case errors.Is(err, domain.ErrPipelineStepFailed):
		return New(http.StatusBadGateway, "step_failed", err)
	case errors.Is(err, domain.ErrCancelled):
		return New(499, "cancelled", err)
	case errors.Is(err, domain.ErrBrokenChain):
		return New(http.StatusInternalServerError, "broken_chain", err)
	default:
		return New(http.StatusInternalServerError, "internal_error", err)
	}
}
