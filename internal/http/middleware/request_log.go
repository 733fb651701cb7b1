package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/research-agent-backend/internal/platform/ctxutil"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

// RequestLogger writes one line per request once the handler returns; for
// SSE routes that is when the stream closes.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream") {
			fields = append(fields, "stream", true, "bytes", c.Writer.Size())
		}
		fields = append(fields, ctxutil.RequestDataFrom(c.Request.Context()).Fields()...)
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		case route == "/healthcheck" || route == "/metrics":
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
