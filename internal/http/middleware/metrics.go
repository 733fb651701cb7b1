package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/research-agent-backend/internal/observability"
)

// Metrics labels requests by route template. SSE responses are timed as
// streams rather than as request latency.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		switch route {
		case "/metrics":
			c.Next()
			return
		case "":
			route = "unmatched"
		}
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream") {
			m.ObserveStream(c.Request.Method, route, status, time.Since(start))
			return
		}
		m.ObserveAPI(c.Request.Method, route, status, time.Since(start))
	}
}
