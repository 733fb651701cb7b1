package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/research-agent-backend/internal/platform/ctxutil"
)

const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderRequestID = "X-Request-Id"
)

// AttachRequestData puts trace and request ids on the request context and
// echoes them as headers. It must run after otelgin so the trace id is the
// server span's.
func AttachRequestData() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &ctxutil.RequestData{
			RequestID: firstNonEmpty(c.GetHeader(HeaderRequestID), uuid.NewString()),
		}
		span := trace.SpanFromContext(c.Request.Context())
		if sc := span.SpanContext(); sc.HasTraceID() {
			rd.TraceID = sc.TraceID().String()
		}
		rd.TraceID = firstNonEmpty(rd.TraceID, c.GetHeader(HeaderTraceID), uuid.NewString())
		span.SetAttributes(attribute.String("http.request_id", rd.RequestID))

		c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), rd))
		c.Writer.Header().Set(HeaderTraceID, rd.TraceID)
		c.Writer.Header().Set(HeaderRequestID, rd.RequestID)
		c.Next()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
