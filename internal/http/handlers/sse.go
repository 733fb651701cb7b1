package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/realtime"
)

const DefaultHeartbeat = 15 * time.Second

// streamSubscription writes sub as `data: <json>\n\n` frames until the stream
// ends or the client goes away. A comment frame is sent every heartbeat so
// proxies keep the connection open.
func streamSubscription(c *gin.Context, log *logger.Logger, sub *realtime.Subscription, heartbeat time.Duration) {
	defer sub.Close()

	w := c.Writer
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ctx := c.Request.Context()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, heartbeat)
		ev, err := sub.Next(waitCtx)
		cancel()
		switch {
		case err == nil:
			raw, mErr := json.Marshal(ev)
			if mErr != nil {
				log.Warn("failed to marshal SSE event", "error", mErr, "type", ev.Type)
				continue
			}
			if _, wErr := fmt.Fprintf(w, "data: %s\n\n", raw); wErr != nil {
				return
			}
			w.Flush()
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if _, wErr := fmt.Fprint(w, ": ping\n\n"); wErr != nil {
				return
			}
			w.Flush()
		default:
			// Stream finished, or the client disconnected.
			if ctx.Err() != nil {
				log.Debug("SSE client went away", "channel", sub.Channel, "error", ctx.Err())
			}
			return
		}
	}
}
