package bus

import (
	"context"

	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/realtime"
)

// Bus carries events between instances. Every instance runs a forwarder that
// feeds its local Publisher.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}

// Emitter publishes to the bus and falls back to local delivery when the bus
// rejects the message, so local subscribers still see a terminal event.
type Emitter struct {
	Bus     Bus
	Local   *realtime.Publisher
	Log     *logger.Logger
	Metrics *observability.Metrics
}

func (e *Emitter) Emit(ctx context.Context, msg realtime.Message) {
	if err := e.Bus.Publish(ctx, msg); err != nil {
		e.Metrics.IncBusPublishFailure()
		if e.Log != nil {
			e.Log.Warn("bus publish failed; delivering locally", "channel", msg.Channel, "error", err)
		}
		e.Local.Publish(msg)
	}
}
