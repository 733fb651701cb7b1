package realtime

import "context"

// Emitter is how producers hand events to the delivery layer: the local
// Publisher directly, or a bus that forwards to every instance's Publisher.
type Emitter interface {
	Emit(ctx context.Context, msg Message)
}
