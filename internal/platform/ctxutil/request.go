package ctxutil

import (
	"context"
	"sync"
)

type requestDataKey struct{}

// RequestData identifies the request a context belongs to. It survives
// context.WithoutCancel, so a run started by a request keeps logging with it.
type RequestData struct {
	TraceID   string
	RequestID string

	mu    sync.Mutex
	runID string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(Default(ctx), requestDataKey{}, rd)
}

func RequestDataFrom(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(requestDataKey{}).(*RequestData)
	return rd
}

// SetRunID tags the request with the agent run it started or joined. No-op
// when ctx carries no request data.
func SetRunID(ctx context.Context, runID string) {
	rd := RequestDataFrom(ctx)
	if rd == nil {
		return
	}
	rd.mu.Lock()
	rd.runID = runID
	rd.mu.Unlock()
}

func (rd *RequestData) RunID() string {
	if rd == nil {
		return ""
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.runID
}

// Fields returns the non-empty ids as logger key/value pairs.
func (rd *RequestData) Fields() []any {
	if rd == nil {
		return nil
	}
	var out []any
	if rd.TraceID != "" {
		out = append(out, "trace_id", rd.TraceID)
	}
	if rd.RequestID != "" {
		out = append(out, "request_id", rd.RequestID)
	}
	if id := rd.RunID(); id != "" {
		out = append(out, "run_id", id)
	}
	return out
}
