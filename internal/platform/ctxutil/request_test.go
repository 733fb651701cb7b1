package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestDataSurvivesWithoutCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = WithRequestData(ctx, &RequestData{TraceID: "t1", RequestID: "r1"})
	detached := context.WithoutCancel(ctx)
	cancel()

	SetRunID(detached, "run-1")
	rd := RequestDataFrom(ctx)
	assert.Equal(t, "run-1", rd.RunID())
	assert.Equal(t, []any{"trace_id", "t1", "request_id", "r1", "run_id", "run-1"}, RequestDataFrom(detached).Fields())
}

func TestRequestDataAbsent(t *testing.T) {
	assert.Nil(t, RequestDataFrom(context.Background()))
	SetRunID(context.Background(), "ignored")

	var rd *RequestData
	assert.Empty(t, rd.RunID())
	assert.Nil(t, rd.Fields())
}
