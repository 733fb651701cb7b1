package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/research-agent-backend/internal/agent"
	"github.com/yungbote/research-agent-backend/internal/data/repos/testutil"
	apphttp "github.com/yungbote/research-agent-backend/internal/http"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/realtime"
	"github.com/yungbote/research-agent-backend/internal/realtime/bus"
)

// loopbackBus behaves like the redis bus seen from one instance: published
// events only reach the local publisher through the forwarder.
type loopbackBus struct {
	queue   chan realtime.Message
	started chan struct{}
	stopped chan struct{}
}

func newLoopbackBus() *loopbackBus {
	return &loopbackBus{
		queue:   make(chan realtime.Message, 256),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (b *loopbackBus) Publish(_ context.Context, msg realtime.Message) error {
	b.queue <- msg
	return nil
}

func (b *loopbackBus) StartForwarder(ctx context.Context, onMsg func(realtime.Message)) error {
	go func() {
		defer close(b.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-b.queue:
				onMsg(m)
			}
		}
	}()
	close(b.started)
	return nil
}

func (b *loopbackBus) Close() error { return nil }

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestShutdownDeliversCancelledRunsThroughBus(t *testing.T) {
	log := logger.NewNop()
	loop := newLoopbackBus()
	pub := realtime.NewPublisher(log, nil)
	emitter := &bus.Emitter{Bus: loop, Local: pub, Log: log}
	cfg := Config{ShutdownTimeout: 5 * time.Second, AppendMaxRetries: 3}
	svcs := wireServices(log, cfg, testutil.MemoryStore(t), emitter, nil)

	entered := make(chan struct{})
	pipeline, err := agent.NewPipeline(log, nil, agent.StepFunc{
		StepName: "wait",
		Fn: func(sc *agent.StepContext) (*agent.StepResult, error) {
			close(entered)
			<-sc.Ctx.Done()
			return nil, sc.Ctx.Err()
		},
	})
	require.NoError(t, err)
	runner := agent.NewRunner(log, nil, pipeline, svcs.Chain, svcs.History, svcs.Chats, pub, emitter, agent.RunnerConfig{})

	a := &App{
		Log:       log,
		Cfg:       cfg,
		Publisher: pub,
		Bus:       loop,
		Services:  svcs,
		Runner:    runner,
		Server:    apphttp.NewServer("127.0.0.1:0", apphttp.RouterConfig{Log: log}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	waitFor(t, loop.started, "forwarder")

	h, err := runner.Run(context.Background(), "u1", "question")
	require.NoError(t, err)
	waitFor(t, entered, "step")
	cancel()

	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer readCancel()
	var last realtime.Event
	for ev := range h.Events.Events(readCtx) {
		last = ev
	}
	require.NoError(t, readCtx.Err(), "run stream never saw its terminal event")
	assert.Equal(t, realtime.EventCancelled, last.Type)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
	waitFor(t, loop.stopped, "forwarder to stop")
}
