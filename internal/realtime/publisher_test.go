package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	t.Cleanup(log.Sync)
	return log
}

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out []Event
	for ev := range sub.Events(ctx) {
		out = append(out, ev)
	}
	require.NoError(t, ctx.Err(), "subscription did not terminate")
	return out
}

func types(evs []Event) []EventType {
	out := make([]EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestPublisherOrderingAndTermination(t *testing.T) {
	pub := NewPublisher(mustTestLogger(t), nil)
	runID := uuid.NewString()
	ch := RunChannel(runID)

	a := pub.Subscribe(ch)
	b := pub.Subscribe(ch)

	pub.Publish(Message{Channel: ch, Event: Event{RunID: runID, Type: EventStart}})
	for i := 0; i < 100; i++ {
		pub.Publish(Message{Channel: ch, Event: Event{RunID: runID, Type: EventProgress, Details: map[string]any{"seq": i}}})
	}
	pub.Publish(Message{Channel: ch, Event: Event{RunID: runID, Type: EventDone, MessageID: "m1"}})

	gotA, gotB := drain(t, a), drain(t, b)
	require.Len(t, gotA, 102)
	assert.Equal(t, gotA, gotB)
	assert.Equal(t, EventStart, gotA[0].Type)
	assert.Equal(t, EventDone, gotA[101].Type)
	assert.Equal(t, "m1", gotA[101].MessageID)
	for i := 1; i <= 100; i++ {
		assert.Equal(t, i-1, gotA[i].Details["seq"])
	}
	assert.Zero(t, pub.Subscribers(ch))
}

func TestPublisherLateJoinerMissesEarlierEvents(t *testing.T) {
	pub := NewPublisher(mustTestLogger(t), nil)
	ch := RunChannel("r1")

	early := pub.Subscribe(ch)
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventStart}})
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventProgress, Content: "one"}})
	late := pub.Subscribe(ch)
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventProgress, Content: "two"}})
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventCancelled}})

	assert.Equal(t, []EventType{EventStart, EventProgress, EventProgress, EventCancelled}, types(drain(t, early)))
	lateEvents := drain(t, late)
	assert.Equal(t, []EventType{EventProgress, EventCancelled}, types(lateEvents))
	assert.Equal(t, "two", lateEvents[0].Content)
}

func TestPublisherChatChannelsStayOpen(t *testing.T) {
	pub := NewPublisher(mustTestLogger(t), nil)
	ch := ChatChannel("c1")
	sub := pub.Subscribe(ch)
	defer sub.Close()

	pub.Publish(Message{Channel: ch, Event: Event{Type: EventDone}})
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventMessageCreated, MessageID: "m2"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventDone, first.Type)
	second, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m2", second.MessageID)
	assert.Equal(t, 1, pub.Subscribers(ch))
}

func TestSubscriptionNextHonoursContext(t *testing.T) {
	pub := NewPublisher(mustTestLogger(t), nil)
	sub := pub.Subscribe(RunChannel("idle"))
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	pub := NewPublisher(mustTestLogger(t), nil)
	ch := RunChannel("r2")
	sub := pub.Subscribe(ch)
	sub.Close()
	sub.Close()
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventStart}})

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.Zero(t, pub.Subscribers(ch))
}

func TestPublisherConcurrentSlowReaderLosesNothing(t *testing.T) {
	pub := NewPublisher(mustTestLogger(t), nil)
	ch := RunChannel("busy")
	sub := pub.Subscribe(ch)

	var wg sync.WaitGroup
	wg.Add(1)
	var got []Event
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for ev := range sub.Events(ctx) {
			got = append(got, ev)
		}
	}()
	for i := 0; i < 5000; i++ {
		pub.Publish(Message{Channel: ch, Event: Event{Type: EventProgress}})
	}
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventError, Content: "boom"}})
	wg.Wait()

	require.Len(t, got, 5001)
	assert.Equal(t, EventError, got[5000].Type)
}

func TestCloseChannelEndsSubscriptionsWithoutEvent(t *testing.T) {
	pub := NewPublisher(mustTestLogger(t), nil)
	ch := RunChannel(uuid.NewString())
	other := ChatChannel(uuid.NewString())

	a := pub.Subscribe(ch)
	b := pub.Subscribe(other)
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventProgress}})
	pub.CloseChannel(ch)

	assert.Equal(t, []EventType{EventProgress}, types(drain(t, a)))
	assert.Zero(t, pub.Subscribers(ch))
	assert.Equal(t, 1, pub.Subscribers(other))

	// Events after the close reach nobody and do not panic.
	pub.Publish(Message{Channel: ch, Event: Event{Type: EventDone}})
	b.Close()
}
