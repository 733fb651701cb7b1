package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/research-agent-backend/internal/platform/logger"
	"github.com/yungbote/research-agent-backend/internal/realtime"
)

const (
	defaultRedisChannel = "agent-events"
	forwarderBuffer     = 1024
)

var ErrBusClosed = errors.New("event bus closed")

// envelope is the wire form on the pub/sub channel. Origin names the
// publishing instance so forwarded traffic can be traced back in logs.
type envelope struct {
	Origin string           `json:"origin"`
	Msg    realtime.Message `json:"msg"`
}

type redisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	origin  string

	mu      sync.Mutex
	closed  bool
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisBus publishes on one pub/sub channel (REDIS_CHANNEL, default
// "agent-events"). The client is owned by the caller.
func NewRedisBus(log *logger.Logger, rdb *goredis.Client, channel string) (Bus, error) {
	if log == nil || rdb == nil {
		return nil, fmt.Errorf("redis bus: logger and client are required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultRedisChannel
	}
	origin := uuid.NewString()
	return &redisBus{
		log:     log.With("service", "RedisEventBus", "origin", origin, "redis_channel", channel),
		rdb:     rdb,
		channel: channel,
		origin:  origin,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	raw, err := json.Marshal(envelope{Origin: b.origin, Msg: msg})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msg.Event.Type, err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and returns once redis has confirmed the
// subscription, so nothing published afterwards is missed. Messages are
// handed to onMsg in channel order on a single goroutine.
func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("redis bus: onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	fctx, cancel := context.WithCancel(ctx)
	b.cancels = append(b.cancels, cancel)
	b.wg.Add(1)
	b.mu.Unlock()

	sub := b.rdb.Subscribe(fctx, b.channel)
	if _, err := sub.Receive(fctx); err != nil {
		_ = sub.Close()
		cancel()
		b.wg.Done()
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer b.wg.Done()
		defer sub.Close()
		b.forward(fctx, sub.Channel(goredis.WithChannelSize(forwarderBuffer)), onMsg)
	}()
	return nil
}

func (b *redisBus) forward(ctx context.Context, ch <-chan *goredis.Message, onMsg func(realtime.Message)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil || env.Msg.Channel == "" {
				b.log.Warn("Dropping undecodable bus payload", "bytes", len(m.Payload), "error", err)
				continue
			}
			onMsg(env.Msg)
		}
	}
}

func (b *redisBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close stops every forwarder and waits for them to exit.
func (b *redisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.wg.Wait()
	return nil
}
