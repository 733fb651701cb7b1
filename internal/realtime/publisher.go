package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/yungbote/research-agent-backend/internal/observability"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

// Publisher fans messages out to live subscriptions. It keeps no history: a
// subscriber only sees what is published after it subscribed. Publish holds
// the lock while enqueueing, so every subscriber of a channel observes the
// same order.
type Publisher struct {
	mu            sync.Mutex
	log           *logger.Logger
	metrics       *observability.Metrics
	subscriptions map[string]map[*Subscription]struct{}
}

func NewPublisher(log *logger.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		log:           log.With("component", "Publisher"),
		metrics:       metrics,
		subscriptions: make(map[string]map[*Subscription]struct{}),
	}
}

func (p *Publisher) Subscribe(channel string) *Subscription {
	channel = strings.TrimSpace(channel)
	sub := newSubscription(p, channel)
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.subscriptions[channel]
	if !ok {
		subs = make(map[*Subscription]struct{})
		p.subscriptions[channel] = subs
	}
	subs[sub] = struct{}{}
	p.metrics.SubscriberAdded()
	p.log.Debug("subscribed", "subscription_id", sub.ID, "channel", channel)
	return sub
}

// Publish delivers msg to every current subscriber of its channel. A terminal
// event on a run channel closes those subscriptions after delivery.
func (p *Publisher) Publish(msg Message) {
	if msg.Channel == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.subscriptions[msg.Channel]
	if !ok {
		return
	}
	for sub := range subs {
		sub.push(msg.Event)
	}
	if isRunChannel(msg.Channel) && msg.Event.Type.Terminal() {
		for sub := range subs {
			if sub.finish() {
				p.metrics.SubscriberRemoved()
			}
		}
		delete(p.subscriptions, msg.Channel)
	}
}

// Emit lets the publisher serve as the local Emitter.
func (p *Publisher) Emit(_ context.Context, msg Message) {
	p.Publish(msg)
}

// Subscribers returns the number of live subscriptions on channel.
func (p *Publisher) Subscribers(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscriptions[channel])
}

// CloseChannel ends every subscription on channel without an event.
func (p *Publisher) CloseChannel(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subscriptions[channel] {
		if sub.finish() {
			p.metrics.SubscriberRemoved()
		}
	}
	delete(p.subscriptions, channel)
}

func (p *Publisher) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.subscriptions[sub.Channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(p.subscriptions, sub.Channel)
		}
	}
	if sub.finish() {
		p.metrics.SubscriberRemoved()
	}
}
