package realtime

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/google/uuid"
)

// ErrSubscriptionClosed is returned by Next once the stream has ended and all
// queued events were consumed.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is one subscriber's view of a channel. Its queue is unbounded:
// a slow reader never causes events to be dropped or reordered.
type Subscription struct {
	ID      string
	Channel string

	pub    *Publisher
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	closed bool
}

func newSubscription(pub *Publisher, channel string) *Subscription {
	return &Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		pub:     pub,
		notify:  make(chan struct{}, 1),
	}
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// finish marks the stream ended; queued events remain readable.
func (s *Subscription) finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.wake()
	return true
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the stream ends, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrSubscriptionClosed
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Events yields until the stream ends or ctx is done.
func (s *Subscription) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	if s.pub != nil {
		s.pub.unsubscribe(s)
	}
}
