package pubsub

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next when the subscription has been closed.
var ErrClosed = errors.New("pubsub: subscription closed")

// Delivery carries one asynchronous notification for a subscription:
// either a message payload or an error raised while producing it.
type Delivery struct {
	Topic   string
	Payload []byte
	Err     error
}

// Subscription is an asynchronous handle bound to a single topic.
//
// Deliveries are pushed by the broker adapter's dispatch workers and
// consumed via Next or the raw channel from C. Multiple subscriptions
// may exist for the same topic; each receives its own copy of every
// message.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Subscription struct {
	topic string
	ch    chan Delivery

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewSubscription creates a subscription handle for the given topic with
// the given delivery buffer depth. A buffer below 1 is raised to 1.
func NewSubscription(topic string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscription{
		topic: topic,
		ch:    make(chan Delivery, buffer),
	}
}

// Topic returns the topic this subscription is bound to.
func (s *Subscription) Topic() string {
	return s.topic
}

// C returns the delivery channel for select-based consumption.
// The channel is closed when the subscription is closed.
func (s *Subscription) C() <-chan Delivery {
	return s.ch
}

// Next blocks until a delivery arrives, the subscription is closed,
// or the context is cancelled.
//
// Returns:
//   - Delivery: The next payload or error notification
//   - error: ErrClosed after Close, or the context's error on cancellation
func (s *Subscription) Next(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-s.ch:
		if !ok {
			return Delivery{}, ErrClosed
		}
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// Deliver pushes a message payload into the subscription.
// Delivery to a closed subscription is a no-op.
func (s *Subscription) Deliver(payload []byte) {
	s.push(Delivery{Topic: s.topic, Payload: payload})
}

// Fail pushes an error notification into the subscription.
// Used by dispatch workers to surface processing failures to the consumer.
func (s *Subscription) Fail(err error) {
	s.push(Delivery{Topic: s.topic, Err: err})
}

// push enqueues a delivery without ever blocking the caller.
// When the buffer is full the oldest delivery is dropped so the
// consumer always observes the most recent messages.
func (s *Subscription) push(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for {
		select {
		case s.ch <- d:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Dropped returns the number of deliveries discarded because the
// consumer fell behind the buffer.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close shuts the subscription down. It is idempotent.
// Pending deliveries remain readable until the channel drains.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// IsClosed reports whether Close has been called.
func (s *Subscription) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
