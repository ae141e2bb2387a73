package mqtt

import (
	"fmt"

	"github.com/edgebus/edgebus-core/internal/pubsub"
)

// Subscribe registers a subscription handle for the given topic and blocks
// until the broker acknowledges the subscribe.
//
// Each call creates a new handle; subscribing to the same topic more than
// once is allowed, and every handle receives its own copy of each message.
// Deliveries arrive asynchronously via the shared worker pool - consume
// them with Next or a select on the handle's channel.
//
// Handle lookup on delivery is by the exact inbound topic. Broker-side
// wildcard patterns (+, #) are accepted here and the broker will forward
// matching traffic, but such messages arrive under their concrete topic
// and will not reach a handle registered under the pattern.
//
// Subscriptions are automatically restored if the connection is lost and
// reconnected (tracked internally).
//
// Parameters:
//   - topic: The topic to subscribe to
//
// Returns:
//   - *pubsub.Subscription: The handle receiving payloads and errors
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string) (*pubsub.Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	c.getLogger().Debug("subscribing to topic", "topic", topic)

	c.handleMu.Lock()
	sub := pubsub.NewSubscription(topic, c.subscriptionBuffer)
	c.handles[topic] = append(c.handles[topic], sub)
	c.handleMu.Unlock()

	// A nil handler routes messages to the client's dispatch callback.
	token := c.client.Subscribe(topic, byte(c.cfg.QoS), nil)
	if !token.WaitTimeout(defaultAckTimeout) {
		c.removeHandle(topic, sub)
		return nil, fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultAckTimeout)
	}
	if err := token.Error(); err != nil {
		c.removeHandle(topic, sub)
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return sub, nil
}

// Unsubscribe stops receiving messages for a topic and blocks until the
// broker acknowledges the unsubscribe.
//
// All handles registered for the topic are closed and removed. Deliveries
// already enqueued on the worker pool may still land in a handle's buffer
// before it closes.
//
// Parameters:
//   - topic: The exact topic that was subscribed to
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.getLogger().Debug("unsubscribing from topic", "topic", topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	// Broker acknowledged - drop every handle for the topic.
	c.handleMu.Lock()
	subs := c.handles[topic]
	delete(c.handles, topic)
	c.handleMu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	return nil
}

// removeHandle unregisters and closes a single handle after a failed subscribe.
func (c *Client) removeHandle(topic string, sub *pubsub.Subscription) {
	c.handleMu.Lock()
	subs := c.handles[topic]
	for i, s := range subs {
		if s == sub {
			c.handles[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(c.handles[topic]) == 0 {
		delete(c.handles, topic)
	}
	c.handleMu.Unlock()

	sub.Close()
}

// SubscriptionCount returns the number of active subscription handles.
//
// This can be useful for monitoring and debugging.
func (c *Client) SubscriptionCount() int {
	c.handleMu.RLock()
	defer c.handleMu.RUnlock()

	count := 0
	for _, subs := range c.handles {
		count += len(subs)
	}
	return count
}

// HasSubscription checks if any handle exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.handleMu.RLock()
	defer c.handleMu.RUnlock()
	return len(c.handles[topic]) > 0
}
