package mqtt

import (
	"fmt"

	"github.com/edgebus/edgebus-core/internal/pubsub"
)

// dispatch fans an inbound message out to every handle registered for the
// exact topic, enqueueing one delivery job per handle on the shared pool.
//
// It runs on the paho network goroutine and must return quickly: the only
// work done inline is the registry lookup and the pool submissions.
// Wildcard resolution is not performed; messages received through a
// broker-side wildcard subscription carry their concrete topic and only
// match handles registered under that exact string.
func (c *Client) dispatch(topic string, payload []byte) {
	log := c.getLogger()
	log.Debug("message arrived", "topic", topic, "bytes", len(payload))

	c.handleMu.RLock()
	subs := make([]*pubsub.Subscription, len(c.handles[topic]))
	copy(subs, c.handles[topic])
	c.handleMu.RUnlock()

	for _, sub := range subs {
		c.enqueueDelivery(sub, payload)
	}
}

// enqueueDelivery submits one delivery job for one handle.
//
// A panic inside the delivery path is captured as an error notification
// on the handle rather than crashing a pool worker. If the pool rejects
// the job the handle is failed inline so the consumer learns about the
// missed message.
func (c *Client) enqueueDelivery(sub *pubsub.Subscription, payload []byte) {
	err := c.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				sub.Fail(fmt.Errorf("mqtt: delivery panicked: %v", r))
			}
		}()
		sub.Deliver(payload)
	})
	if err != nil {
		c.getLogger().Error("failed to enqueue delivery",
			"topic", sub.Topic(),
			"error", err,
		)
		sub.Fail(fmt.Errorf("%w: %w", ErrDispatchUnavailable, err))
	}
}
