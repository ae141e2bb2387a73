package mqtt

import (
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Status is the tri-state outcome of a bounded-timeout publish.
type Status int

// Publish outcomes.
const (
	// StatusSuccess means the broker acknowledged the publish in time.
	StatusSuccess Status = iota

	// StatusTimeout means the acknowledgment did not arrive before the
	// deadline. The underlying publish still completes eventually.
	StatusTimeout

	// StatusFailure means the publish failed outright.
	StatusFailure
)

// String returns a human-readable form of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Publish sends a message to the specified MQTT topic, blocking until the
// broker acknowledges it.
//
// QoS and retention follow the client configuration; use this for
// fire-and-forget semantics where the caller only cares that the message
// reached the broker.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (max 1MB)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte) error {
	if err := c.validatePublish(topic, payload); err != nil {
		return err
	}

	c.getLogger().Debug("publishing message", "topic", topic, "bytes", len(payload))

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishWithTimeout publishes a message and waits at most the given
// timeout for the broker acknowledgment.
//
// The timeout is capped at 30 seconds; non-positive timeouts are treated
// as already expired and reported as StatusTimeout. The publish runs on a
// background goroutine racing the deadline - after a timeout the
// in-flight publish is not cancelled and still completes against the
// broker eventually.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (max 1MB)
//   - timeout: Maximum time to wait for the acknowledgment
//
// Returns:
//   - Status: StatusSuccess, StatusTimeout, or StatusFailure
func (c *Client) PublishWithTimeout(topic string, payload []byte, timeout time.Duration) Status {
	log := c.getLogger()

	if timeout <= 0 {
		log.Warn("invalid publish timeout, must be positive", "timeout", timeout)
		return StatusTimeout
	}
	if timeout > maxOpTimeout {
		log.Warn("publish timeout capped", "capped", maxOpTimeout, "requested", timeout)
		timeout = maxOpTimeout
	}

	if err := c.validatePublish(topic, payload); err != nil {
		log.Error("MQTT publish failed", "topic", topic, "error", err)
		return StatusFailure
	}

	log.Debug("publishing message", "topic", topic, "bytes", len(payload), "timeout", timeout)

	done := make(chan Status, 1)
	go func() {
		token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error("MQTT publish failed", "topic", topic, "error", err)
			done <- StatusFailure
			return
		}
		done <- StatusSuccess
	}()

	select {
	case status := <-done:
		return status
	case <-time.After(timeout):
		log.Warn("publish timed out", "topic", topic, "timeout", timeout)
		return StatusTimeout
	}
}

// PublishString is a convenience method that publishes a string payload.
//
// This is equivalent to calling Publish with []byte(payload).
func (c *Client) PublishString(topic string, payload string) error {
	return c.Publish(topic, []byte(payload))
}

// validatePublish checks publish preconditions shared by both variants.
func (c *Client) validatePublish(topic string, payload []byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
