package telemetry

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordMessage writes one throughput point for a relayed message.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - topic: The message topic (tag - keep cardinality in mind)
//   - direction: "inbound" or "outbound"
//   - bytes: Payload size
//
// Example:
//
//	client.RecordMessage("telemetry/engine", "inbound", len(payload))
func (c *Client) RecordMessage(topic string, direction string, bytes int) {
	if !c.IsConnected() {
		return
	}

	c.writes.WritePoint(write.NewPoint(
		"messages",
		map[string]string{
			"topic":     topic,
			"direction": direction,
		},
		map[string]interface{}{
			"bytes": bytes,
			"count": 1,
		},
		time.Now(),
	))
}

// RecordDrop writes a point for a delivery dropped by a lagging subscriber.
//
// Parameters:
//   - topic: The topic of the dropped delivery
//   - dropped: Cumulative drop count for the subscription
func (c *Client) RecordDrop(topic string, dropped uint64) {
	if !c.IsConnected() {
		return
	}

	c.writes.WritePoint(write.NewPoint(
		"delivery_drops",
		map[string]string{
			"topic": topic,
		},
		map[string]interface{}{
			"dropped": int64(dropped),
		},
		time.Now(),
	))
}
