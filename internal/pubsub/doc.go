// Package pubsub defines the subscription handle used by the broker adapter.
//
// A Subscription is the consumer-facing side of a topic subscription:
// dispatch workers push payloads (or errors) in, application code reads
// them out with Next or a select on C. Handles are deliberately decoupled
// from the MQTT layer so that application packages never import the
// broker client directly.
//
// Backpressure is resolved by dropping the oldest buffered delivery when
// a consumer falls behind; the drop count is observable via Dropped.
package pubsub
