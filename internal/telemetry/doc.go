// Package telemetry records message throughput metrics to InfluxDB.
//
// The relay feeds it one point per message (topic, direction, bytes)
// plus drop counters for lagging subscribers. Writes are batched and
// asynchronous so the relay hot path never blocks on the network.
//
// Telemetry is optional: when disabled in config, Connect returns
// ErrDisabled and callers run without it.
package telemetry
