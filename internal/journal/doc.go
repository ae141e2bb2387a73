// Package journal persists a message audit log to SQLite.
//
// Every message the relay moves through the broker connection is
// recorded with its topic, direction, payload, and timestamp. The
// journal answers "what crossed the bus and when" during commissioning
// and fault investigation; it makes no delivery guarantees and is
// pruned by retention.
//
// The store uses WAL mode for concurrent reads during writes and a
// user_version-based migration list applied on Open.
package journal
