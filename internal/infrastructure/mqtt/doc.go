// Package mqtt provides the broker adapter for edgebus.
//
// This package manages:
//   - Connection to the MQTT broker with auto-reconnect
//   - Blocking publish and bounded-timeout publish (tri-state outcome)
//   - Per-topic subscription handles with asynchronous delivery
//   - Delivery fan-out over a shared worker pool
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The adapter is deliberately thin glue around paho.mqtt.golang: the wire
// protocol, TLS, session handling, and delivery guarantees all belong to
// the library. What this package adds is the subscription-handle model -
// Subscribe returns a pubsub.Subscription that receives payloads or
// errors asynchronously - plus the dispatch layer that pushes each
// inbound message to every handle for its exact topic via the shared
// worker pool, keeping subscriber code off the network goroutine.
//
//	application ↔ subscription handles ↔ worker pool ↔ paho ↔ broker
//
// # Authentication
//
// Four modes, fixed at construction: anonymous, username/password,
// bearer token (sent as the MQTT username), and mutual TLS with client
// certificates. See config.MQTTAuthConfig.
//
// # Ordering
//
// No ordering guarantee exists across topics. Within a topic, ordering is
// best-effort: deliveries are enqueued in arrival order but workers may
// interleave.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	sub, err := client.Subscribe("telemetry/engine")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    d, err := sub.Next(ctx)
//	    if err != nil {
//	        break
//	    }
//	    process(d.Payload)
//	}
//
//	status := client.PublishWithTimeout("commands/door", []byte(`{"open":true}`), 5*time.Second)
package mqtt
