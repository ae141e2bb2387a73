// Package workers provides the shared worker pool used for delivery fan-out.
//
// The broker adapter enqueues one job per subscription for every inbound
// message. Running those jobs on a fixed-size pool keeps subscriber code
// off the MQTT network goroutine and bounds the concurrency a burst of
// traffic can create.
package workers
