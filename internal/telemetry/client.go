package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/edgebus/edgebus-core/internal/infrastructure/config"
)

// pingTimeout bounds connectivity probes, both at connect time and
// during health checks.
const pingTimeout = 5 * time.Second

// msPerSecond converts the configured flush interval to the
// milliseconds the InfluxDB client expects.
const msPerSecond = 1000

// Client ships relay throughput measurements to InfluxDB.
//
// Points go through the non-blocking batched write API, so recording a
// measurement from the delivery path costs an in-memory append and never
// waits on the network. Batches flush on the configured interval; failed
// batches surface asynchronously on the error callback.
type Client struct {
	influx influxdb2.Client
	writes api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect creates the telemetry client and verifies the server is
// reachable before handing it out. Batch size and flush interval come
// straight from the configuration; config.Load supplies the defaults
// and Validate rejects non-positive values, so no clamping happens here.
//
// Returns ErrDisabled when telemetry is switched off in config, so
// callers can treat running without telemetry as a normal mode rather
// than a failure.
func Connect(cfg config.TelemetryConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	// #nosec G115 -- Validate guarantees both values are positive
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval) * msPerSecond)

	c := &Client{
		influx: influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts),
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		c.influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.writes = c.influx.WriteAPI(cfg.Org, cfg.Bucket)
	c.connected = true

	go c.forwardWriteErrors(c.writes.Errors())

	return c, nil
}

// ping probes the server once within the caller's context.
func (c *Client) ping(ctx context.Context) error {
	healthy, err := c.influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server reports unhealthy")
	}
	return nil
}

// forwardWriteErrors hands async batch failures to the registered
// callback. Runs until the write API closes its error channel on Close.
func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError registers a callback for asynchronous write failures.
// Without one, failed batches are dropped silently.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// IsConnected reports whether the client is open for writes.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// HealthCheck re-probes the server.
//
// Returns:
//   - error: nil if the server answers healthy within the ping timeout
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.ping(checkCtx); err != nil {
		return fmt.Errorf("telemetry health check: %w", err)
	}
	return nil
}

// Flush pushes buffered points out synchronously. Safe to call on a
// closed client (no-op).
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writes.Flush()
}

// Close flushes pending points and shuts the client down. Further
// record calls become no-ops.
func (c *Client) Close() error {
	if c.influx == nil {
		return nil
	}

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.writes.Flush()
	}
	c.influx.Close()

	return nil
}
