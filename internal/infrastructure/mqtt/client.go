package mqtt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgebus/edgebus-core/internal/infrastructure/config"
	"github.com/edgebus/edgebus-core/internal/pubsub"
)

// Client wraps paho.mqtt.golang with edgebus-specific functionality.
//
// It provides connection management, blocking and bounded-timeout
// publishing, per-topic subscription handles, and asynchronous delivery
// fan-out over a shared worker pool.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// pool runs delivery jobs so subscriber processing never blocks the
	// paho network goroutine.
	pool DeliveryPool

	// handles maps topic -> subscription handles. Multiple handles per
	// topic are allowed; each receives every message on the topic.
	handles  map[string][]*pubsub.Subscription
	handleMu sync.RWMutex

	// subscriptionBuffer is the channel depth of newly created handles.
	subscriptionBuffer int

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// DeliveryPool is the worker pool surface the client fans deliveries out on.
// Compatible with workers.Pool.
type DeliveryPool interface {
	Submit(task func()) error
}

// Logger is the logging surface the client needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultSubscriptionBuffer is used when SetSubscriptionBuffer is never called.
const defaultSubscriptionBuffer = 64

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth mode, TLS)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Sets up auto-reconnect with exponential backoff
//  4. Attempts initial connection with timeout
//  5. Publishes online status to edgebus/system/status
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - pool: Shared worker pool for delivery fan-out
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If option building or initial connection fails within timeout
func Connect(cfg config.MQTTConfig, pool DeliveryPool) (*Client, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	configureLWT(opts, cfg.Broker.ClientID)

	c := &Client{
		cfg:                cfg,
		options:            opts,
		pool:               pool,
		handles:            make(map[string][]*pubsub.Subscription),
		subscriptionBuffer: defaultSubscriptionBuffer,
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	// Every inbound message is routed through one dispatch callback;
	// per-topic paho handlers are never registered.
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.getLogger().Info("connecting to MQTT broker",
		"host", cfg.Broker.Host,
		"port", cfg.Broker.Port,
		"client_id", cfg.Broker.ClientID,
		"auth_mode", string(cfg.Auth.Mode),
	)

	// Create and connect
	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Set connected state immediately after successful connection.
	// The OnConnectHandler callback runs asynchronously and may not have
	// executed yet, so we set it here to ensure IsConnected() returns true.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// Reconnect attempts to re-establish a lost broker connection, waiting
// at most the given timeout for the attempt to complete.
//
// The timeout is capped at 30 seconds; non-positive timeouts are rejected.
// Outcomes (success, timeout, failure) are logged, never returned - the
// caller cannot fail because a reconnect attempt did.
func (c *Client) Reconnect(timeout time.Duration) {
	log := c.getLogger()
	log.Info("attempting to reconnect to MQTT broker")

	if timeout <= 0 {
		log.Error("invalid reconnect timeout, must be positive", "timeout", timeout)
		return
	}
	if timeout > maxOpTimeout {
		log.Warn("reconnect timeout capped", "capped", maxOpTimeout, "requested", timeout)
		timeout = maxOpTimeout
	}

	if c.IsConnected() {
		log.Debug("already connected, skipping reconnect")
		return
	}
	if c.client == nil {
		log.Error("cannot reconnect, client was never connected")
		return
	}

	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		log.Error("MQTT reconnect timed out", "timeout", timeout)
		return
	}
	if err := token.Error(); err != nil {
		log.Error("MQTT reconnect failed", "error", err)
		return
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	log.Info("successfully reconnected to MQTT broker")
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	// Restore subscriptions
	c.restoreSubscriptions()

	// Publish online status
	c.publishOnlineStatus()

	// Notify callback if set
	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.getLogger().Warn("MQTT connection lost", "error", err)

	// Notify callback if set
	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
func (c *Client) restoreSubscriptions() {
	c.handleMu.RLock()
	defer c.handleMu.RUnlock()

	for topic := range c.handles {
		// Re-subscribe (ignore errors during reconnection)
		c.client.Subscribe(topic, byte(c.cfg.QoS), nil)
	}
}

// publishOnlineStatus publishes the instance's online status to the system status topic.
func (c *Client) publishOnlineStatus() {
	topic := Topics{}.SystemStatus()
	payload := buildOnlinePayload(c.cfg.Broker.ClientID)
	c.client.Publish(topic, byte(c.cfg.QoS), true, payload)
}

// Close gracefully disconnects from the MQTT broker.
//
// It performs:
//  1. Publishes graceful offline status (different from LWT crash status)
//  2. Disconnects from broker with a quiesce period
//  3. Closes all subscription handles so consumers unblock
//
// Returns:
//   - error: If disconnect fails (connection already closed is not an error)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	// Check if connected before trying to publish
	if c.IsConnected() {
		// Publish graceful shutdown status
		topic := Topics{}.SystemStatus()
		payload := buildOfflinePayload(c.cfg.Broker.ClientID)
		token := c.client.Publish(topic, byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(defaultAckTimeout)
	}

	// Disconnect with quiesce period for pending operations
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	// Release any consumers still blocked on their handles.
	c.handleMu.Lock()
	for topic, subs := range c.handles {
		for _, sub := range subs {
			sub.Close()
		}
		delete(c.handles, topic)
	}
	c.handleMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which can perform an active test.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection and dispatch logging.
// If not set, log output is discarded.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetSubscriptionBuffer sets the delivery channel depth for handles
// created by future Subscribe calls. Existing handles are unaffected.
func (c *Client) SetSubscriptionBuffer(buffer int) {
	c.handleMu.Lock()
	c.subscriptionBuffer = buffer
	c.handleMu.Unlock()
}

// getLogger returns the current logger.
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
