package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgebus/edgebus-core/internal/infrastructure/config"
	"github.com/edgebus/edgebus-core/internal/infrastructure/logging"
	"github.com/edgebus/edgebus-core/internal/infrastructure/mqtt"
	"github.com/edgebus/edgebus-core/internal/journal"
	"github.com/edgebus/edgebus-core/internal/pubsub"
)

// prunePeriod is how often journal retention is enforced.
const prunePeriod = time.Hour

// Broker is the pub/sub client surface the relay needs.
// Satisfied by *mqtt.Client.
type Broker interface {
	Subscribe(topic string) (*pubsub.Subscription, error)
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
	PublishWithTimeout(topic string, payload []byte, timeout time.Duration) mqtt.Status
	IsConnected() bool
}

// Recorder is the journal surface the relay needs.
// Satisfied by *journal.Journal.
type Recorder interface {
	Record(ctx context.Context, topic string, direction journal.Direction, payload []byte) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Metrics is the telemetry surface the relay needs.
// Satisfied by *telemetry.Client.
type Metrics interface {
	RecordMessage(topic string, direction string, bytes int)
	RecordDrop(topic string, dropped uint64)
}

// App is the relay application.
//
// It owns the runtime lifecycle around a connected broker client:
// subscribing the configured topics, consuming their handles, journaling
// and telemetering traffic, and unwinding cleanly on shutdown.
type App struct {
	cfg *config.Config
	log *logging.Logger

	broker  Broker
	journal Recorder // may be nil when journaling is disabled
	metrics Metrics  // may be nil when telemetry is disabled

	// Lifecycle hooks (optional, set before Run).
	onStart func(ctx context.Context) error
	onStop  func()

	running bool
	mu      sync.Mutex
}

// New creates the relay application around a connected broker client.
//
// Parameters:
//   - cfg: Full application configuration
//   - log: Structured logger
//   - broker: Connected broker client
func New(cfg *config.Config, log *logging.Logger, broker Broker) *App {
	return &App{
		cfg:    cfg,
		log:    log.With("component", "app"),
		broker: broker,
	}
}

// SetJournal enables message journaling.
func (a *App) SetJournal(j Recorder) {
	a.journal = j
}

// SetMetrics enables throughput telemetry.
func (a *App) SetMetrics(m Metrics) {
	a.metrics = m
}

// OnStart sets a hook invoked after subscriptions are established,
// before the consume loops begin.
func (a *App) OnStart(fn func(ctx context.Context) error) {
	a.onStart = fn
}

// OnStop sets a hook invoked during shutdown, before subscriptions
// are torn down.
func (a *App) OnStop(fn func()) {
	a.onStop = fn
}

// Run starts the relay and blocks until the context is cancelled.
//
// It performs:
//  1. Subscribes to every configured relay topic
//  2. Invokes the OnStart hook
//  3. Consumes each subscription handle on its own goroutine
//  4. Enforces journal retention periodically
//  5. On cancellation, invokes OnStop and unsubscribes everything
//
// Returns:
//   - error: If startup fails; nil on clean shutdown
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("app: already running")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.log.Info("starting relay", "topics", len(a.cfg.Relay.Topics))

	subs := make([]*pubsub.Subscription, 0, len(a.cfg.Relay.Topics))
	for _, topic := range a.cfg.Relay.Topics {
		sub, err := a.broker.Subscribe(topic)
		if err != nil {
			a.teardown(subs)
			return fmt.Errorf("subscribing to %q: %w", topic, err)
		}
		a.log.Info("subscribed", "topic", topic)
		subs = append(subs, sub)
	}

	if a.onStart != nil {
		if err := a.onStart(ctx); err != nil {
			a.teardown(subs)
			return fmt.Errorf("start hook: %w", err)
		}
	}

	a.log.Info("relay is running")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			a.consume(groupCtx, sub)
			return nil
		})
	}

	if a.journal != nil && a.cfg.Journal.RetentionDays > 0 {
		group.Go(func() error {
			a.pruneLoop(groupCtx)
			return nil
		})
	}

	// Block until cancellation propagates through the group.
	group.Wait() //nolint:errcheck // Goroutines above never return errors

	a.stop(subs)
	a.log.Info("relay stopped")
	return nil
}

// consume drains one subscription handle until it closes or the context
// is cancelled.
func (a *App) consume(ctx context.Context, sub *pubsub.Subscription) {
	log := a.log.With("topic", sub.Topic())

	var lastDropped uint64
	for {
		d, err := sub.Next(ctx)
		if err != nil {
			// Closed handle or cancelled context - either way this
			// consumer is done.
			return
		}

		if d.Err != nil {
			log.Warn("delivery error", "error", d.Err)
			continue
		}

		log.Debug("relayed message", "bytes", len(d.Payload))

		if a.journal != nil {
			if err := a.journal.Record(ctx, d.Topic, journal.Inbound, d.Payload); err != nil {
				log.Error("journaling message failed", "error", err)
			}
		}
		if a.metrics != nil {
			a.metrics.RecordMessage(d.Topic, string(journal.Inbound), len(d.Payload))
			if dropped := sub.Dropped(); dropped > lastDropped {
				a.metrics.RecordDrop(d.Topic, dropped)
				lastDropped = dropped
			}
		}
	}
}

// pruneLoop enforces journal retention until the context is cancelled.
func (a *App) pruneLoop(ctx context.Context) {
	retention := time.Duration(a.cfg.Journal.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.journal.Prune(ctx, retention)
			if err != nil {
				a.log.Error("journal prune failed", "error", err)
				continue
			}
			if removed > 0 {
				a.log.Info("journal pruned", "removed", removed)
			}
		}
	}
}

// stop runs the shutdown sequence: stop hook first, then teardown.
func (a *App) stop(subs []*pubsub.Subscription) {
	a.log.Info("stopping relay")

	if a.onStop != nil {
		a.onStop()
	}

	a.teardown(subs)
}

// teardown unsubscribes every topic the relay subscribed.
func (a *App) teardown(subs []*pubsub.Subscription) {
	seen := make(map[string]bool)
	for _, sub := range subs {
		if seen[sub.Topic()] {
			continue
		}
		seen[sub.Topic()] = true

		if err := a.broker.Unsubscribe(sub.Topic()); err != nil {
			a.log.Warn("unsubscribe failed", "topic", sub.Topic(), "error", err)
		}
	}
}

// PublishToTopic publishes a message, blocking until the broker ack,
// and journals it as outbound traffic.
func (a *App) PublishToTopic(ctx context.Context, topic string, payload []byte) error {
	if err := a.broker.Publish(topic, payload); err != nil {
		return err
	}
	a.recordOutbound(ctx, topic, payload)
	return nil
}

// PublishToTopicWithTimeout publishes with a bounded wait and returns the
// tri-state outcome. Successful publishes are journaled as outbound.
func (a *App) PublishToTopicWithTimeout(ctx context.Context, topic string, payload []byte, timeout time.Duration) mqtt.Status {
	status := a.broker.PublishWithTimeout(topic, payload, timeout)
	if status == mqtt.StatusSuccess {
		a.recordOutbound(ctx, topic, payload)
	}
	return status
}

// SubscribeToTopic creates an additional subscription handle outside the
// configured relay set. The caller owns consumption of the handle.
func (a *App) SubscribeToTopic(topic string) (*pubsub.Subscription, error) {
	return a.broker.Subscribe(topic)
}

// recordOutbound journals and telemeters an outbound message.
func (a *App) recordOutbound(ctx context.Context, topic string, payload []byte) {
	if a.journal != nil {
		if err := a.journal.Record(ctx, topic, journal.Outbound, payload); err != nil {
			a.log.Error("journaling message failed", "topic", topic, "error", err)
		}
	}
	if a.metrics != nil {
		a.metrics.RecordMessage(topic, string(journal.Outbound), len(payload))
	}
}
