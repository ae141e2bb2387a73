package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgebus/edgebus-core/internal/infrastructure/config"
	"github.com/edgebus/edgebus-core/internal/infrastructure/logging"
	"github.com/edgebus/edgebus-core/internal/infrastructure/mqtt"
	"github.com/edgebus/edgebus-core/internal/journal"
	"github.com/edgebus/edgebus-core/internal/pubsub"
)

// fakeBroker implements Broker with in-memory subscription handles.
type fakeBroker struct {
	mu            sync.Mutex
	subs          map[string]*pubsub.Subscription
	unsubscribed  []string
	published     []string
	subscribeErr  error
	publishErr    error
	publishStatus mqtt.Status
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subs:          make(map[string]*pubsub.Subscription),
		publishStatus: mqtt.StatusSuccess,
	}
}

func (b *fakeBroker) Subscribe(topic string) (*pubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	sub := pubsub.NewSubscription(topic, 8)
	b.subs[topic] = sub
	return sub, nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topic)
	if sub, ok := b.subs[topic]; ok {
		sub.Close()
		delete(b.subs, topic)
	}
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, topic)
	return nil
}

func (b *fakeBroker) PublishWithTimeout(topic string, payload []byte, timeout time.Duration) mqtt.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishStatus == mqtt.StatusSuccess {
		b.published = append(b.published, topic)
	}
	return b.publishStatus
}

func (b *fakeBroker) IsConnected() bool { return true }

func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	sub := b.subs[topic]
	b.mu.Unlock()
	if sub != nil {
		sub.Deliver(payload)
	}
}

func (b *fakeBroker) unsubscribedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.unsubscribed...)
}

// fakeRecorder captures journal entries.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
	pruned  int
	err     error
}

func (r *fakeRecorder) Record(_ context.Context, topic string, direction journal.Direction, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, journal.Entry{
		Topic:     topic,
		Direction: direction,
		Payload:   append([]byte(nil), payload...),
		Bytes:     len(payload),
	})
	return nil
}

func (r *fakeRecorder) Prune(_ context.Context, _ time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned++
	return 0, nil
}

func (r *fakeRecorder) recorded() []journal.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]journal.Entry(nil), r.entries...)
}

// fakeMetrics captures telemetry calls.
type fakeMetrics struct {
	mu       sync.Mutex
	messages []string
	drops    []string
}

func (m *fakeMetrics) RecordMessage(topic string, direction string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, direction+":"+topic)
}

func (m *fakeMetrics) RecordDrop(topic string, _ uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops = append(m.drops, topic)
}

func (m *fakeMetrics) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func testAppConfig(topics ...string) *config.Config {
	cfg := &config.Config{}
	cfg.Relay.Topics = topics
	return cfg
}

func testLogger() *logging.Logger {
	return logging.Default()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ====== Lifecycle Tests ======

func TestRun_SubscribesConfiguredTopics(t *testing.T) {
	broker := newFakeBroker()
	a := New(testAppConfig("sensors/+/temperature", "events/door"), testLogger(), broker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.subs) == 2
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	unsubs := broker.unsubscribedTopics()
	if len(unsubs) != 2 {
		t.Errorf("expected 2 unsubscribes on shutdown, got %d", len(unsubs))
	}
}

func TestRun_SubscribeFailureAborts(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = errors.New("broker down")
	a := New(testAppConfig("events/door"), testLogger(), broker)

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error when subscribe fails")
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	broker := newFakeBroker()
	a := New(testAppConfig(), testLogger(), broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.running
	})

	if err := a.Run(ctx); err == nil {
		t.Error("expected error from second Run")
	}

	cancel()
	<-done
}

func TestRun_StartHookFailureAborts(t *testing.T) {
	broker := newFakeBroker()
	a := New(testAppConfig("events/door"), testLogger(), broker)
	a.OnStart(func(context.Context) error { return errors.New("hook failed") })

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error when start hook fails")
	}

	if len(broker.unsubscribedTopics()) != 1 {
		t.Error("expected subscription cleanup after failed start hook")
	}
}

func TestRun_StopHookInvoked(t *testing.T) {
	broker := newFakeBroker()
	a := New(testAppConfig(), testLogger(), broker)

	var stopped bool
	var mu sync.Mutex
	a.OnStop(func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.running
	})

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if !stopped {
		t.Error("stop hook was not invoked")
	}
}

// ====== Consume Tests ======

func TestRun_JournalsAndTelemetersDeliveries(t *testing.T) {
	broker := newFakeBroker()
	rec := &fakeRecorder{}
	met := &fakeMetrics{}

	a := New(testAppConfig("events/door"), testLogger(), broker)
	a.SetJournal(rec)
	a.SetMetrics(met)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.subs) == 1
	})

	broker.deliver("events/door", []byte("open"))
	broker.deliver("events/door", []byte("closed"))

	waitFor(t, func() bool { return len(rec.recorded()) == 2 })

	cancel()
	<-done

	entries := rec.recorded()
	if entries[0].Topic != "events/door" || entries[0].Direction != journal.Inbound {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if string(entries[0].Payload) != "open" || string(entries[1].Payload) != "closed" {
		t.Errorf("unexpected payloads: %q, %q", entries[0].Payload, entries[1].Payload)
	}

	msgs := met.recorded()
	if len(msgs) != 2 || msgs[0] != "inbound:events/door" {
		t.Errorf("unexpected telemetry: %v", msgs)
	}
}

func TestRun_JournalFailureDoesNotStopConsume(t *testing.T) {
	broker := newFakeBroker()
	rec := &fakeRecorder{err: errors.New("disk full")}

	a := New(testAppConfig("events/door"), testLogger(), broker)
	a.SetJournal(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.subs) == 1
	})

	broker.deliver("events/door", []byte("one"))
	broker.deliver("events/door", []byte("two"))

	// The consumer must keep draining despite journal failures.
	waitFor(t, func() bool {
		broker.mu.Lock()
		sub := broker.subs["events/door"]
		broker.mu.Unlock()
		return sub != nil && len(sub.C()) == 0
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

// ====== Publish Tests ======

func TestPublishToTopic_JournalsOutbound(t *testing.T) {
	broker := newFakeBroker()
	rec := &fakeRecorder{}

	a := New(testAppConfig(), testLogger(), broker)
	a.SetJournal(rec)

	if err := a.PublishToTopic(context.Background(), "commands/light", []byte("on")); err != nil {
		t.Fatalf("PublishToTopic failed: %v", err)
	}

	entries := rec.recorded()
	if len(entries) != 1 || entries[0].Direction != journal.Outbound {
		t.Errorf("expected one outbound entry, got %+v", entries)
	}
}

func TestPublishToTopic_ErrorSkipsJournal(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = errors.New("not connected")
	rec := &fakeRecorder{}

	a := New(testAppConfig(), testLogger(), broker)
	a.SetJournal(rec)

	if err := a.PublishToTopic(context.Background(), "commands/light", []byte("on")); err == nil {
		t.Fatal("expected publish error")
	}
	if len(rec.recorded()) != 0 {
		t.Error("failed publish must not be journaled")
	}
}

func TestPublishToTopicWithTimeout_StatusPassthrough(t *testing.T) {
	broker := newFakeBroker()
	broker.publishStatus = mqtt.StatusTimeout
	rec := &fakeRecorder{}

	a := New(testAppConfig(), testLogger(), broker)
	a.SetJournal(rec)

	status := a.PublishToTopicWithTimeout(context.Background(), "commands/light", []byte("on"), time.Second)
	if status != mqtt.StatusTimeout {
		t.Errorf("expected StatusTimeout, got %v", status)
	}
	if len(rec.recorded()) != 0 {
		t.Error("timed-out publish must not be journaled")
	}
}

func TestSubscribeToTopic_Delegates(t *testing.T) {
	broker := newFakeBroker()
	a := New(testAppConfig(), testLogger(), broker)

	sub, err := a.SubscribeToTopic("extra/topic")
	if err != nil {
		t.Fatalf("SubscribeToTopic failed: %v", err)
	}
	if sub.Topic() != "extra/topic" {
		t.Errorf("unexpected topic %q", sub.Topic())
	}
}
