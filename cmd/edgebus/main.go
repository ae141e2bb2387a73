// EdgeBus - MQTT Relay Daemon
//
// This is the main entry point for the EdgeBus relay. EdgeBus sits on an
// edge network, subscribes a configured set of MQTT topics, and keeps a
// local journal plus throughput telemetry for the traffic it observes.
// It is designed for unattended operation: automatic broker reconnection,
// bounded delivery buffers, and graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgebus/edgebus-core/internal/app"
	"github.com/edgebus/edgebus-core/internal/infrastructure/config"
	"github.com/edgebus/edgebus-core/internal/infrastructure/logging"
	"github.com/edgebus/edgebus-core/internal/infrastructure/mqtt"
	"github.com/edgebus/edgebus-core/internal/infrastructure/workers"
	"github.com/edgebus/edgebus-core/internal/journal"
	"github.com/edgebus/edgebus-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting EdgeBus",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the message journal (optional)
	var msgJournal *journal.Journal
	if cfg.Journal.Enabled {
		msgJournal, err = journal.Open(ctx, journal.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := msgJournal.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		log.Info("journal opened", "path", cfg.Journal.Path)
	} else {
		log.Info("journal disabled")
	}

	// Connect to InfluxDB telemetry (optional)
	var telemetryClient *telemetry.Client
	if cfg.Telemetry.Enabled {
		telemetryClient, err = telemetry.Connect(cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting to telemetry: %w", err)
		}
		defer func() {
			log.Info("closing telemetry connection")
			if closeErr := telemetryClient.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
		log.Info("telemetry connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)

		telemetryClient.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
	} else {
		log.Info("telemetry disabled")
	}

	// Start the shared delivery worker pool
	pool, err := workers.New(cfg.Workers.PoolSize, log)
	if err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}
	defer func() {
		log.Info("releasing worker pool")
		pool.Release()
	}()
	log.Info("worker pool started", "size", cfg.Workers.PoolSize)

	// Connect to the MQTT broker
	broker, err := mqtt.Connect(cfg.MQTT, pool)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := broker.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	broker.SetLogger(log.With("component", "mqtt"))
	broker.SetSubscriptionBuffer(cfg.Workers.SubscriptionBuffer)
	broker.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	broker.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Verify all connections are healthy
	if err := healthCheck(ctx, broker, msgJournal, telemetryClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Assemble and run the relay; blocks until shutdown signal
	relay := app.New(cfg, log, broker)
	if msgJournal != nil {
		relay.SetJournal(msgJournal)
	}
	if telemetryClient != nil {
		relay.SetMetrics(telemetryClient)
	}

	if err := relay.Run(ctx); err != nil {
		return fmt.Errorf("running relay: %w", err)
	}

	// Deferred Close() calls run in reverse order:
	// 1. MQTT
	// 2. Worker pool
	// 3. Telemetry (if enabled)
	// 4. Journal (if enabled)

	log.Info("EdgeBus stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses EDGEBUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("EDGEBUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - broker: MQTT client to check
//   - msgJournal: Journal to check (may be nil if disabled)
//   - telemetryClient: Telemetry client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, broker *mqtt.Client, msgJournal *journal.Journal, telemetryClient *telemetry.Client) error {
	if err := broker.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if msgJournal != nil {
		if err := msgJournal.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	if telemetryClient != nil {
		if err := telemetryClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}
