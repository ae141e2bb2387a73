package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for edgebus.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	App       AppConfig       `yaml:"app"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Workers   WorkersConfig   `yaml:"workers"`
	Relay     RelayConfig     `yaml:"relay"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig contains instance-level identification.
type AppConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// AuthMode selects how the client authenticates against the broker.
//
// Exactly one mode is active per client instance; it is chosen at
// construction time and immutable afterwards.
type AuthMode string

// Supported authentication modes.
const (
	// AuthNone connects anonymously. Local development only.
	AuthNone AuthMode = "none"

	// AuthUserPass authenticates with username and password.
	AuthUserPass AuthMode = "userpass"

	// AuthToken authenticates with a bearer token carried in the
	// MQTT username field (broker convention, e.g. cloud gateways).
	AuthToken AuthMode = "token"

	// AuthMTLS authenticates with a client certificate (mutual TLS).
	AuthMTLS AuthMode = "mtls"
)

// MQTTAuthConfig contains MQTT authentication credentials.
// Fields are interpreted according to Mode; unused fields are ignored.
type MQTTAuthConfig struct {
	Mode     AuthMode `yaml:"mode"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	Token    string   `yaml:"token"`

	// mTLS certificate material. CAFile is the trust store, CertFile the
	// client certificate chain, KeyFile the client private key.
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// WorkersConfig contains delivery worker pool settings.
type WorkersConfig struct {
	// PoolSize is the number of goroutines in the shared delivery pool.
	PoolSize int `yaml:"pool_size"`

	// SubscriptionBuffer is the per-subscription delivery channel depth.
	// When the buffer is full the oldest delivery is dropped.
	SubscriptionBuffer int `yaml:"subscription_buffer"`
}

// RelayConfig contains the topics the relay daemon subscribes to.
type RelayConfig struct {
	Topics []string `yaml:"topics"`
}

// JournalConfig contains SQLite message journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays controls pruning of old journal rows. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// TelemetryConfig contains InfluxDB throughput telemetry settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// When Path is set, log output is written to a rotating file instead of
// stdout/stderr.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EDGEBUS_SECTION_KEY
// For example: EDGEBUS_MQTT_HOST, EDGEBUS_JOURNAL_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// A broker client ID must be unique per connection; derive one when
	// the operator has not pinned it in config.
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = generateClientID()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			ID:   "edgebus-001",
			Name: "edgebus",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			Auth: MQTTAuthConfig{
				Mode: AuthNone,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Workers: WorkersConfig{
			PoolSize:           8,
			SubscriptionBuffer: 64,
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        "./data/edgebus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// generateClientID creates a unique broker client identifier.
func generateClientID() string {
	return "edgebus-" + uuid.NewString()
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EDGEBUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("EDGEBUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EDGEBUS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("EDGEBUS_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("EDGEBUS_MQTT_AUTH_MODE"); v != "" {
		cfg.MQTT.Auth.Mode = AuthMode(v)
	}
	if v := os.Getenv("EDGEBUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EDGEBUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("EDGEBUS_MQTT_TOKEN"); v != "" {
		cfg.MQTT.Auth.Token = v
	}

	// Journal
	if v := os.Getenv("EDGEBUS_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// Telemetry
	if v := os.Getenv("EDGEBUS_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// App validation
	if c.App.ID == "" {
		errs = append(errs, "app.id is required")
	}

	// Broker validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Auth validation - credentials required by the selected mode must be present.
	switch c.MQTT.Auth.Mode {
	case AuthNone:
	case AuthUserPass:
		if c.MQTT.Auth.Username == "" {
			errs = append(errs, "mqtt.auth.username is required for userpass mode")
		}
	case AuthToken:
		if c.MQTT.Auth.Token == "" {
			errs = append(errs, "mqtt.auth.token is required for token mode (set EDGEBUS_MQTT_TOKEN)")
		}
	case AuthMTLS:
		if c.MQTT.Auth.CAFile == "" || c.MQTT.Auth.CertFile == "" || c.MQTT.Auth.KeyFile == "" {
			errs = append(errs, "mqtt.auth.ca_file, cert_file and key_file are required for mtls mode")
		}
		if !c.MQTT.Broker.TLS {
			errs = append(errs, "mqtt.broker.tls must be true for mtls mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("mqtt.auth.mode %q is not one of none, userpass, token, mtls", c.MQTT.Auth.Mode))
	}

	// Workers validation
	if c.Workers.PoolSize < 1 {
		errs = append(errs, "workers.pool_size must be at least 1")
	}
	if c.Workers.SubscriptionBuffer < 1 {
		errs = append(errs, "workers.subscription_buffer must be at least 1")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}

	// Telemetry validation
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry is enabled (set EDGEBUS_TELEMETRY_TOKEN)")
		}
		if c.Telemetry.BatchSize < 1 {
			errs = append(errs, "telemetry.batch_size must be at least 1")
		}
		if c.Telemetry.FlushInterval < 1 {
			errs = append(errs, "telemetry.flush_interval must be at least 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectInitialDelay returns the initial reconnect delay as a Duration.
func (c *MQTTConfig) ReconnectInitialDelay() time.Duration {
	return time.Duration(c.Reconnect.InitialDelay) * time.Second
}

// ReconnectMaxDelay returns the maximum reconnect delay as a Duration.
func (c *MQTTConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelay) * time.Second
}
