package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal configuration constants.
const (
	// dirPermissions is the permission mode for the journal directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the journal file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute
)

// Direction records which way a message crossed the broker connection.
type Direction string

// Message directions.
const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Entry is one journaled message.
type Entry struct {
	ID         int64
	Topic      string
	Direction  Direction
	Payload    []byte
	Bytes      int
	ReceivedAt time.Time
}

// Config contains journal configuration options.
// These map to the journal section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite journal file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging for better concurrent access.
	// Recommended: true (allows concurrent reads during writes).
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	// Prevents "database is locked" errors under contention.
	BusyTimeout int
}

// Journal is the SQLite-backed message audit log.
//
// It records every message the relay moves through the broker, for
// after-the-fact inspection. It is an audit trail, not a delivery
// guarantee: rows are written after the fact and pruned by retention.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates a journal connection with the specified configuration.
//
// It performs the following setup:
//  1. Creates the journal directory if it doesn't exist
//  2. Opens the database file (creates if not present)
//  3. Configures WAL mode and busy timeout
//  4. Sets appropriate file permissions (0600)
//  5. Verifies the connection with a ping
//  6. Applies any pending schema migrations
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - cfg: Journal configuration
//
// Returns:
//   - *Journal: Ready journal
//   - error: If connection, configuration, or migration fails
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	// Build connection string with pragmas
	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)

	// Add WAL mode if enabled
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// SQLite works best with a single writer, but multiple readers
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	j := &Journal{
		db:   sqlDB,
		path: cfg.Path,
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	// Set file permissions (owner read/write only)
	// Ignore error - file might not exist yet on first run, will be set after first write
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // Intentional: first run creates file later

	if err := j.migrate(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}

	return j, nil
}

// Close closes the journal connection gracefully.
// It should be called when the application shuts down.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the journal file.
func (j *Journal) Path() string {
	return j.path
}

// HealthCheck verifies the journal is accessible and functioning.
func (j *Journal) HealthCheck(ctx context.Context) error {
	var result int
	err := j.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("journal health check failed: %w", err)
	}
	return nil
}

// Record appends one message to the journal.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - topic: The topic the message was published or received on
//   - direction: Inbound or Outbound
//   - payload: The raw message payload
//
// Returns:
//   - error: If the insert fails
func (j *Journal) Record(ctx context.Context, topic string, direction Direction, payload []byte) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO messages (topic, direction, payload, bytes, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		topic, string(direction), payload, len(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording message: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limit: Maximum number of entries to return
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, topic, direction, payload, bytes, received_at
		 FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var entries []Entry
	for rows.Next() {
		var e Entry
		var direction string
		if err := rows.Scan(&e.ID, &e.Topic, &direction, &e.Payload, &e.Bytes, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		e.Direction = Direction(direction)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return entries, nil
}

// CountByTopic returns the number of journaled messages for a topic.
func (j *Journal) CountByTopic(ctx context.Context, topic string) (int64, error) {
	var count int64
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE topic = ?`, topic).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// Prune deletes entries older than the retention window.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - retention: Entries older than now-retention are removed
//
// Returns:
//   - int64: Number of rows removed
//   - error: If the delete fails
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := j.db.ExecContext(ctx,
		`DELETE FROM messages WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading pruned row count: %w", err)
	}
	return removed, nil
}
