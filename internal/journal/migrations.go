package journal

import (
	"context"
	"fmt"
)

// migrations is the ordered list of schema changes. The slice index plus
// one is the schema version stored in SQLite's user_version pragma.
//
// Append only - never edit or reorder an entry that has shipped.
var migrations = []string{
	`CREATE TABLE messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		topic       TEXT NOT NULL,
		direction   TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
		payload     BLOB NOT NULL,
		bytes       INTEGER NOT NULL,
		received_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX idx_messages_topic ON messages (topic)`,
	`CREATE INDEX idx_messages_received_at ON messages (received_at)`,
}

// migrate applies pending schema migrations, each in its own transaction.
//
// # Atomicity
//
// If migration N fails, migrations 1 to N-1 remain committed, N is rolled
// back, and N+1 onwards are not attempted. Re-running after fixing the
// issue continues from N. This per-migration atomicity matches SQLite's
// single-writer model and makes the failing step obvious.
func (j *Journal) migrate(ctx context.Context) error {
	var version int
	if err := j.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if version > len(migrations) {
		return fmt.Errorf("journal schema version %d is newer than this binary supports (%d)",
			version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		target := i + 1

		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting migration %d: %w", target, err)
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback() //nolint:errcheck // Rollback error is secondary
			return fmt.Errorf("applying migration %d: %w", target, err)
		}

		// PRAGMA cannot be parameterised; target is an int from the loop.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
			tx.Rollback() //nolint:errcheck // Rollback error is secondary
			return fmt.Errorf("updating schema version to %d: %w", target, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", target, err)
		}
	}

	return nil
}

// SchemaVersion returns the journal's current schema version.
func (j *Journal) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := j.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}
