// Package sqlite provides the durable transfer ledger. SQLite keeps the
// at-most-once guarantee intact across process restarts without requiring
// a database server on the automation host.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Schema defines the ledger tables.
const Schema = `
-- Transfer records
-- One row per idempotency key; the ledger is the only writer of status.
CREATE TABLE IF NOT EXISTS transfer_records (
    idempotency_key TEXT PRIMARY KEY,
    status          TEXT NOT NULL,     -- RESERVED / COMMITTED / FAILED / ABANDONED
    source_ref      TEXT NOT NULL,
    destination_ref TEXT NOT NULL,
    amount_minor    INTEGER NOT NULL,  -- integer minor currency units
    reason          TEXT NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transfer_records_status
    ON transfer_records(status, updated_at);
`

// DB wraps the ledger database connection.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the ledger database at path and initializes the
// schema. Pass ":memory:" for an ephemeral database in tests.
func Open(path string) (*DB, error) {
	// busy_timeout covers the daemon's concurrent writers; foreign keys are
	// on for parity with any future related tables.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &DB{DB: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
