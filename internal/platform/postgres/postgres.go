// Package postgres opens the shared database handle and owns the schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS kv_entries (
		key   TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		seq   BIGSERIAL
	)`,
	`CREATE INDEX IF NOT EXISTS kv_entries_seq_idx ON kv_entries (seq)`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id           UUID PRIMARY KEY,
		passport_id  TEXT NOT NULL,
		owner_email  TEXT NOT NULL,
		action       TEXT NOT NULL,
		service      TEXT NOT NULL DEFAULT '',
		details      TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		responded_at TIMESTAMPTZ,
		seq          BIGSERIAL
	)`,
	`CREATE INDEX IF NOT EXISTS approvals_owner_idx ON approvals (owner_email)`,
}

// Migrate creates the tables used by the kv and approval stores.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
