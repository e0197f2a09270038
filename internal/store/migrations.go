package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all tables. Each statement uses IF NOT EXISTS
// for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS resources (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS scenes (
		name        TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		tree        TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_resources_updated_at ON resources(updated_at)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
