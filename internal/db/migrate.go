// Package db provides durable local storage for the sync core.
package db

import "fmt"

// migrate creates the local storage schema. Statements are idempotent
// so reopening an existing database is a no-op.
func (db *DB) migrate() error {
	statements := []string{
		// Offline operation queue: one row per queued mutation, replay
		// order preserved by position. The operation itself is stored as
		// JSON with stable field names so entries survive restarts and
		// schema additions.
		`CREATE TABLE IF NOT EXISTS offline_queue (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			op_id TEXT NOT NULL UNIQUE,
			op_json TEXT NOT NULL
		);`,

		// Session-independent key/value metadata (device identity).
		`CREATE TABLE IF NOT EXISTS sync_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,

		// Local entity snapshots: the device's current view of each
		// synced record.
		`CREATE TABLE IF NOT EXISTS entities (
			table_name TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			snapshot_json TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (table_name, entity_id)
		);`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
