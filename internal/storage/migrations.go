package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS readings (
				id TEXT PRIMARY KEY,
				pond_id TEXT NOT NULL,
				device_id TEXT,
				timestamp_ns INTEGER NOT NULL,
				received_at_ns INTEGER NOT NULL,
				temperature REAL,
				ph REAL,
				dissolved_oxygen REAL,
				turbidity REAL,
				ammonia REAL,
				nitrite REAL,
				nitrate REAL,
				water_level REAL
			);

			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				pond_id TEXT NOT NULL,
				reading_id TEXT NOT NULL,
				source TEXT NOT NULL,
				parameter TEXT NOT NULL,
				value REAL NOT NULL,
				threshold REAL NOT NULL,
				direction TEXT,
				breach TEXT,
				severity TEXT NOT NULL,
				message TEXT NOT NULL,
				score REAL NOT NULL DEFAULT 0,
				created_at_ns INTEGER NOT NULL,
				acknowledged INTEGER NOT NULL DEFAULT 0,
				acknowledged_at_ns INTEGER,
				acknowledged_by TEXT,
				resolved INTEGER NOT NULL DEFAULT 0,
				resolved_at_ns INTEGER,
				resolved_by TEXT,
				notification_sent INTEGER NOT NULL DEFAULT 0
			);
		`,
	},
	{
		Version: 2,
		Name:    "pond_time_indexes",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_readings_pond_time ON readings(pond_id, timestamp_ns);
			CREATE INDEX IF NOT EXISTS idx_alerts_pond_created ON alerts(pond_id, created_at_ns);
			CREATE INDEX IF NOT EXISTS idx_alerts_resolved ON alerts(resolved, created_at_ns);
		`,
	},
}

// runMigrations applies pending migrations, each in its own transaction.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at_ns INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at_ns) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UnixNano(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
