package storage

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS usage_history (
		id                 TEXT PRIMARY KEY,
		provider           TEXT NOT NULL,
		primary_used       REAL,
		primary_reset_at   DATETIME,
		secondary_used     REAL,
		secondary_reset_at DATETIME,
		fetched_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_provider ON usage_history(provider);
	CREATE INDEX IF NOT EXISTS idx_history_fetched_at ON usage_history(fetched_at);

	CREATE TABLE IF NOT EXISTS token_daily (
		provider     TEXT NOT NULL,
		date         TEXT NOT NULL,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd     REAL NOT NULL DEFAULT 0.0,
		PRIMARY KEY (provider, date)
	);

	CREATE TABLE IF NOT EXISTS notification_anchors (
		provider TEXT NOT NULL,
		window   TEXT NOT NULL,
		level    TEXT NOT NULL,
		percent  REAL NOT NULL,
		reset_at DATETIME NOT NULL,
		PRIMARY KEY (provider, window, level)
	);

	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
