package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration
// support.
const CurrentSchemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	branch      TEXT NOT NULL DEFAULT '',
	goal        TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	outcome     TEXT NOT NULL DEFAULT 'running',
	iterations  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS iterations (
	run_id           TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq              INTEGER NOT NULL,
	task_id          TEXT NOT NULL,
	planner_session  TEXT NOT NULL DEFAULT '',
	executor_session TEXT NOT NULL DEFAULT '',
	reviewer_session TEXT NOT NULL DEFAULT '',
	commit_hash      TEXT NOT NULL DEFAULT '',
	outcome          TEXT NOT NULL,
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	recorded_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_iterations_task ON iterations(task_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// migrate brings the schema to CurrentSchemaVersion. A fresh database is
// created directly at the current version.
func migrate(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version == 0 {
		return createSchema(db)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}

	// Future migrations go here, version by version.
	return fmt.Errorf("no migration path from schema version %d", version)
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := setSchemaVersion(db, CurrentSchemaVersion); err != nil {
		return err
	}
	return nil
}

// schemaVersion returns the stored version, or 0 for an empty database.
func schemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to probe schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema_version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("failed to clear schema_version: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}
