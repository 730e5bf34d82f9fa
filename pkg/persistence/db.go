// Package persistence stores run history in a SQLite database under the
// orchestrator's state directory. Every run and every iteration within it
// gets a row, so past sessions can be inspected and resumed sessions can be
// correlated with their branches and commits.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"ace/pkg/logx"
)

// Store wraps the run-history database. It is safe for use from a single
// orchestrator process; SQLite holds the cross-process locks.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the history database at dbPath and
// brings its schema up to date. A nil logger falls back to a stderr-only
// one.
func Open(dbPath string, logger *logx.Logger) (*Store, error) {
	if logger == nil {
		logger = logx.NewLogger("persistence")
	}
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger.Debug("history database open: %s", dbPath)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
