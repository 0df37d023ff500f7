// Package storage persists agent state in a local SQLite database: the
// settings key/value table, printer provenance and print history.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Logger interface for storage operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nullLogger struct{}

func (nullLogger) Error(msg string, context ...interface{}) {}
func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agent_config (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS printer_provenance (
		name TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		uri TEXT,
		driver TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS print_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT,
		printer TEXT NOT NULL,
		filename TEXT,
		ext TEXT,
		copies INTEGER DEFAULT 1,
		success BOOLEAN NOT NULL,
		message TEXT,
		job_id TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_print_history_created ON print_history(created_at)`,
}

// Store is the agent's SQLite database.
type Store struct {
	db     *sql.DB
	path   string
	logger Logger
}

// Open opens (creating if needed) the database at path. An empty path
// uses an in-memory database. A file whose schema cannot be initialized
// is moved aside and replaced by a fresh one.
func Open(path string, logger Logger) (*Store, error) {
	if logger == nil {
		logger = nullLogger{}
	}
	s, err := open(path, logger)
	if err == nil || path == "" || path == ":memory:" {
		return s, err
	}

	logger.Error("Database initialization failed, rotating database", "error", err, "path", path)
	backup, rotateErr := RotateDatabase(path)
	if rotateErr != nil {
		return nil, fmt.Errorf("initialize database: %w (rotation failed: %v)", err, rotateErr)
	}
	logger.Warn("Database rotated, starting fresh", "backup", backup)
	return open(path, logger)
}

func open(path string, logger Logger) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: dsn, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, len(migrations))
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	if current < len(migrations) {
		s.logger.Debug("Database schema migrated", "from", current, "to", len(migrations))
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
