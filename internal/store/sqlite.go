package store

import (
	"database/sql"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tarpai/connect-sync/internal/store/migrations"
	"go.uber.org/zap"
)

// SQLiteStore is the structured, indexed backend.
type SQLiteStore struct {
	db         *sql.DB
	maxRetries int
	logger     *zap.Logger
}

// OpenSQLite opens the database with WAL mode, verifies the connection and
// applies pending migrations. Any failure here is reported to the caller;
// Open translates it into a fallback to the key-value backend.
func OpenSQLite(path string, maxRetries int, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		_ = db.Close()
		return nil, fmt.Errorf("migration up: %w", err)
	}

	return &SQLiteStore{db: db, maxRetries: maxRetries, logger: logger}, nil
}

// Backend reports the active backend for diagnostics display.
func (s *SQLiteStore) Backend() string { return BackendSQLite }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// ClearAll drops every record in every table in one transaction.
func (s *SQLiteStore) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"groups", "messages", "prompts", "categories", "users", "offline_actions", "sync_state"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
