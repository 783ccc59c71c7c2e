package credstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"irisctl/pkg/logging"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// SQLiteStore keeps credentials in a SQLite database.
type SQLiteStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore creates a store backed by the database file at path.
// The file and its parent directory are created by Ready.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{dsn: path}
}

// Ready opens the database and applies pending migrations.
func (s *SQLiteStore) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if dir := filepath.Dir(s.dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open credential database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate credential database: %w", err)
	}

	s.db = db
	return nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrNotReady
	}
	return s.db, nil
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}

	var value string
	err = db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get credential[%s]: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		logging.Audit("credential_store_failed", "credential storage failed",
			"key", key,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to set credential[%s]: %w", key, err)
	}

	logging.Audit("credential_stored", "credential stored", "key", key, "backend", "sqlite")
	return nil
}

// Remove deletes key.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete credential[%s]: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Audit("credential_removed", "credential removed", "key", key, "backend", "sqlite")
	}
	return nil
}

// Clear removes every stored value.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM credentials`)
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Audit("credentials_cleared", "all credentials cleared", "count", n, "backend", "sqlite")
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// gooseLogger routes migration output into the debug log instead of stdout.
type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logging.Error("CredStore", nil, "migration: "+format, v...)
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logging.Debug("CredStore", "migration: "+format, v...)
}

var _ Store = (*SQLiteStore)(nil)
