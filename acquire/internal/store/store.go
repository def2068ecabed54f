// Package store is the SQLite run ledger: one row per pipeline run and one
// fetch_log row per acquisition decision (which source served a resource,
// how the attempt failed, how long it took).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the ledger database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the ledger at path with WAL pragmas and applies
// the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewStore wraps an already-opened database. The schema must be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// ApplySchema creates the ledger tables if needed.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}

// NewID returns a time-sortable UUIDv7.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
