// Package storage provides the relational store over SQLite: the persisted
// schema, the import engine's write paths, and the query service's read
// projections.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// schemaVersion is recorded in schema_meta so future structural migrations
// can be detected and applied idempotently on startup
const schemaVersion = 1

// Sentinel errors surfaced by the query service
var (
	// ErrNotFound indicates a referenced stage/session/result does not exist
	ErrNotFound = errors.New("not found")
	// ErrNotManualResult indicates a delete targeted a parsed result row
	ErrNotManualResult = errors.New("not a manual entry")
)

// IsConstraintViolation reports whether an error is a unique-key violation
// from the sqlite driver
func IsConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the Go sqlite driver parses it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchemaVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the version recorded in schema_meta
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&raw)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

// ensureSchemaVersion records the schema version on first open and refuses
// databases written by a newer binary. Older versions are the hook for
// future structural migrations.
func (s *Store) ensureSchemaVersion() error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(schemaVersion))
		if err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	stored, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", raw, err)
	}
	if stored > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", stored, schemaVersion)
	}
	if stored < schemaVersion {
		// Migrations run here once there is more than one version. The
		// schema itself is applied with IF NOT EXISTS, so re-running the
		// embedded DDL is already idempotent.
		_, err = s.db.Exec(`UPDATE schema_meta SET value = ? WHERE key = 'schema_version'`,
			strconv.Itoa(schemaVersion))
		if err != nil {
			return fmt.Errorf("updating schema version: %w", err)
		}
	}
	return nil
}
