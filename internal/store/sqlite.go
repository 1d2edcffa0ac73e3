// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Default embedded backend with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serialises writers, which keeps claim transactions
	// from failing with SQLITE_BUSY and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		sqlStore: sqlStore{
			db:              db,
			logger:          logger,
			bind:            func(q string) string { return q },
			uniqueViolation: sqliteUniqueViolation,
		},
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS owners (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT UNIQUE,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			id                     TEXT PRIMARY KEY,
			name                   TEXT NOT NULL UNIQUE,
			description            TEXT NOT NULL DEFAULT '',
			secret_ciphertext      TEXT NOT NULL,
			lookup_digest          TEXT NOT NULL UNIQUE,
			status                 TEXT NOT NULL,
			claim_token            TEXT UNIQUE,
			claim_token_expires_at TEXT,
			spent_claim_token      TEXT UNIQUE,
			owner_id               TEXT REFERENCES owners(id),
			claimed_at             TEXT,
			created_at             TEXT NOT NULL,
			updated_at             TEXT NOT NULL,

			CHECK (status IN ('pending_claim', 'claimed')),
			CHECK (status = 'pending_claim' OR (owner_id IS NOT NULL AND claimed_at IS NOT NULL AND claim_token IS NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_id);

		CREATE TABLE IF NOT EXISTS audit_events (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			agent_id    TEXT,
			owner_id    TEXT,
			ip_address  TEXT NOT NULL DEFAULT '',
			user_agent  TEXT NOT NULL DEFAULT '',
			detail_json TEXT,
			created_at  TEXT NOT NULL,

			CHECK (action IN ('agent_register', 'claim_view', 'claim_confirm'))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent_id);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// sqliteUniqueViolation extracts "table.column" from a SQLite UNIQUE error.
func sqliteUniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	const marker = "UNIQUE constraint failed: "
	msg := err.Error()
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(msg[idx+len(marker):]), true
}
