// ABOUTME: PostgreSQL implementation of the Store interface via pgx's database/sql driver
// ABOUTME: Shares query code with SQLite; only connection setup, schema, and error mapping differ

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns a PostgresConfig with sensible pool defaults.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore connects to PostgreSQL and creates the schema if needed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		sqlStore: sqlStore{
			db:              db,
			logger:          logger,
			bind:            rebindDollar,
			uniqueViolation: postgresUniqueViolation,
		},
	}

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("connected to PostgreSQL database")
	return s, nil
}

// createSchema mirrors the SQLite schema. Timestamps stay TEXT so both
// backends scan and compare them identically.
func (s *PostgresStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
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
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_id)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			agent_id    TEXT,
			owner_id    TEXT,
			ip_address  TEXT NOT NULL DEFAULT '',
			user_agent  TEXT NOT NULL DEFAULT '',
			detail_json TEXT,
			created_at  TEXT NOT NULL,

			CHECK (action IN ('agent_register', 'claim_view', 'claim_confirm'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_events(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.logger.Info("closing PostgreSQL store")
	return s.db.Close()
}

// rebindDollar rewrites ? placeholders to $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// postgresUniqueViolation returns the constraint name of a 23505 error,
// e.g. "agents_name_key".
func postgresUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}
