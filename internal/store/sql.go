// ABOUTME: Dialect-independent SQL implementation shared by the SQLite and PostgreSQL stores
// ABOUTME: Agent/owner CRUD and the conditional claim transition live here

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sqlStore carries the queries common to both backends. Queries are written
// with ? placeholders and passed through bind before execution.
type sqlStore struct {
	db     *sql.DB
	logger *slog.Logger

	// bind rewrites ? placeholders for the driver
	bind func(query string) string

	// uniqueViolation reports the constraint or column named by a
	// uniqueness error, if err is one
	uniqueViolation func(err error) (string, bool)
}

const agentColumns = `id, name, description, secret_ciphertext, lookup_digest, status,
	claim_token, claim_token_expires_at, spent_claim_token, owner_id, claimed_at,
	created_at, updated_at`

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAgent inserts a new agent.
// Returns ErrNameTaken if the name exists and ErrDuplicateDigest if the
// lookup digest exists.
func (s *sqlStore) CreateAgent(ctx context.Context, a *Agent) error {
	query := `INSERT INTO agents (` + agentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.bind(query),
		a.ID,
		a.Name,
		a.Description,
		a.SecretCiphertext,
		a.LookupDigest,
		string(a.Status),
		a.ClaimToken,
		formatNullTime(a.ClaimTokenExpiresAt),
		a.SpentClaimToken,
		a.OwnerID,
		formatNullTime(a.ClaimedAt),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		if constraint, ok := s.uniqueViolation(err); ok {
			switch {
			case strings.Contains(constraint, "lookup_digest"):
				return ErrDuplicateDigest
			case strings.Contains(constraint, "name"):
				return ErrNameTaken
			}
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "agent_id", a.ID, "name", a.Name)
	return nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *sqlStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.getAgentWhere(ctx, "id", id)
}

// GetAgentByName retrieves an agent by its normalized name.
func (s *sqlStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.getAgentWhere(ctx, "name", strings.ToLower(name))
}

// GetAgentByLookupDigest retrieves the agent indexed by a bearer secret digest.
func (s *sqlStore) GetAgentByLookupDigest(ctx context.Context, digest string) (*Agent, error) {
	return s.getAgentWhere(ctx, "lookup_digest", digest)
}

// GetAgentByClaimToken retrieves the agent a claim token digest belongs to.
// A pending agent matches on claim_token; once claimed, only the spent
// column still carries the digest.
func (s *sqlStore) GetAgentByClaimToken(ctx context.Context, tokenDigest string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE claim_token = ? OR spent_claim_token = ?`

	agent, err := scanAgent(s.db.QueryRowContext(ctx, s.bind(query), tokenDigest, tokenDigest))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent by claim token: %w", err)
	}
	return agent, nil
}

// getAgentWhere runs a single-row lookup on one of the indexed agent columns.
// column is always a compile-time constant.
func (s *sqlStore) getAgentWhere(ctx context.Context, column, value string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE ` + column + ` = ?`

	agent, err := scanAgent(s.db.QueryRowContext(ctx, s.bind(query), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent by %s: %w", column, err)
	}
	return agent, nil
}

// scanAgent scans a row into an Agent.
func scanAgent(scanner interface{ Scan(dest ...any) error }) (*Agent, error) {
	var a Agent
	var status, createdAt, updatedAt string
	var claimToken, expiresAt, spentToken, ownerID, claimedAt sql.NullString

	if err := scanner.Scan(
		&a.ID,
		&a.Name,
		&a.Description,
		&a.SecretCiphertext,
		&a.LookupDigest,
		&status,
		&claimToken,
		&expiresAt,
		&spentToken,
		&ownerID,
		&claimedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	a.Status = AgentStatus(status)
	if claimToken.Valid {
		a.ClaimToken = &claimToken.String
	}
	if spentToken.Valid {
		a.SpentClaimToken = &spentToken.String
	}
	if ownerID.Valid {
		a.OwnerID = &ownerID.String
	}

	var err error
	if a.ClaimTokenExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing claim_token_expires_at: %w", err)
	}
	if a.ClaimedAt, err = parseNullTime(claimedAt); err != nil {
		return nil, fmt.Errorf("parsing claimed_at: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

// ClaimAgent binds an owner to a pending agent. The owner upsert and the
// status transition share one transaction, and the UPDATE is conditioned on
// the agent still being pending with the same unexpired token.
func (s *sqlStore) ClaimAgent(ctx context.Context, p ClaimParams) (*Agent, *Owner, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	owner, err := s.resolveOwnerTx(ctx, tx, p)
	if err != nil {
		return nil, nil, err
	}

	now := formatTime(p.ClaimedAt)
	query := `
		UPDATE agents
		SET status = ?, owner_id = ?, claimed_at = ?, spent_claim_token = claim_token,
		    claim_token = NULL, claim_token_expires_at = NULL, updated_at = ?
		WHERE id = ?
		  AND status = ?
		  AND claim_token = ?
		  AND claim_token_expires_at >= ?
	`
	result, err := tx.ExecContext(ctx, s.bind(query),
		string(AgentStatusClaimed), owner.ID, now, now,
		p.AgentID, string(AgentStatusPendingClaim), p.ClaimToken, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("claiming agent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Lost the race or the window closed. Drop the owner row with it.
		_ = tx.Rollback()
		return nil, nil, s.classifyFailedClaim(ctx, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing claim: %w", err)
	}

	agent, err := s.GetAgent(ctx, p.AgentID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("agent claimed", "agent_id", agent.ID, "name", agent.Name, "owner_id", owner.ID)
	return agent, owner, nil
}

// resolveOwnerTx returns the owner for a claim. With an email the owner is
// upserted on the unique email index; without one a fresh owner is created.
func (s *sqlStore) resolveOwnerTx(ctx context.Context, tx *sql.Tx, p ClaimParams) (*Owner, error) {
	owner := &Owner{
		ID:        uuid.New().String(),
		Name:      p.OwnerName,
		CreatedAt: p.ClaimedAt.UTC().Truncate(time.Second),
	}

	if p.OwnerEmail == "" {
		query := `INSERT INTO owners (id, name, email, created_at) VALUES (?, ?, NULL, ?)`
		if _, err := tx.ExecContext(ctx, s.bind(query), owner.ID, owner.Name, formatTime(owner.CreatedAt)); err != nil {
			return nil, fmt.Errorf("inserting owner: %w", err)
		}
		return owner, nil
	}

	email := strings.ToLower(p.OwnerEmail)
	query := `
		INSERT INTO owners (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET email = excluded.email
		RETURNING id, name, email, created_at
	`
	row := tx.QueryRowContext(ctx, s.bind(query), owner.ID, owner.Name, email, formatTime(owner.CreatedAt))
	got, err := scanOwner(row)
	if err != nil {
		return nil, fmt.Errorf("upserting owner: %w", err)
	}
	return got, nil
}

// classifyFailedClaim explains why the conditional UPDATE matched no row.
func (s *sqlStore) classifyFailedClaim(ctx context.Context, p ClaimParams) error {
	agent, err := s.GetAgent(ctx, p.AgentID)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if agent.IsClaimed() {
		return ErrAlreadyClaimed
	}
	if agent.ClaimExpired(p.ClaimedAt) {
		return ErrClaimExpired
	}
	// Pending but the token no longer matches
	return ErrNotFound
}

// CountAgentsByStatus groups agents by claim status.
func (s *sqlStore) CountAgentsByStatus(ctx context.Context) (map[AgentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting agents: %w", err)
	}
	defer rows.Close()

	counts := map[AgentStatus]int{
		AgentStatusPendingClaim: 0,
		AgentStatusClaimed:      0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning agent count: %w", err)
		}
		counts[AgentStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent counts: %w", err)
	}
	return counts, nil
}

// GetOwner retrieves an owner by ID.
func (s *sqlStore) GetOwner(ctx context.Context, id string) (*Owner, error) {
	return s.getOwnerWhere(ctx, "id", id)
}

// GetOwnerByEmail retrieves an owner by email, case-insensitively.
func (s *sqlStore) GetOwnerByEmail(ctx context.Context, email string) (*Owner, error) {
	return s.getOwnerWhere(ctx, "email", strings.ToLower(email))
}

func (s *sqlStore) getOwnerWhere(ctx context.Context, column, value string) (*Owner, error) {
	query := `SELECT id, name, email, created_at FROM owners WHERE ` + column + ` = ?`

	owner, err := scanOwner(s.db.QueryRowContext(ctx, s.bind(query), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying owner by %s: %w", column, err)
	}
	return owner, nil
}

// CountOwners returns the number of owners.
func (s *sqlStore) CountOwners(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM owners`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting owners: %w", err)
	}
	return n, nil
}

func scanOwner(scanner interface{ Scan(dest ...any) error }) (*Owner, error) {
	var o Owner
	var email sql.NullString
	var createdAt string

	if err := scanner.Scan(&o.ID, &o.Name, &email, &createdAt); err != nil {
		return nil, err
	}
	if email.Valid {
		o.Email = &email.String
	}
	var err error
	if o.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &o, nil
}

// formatTime renders a timestamp as fixed-width UTC RFC3339 text so that
// string comparison in SQL matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
