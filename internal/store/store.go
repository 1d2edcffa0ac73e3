// ABOUTME: Store interfaces and data types for aiquan persistence
// ABOUTME: Defines Agent, Owner, AuditEvent and the errors returned by every backend

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrNameTaken is returned when an agent name is already registered
	ErrNameTaken = errors.New("agent name already taken")

	// ErrDuplicateDigest is returned when a lookup digest is already indexed
	ErrDuplicateDigest = errors.New("lookup digest already exists")

	// ErrAlreadyClaimed is returned when a claim targets an agent that is no longer pending
	ErrAlreadyClaimed = errors.New("agent already claimed")

	// ErrClaimExpired is returned when a claim is attempted after the token's expiry
	ErrClaimExpired = errors.New("claim token expired")
)

// AgentStatus is the claim state of an agent. It only moves forward.
type AgentStatus string

const (
	AgentStatusPendingClaim AgentStatus = "pending_claim"
	AgentStatusClaimed      AgentStatus = "claimed"
)

// Agent is a registered agent identity.
type Agent struct {
	ID               string
	Name             string // lowercase, unique
	Description      string
	SecretCiphertext string // base64(nonce|tag|ciphertext), never plaintext
	LookupDigest     string // keyed digest of the bearer secret, unique
	Status           AgentStatus

	// ClaimToken holds the keyed digest of the claim token while pending.
	// Both claim fields are nil once the agent is claimed.
	ClaimToken          *string
	ClaimTokenExpiresAt *time.Time

	// SpentClaimToken is the digest of the token that claimed the agent.
	// It lets a consumed token resolve to an "already claimed" answer
	// without ever matching a pending agent again.
	SpentClaimToken *string

	OwnerID   *string
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClaimed reports whether the agent has been bound to an owner.
func (a *Agent) IsClaimed() bool {
	return a.Status == AgentStatusClaimed
}

// ClaimExpired reports whether the claim window has closed at now.
// The token is still valid at exactly its expiry instant.
func (a *Agent) ClaimExpired(now time.Time) bool {
	return a.ClaimTokenExpiresAt != nil && now.After(*a.ClaimTokenExpiresAt)
}

// Owner is the human an agent is claimed by. One owner may hold many agents.
type Owner struct {
	ID        string
	Name      string
	Email     *string // lowercase, unique when set
	CreatedAt time.Time
}

// ClaimParams describes a claim confirmation to apply atomically.
type ClaimParams struct {
	AgentID    string
	ClaimToken string // digest, must still match the stored value
	OwnerName  string
	OwnerEmail string // optional; an existing owner with this email is reused
	ClaimedAt  time.Time
}

// AgentStore persists agent identities.
type AgentStore interface {
	// CreateAgent inserts a new agent. Returns ErrNameTaken or
	// ErrDuplicateDigest on uniqueness violations.
	CreateAgent(ctx context.Context, agent *Agent) error

	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	GetAgentByLookupDigest(ctx context.Context, digest string) (*Agent, error)
	// GetAgentByClaimToken resolves a claim token digest to the pending
	// agent holding it, or to the claimed agent that consumed it.
	GetAgentByClaimToken(ctx context.Context, tokenDigest string) (*Agent, error)

	// ClaimAgent resolves the owner and flips the agent from pending_claim
	// to claimed in one transaction. Only one caller can win for a given
	// token; the others get ErrAlreadyClaimed, ErrClaimExpired, or
	// ErrNotFound and no owner row is left behind.
	ClaimAgent(ctx context.Context, p ClaimParams) (*Agent, *Owner, error)

	// CountAgentsByStatus returns the number of agents in each status.
	// Every known status is present, zero when no agent holds it.
	CountAgentsByStatus(ctx context.Context) (map[AgentStatus]int, error)
}

// OwnerStore reads owners.
type OwnerStore interface {
	GetOwner(ctx context.Context, id string) (*Owner, error)
	GetOwnerByEmail(ctx context.Context, email string) (*Owner, error)
	CountOwners(ctx context.Context) (int, error)
}

// AuditStore appends and queries audit events.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, e *AuditEvent) error
	ListAuditEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, error)
}

// Store is the full persistence surface.
type Store interface {
	AgentStore
	OwnerStore
	AuditStore

	Ping(ctx context.Context) error
	Close() error
}
