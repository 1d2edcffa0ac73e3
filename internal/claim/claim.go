// ABOUTME: Claim workflow: inspect a claim token and confirm ownership of an agent
// ABOUTME: Maps store outcomes to NotFound, AlreadyClaimed, and ClaimTokenExpired

package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pengfeipang/aizn/internal/audit"
	"github.com/pengfeipang/aizn/internal/clock"
	"github.com/pengfeipang/aizn/internal/metrics"
	"github.com/pengfeipang/aizn/internal/store"
	"github.com/pengfeipang/aizn/internal/validate"
)

// Claim errors
var (
	ErrNotFound          = errors.New("agent not found")
	ErrAlreadyClaimed    = errors.New("agent already claimed")
	ErrClaimTokenExpired = errors.New("claim token has expired")
)

// StatusAlreadyClaimed is the view status reported for a spent token.
const StatusAlreadyClaimed = "already_claimed"

// ClaimStore defines what the claim workflow needs from storage.
type ClaimStore interface {
	GetAgentByClaimToken(ctx context.Context, tokenDigest string) (*store.Agent, error)
	ClaimAgent(ctx context.Context, p store.ClaimParams) (*store.Agent, *store.Owner, error)
}

// TokenDigester maps a raw claim token to its stored digest.
type TokenDigester interface {
	ClaimDigest(token string) string
}

// Service runs the claim handshake.
type Service struct {
	store  ClaimStore
	codec  TokenDigester
	audit  audit.Recorder
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a claim Service.
func New(st ClaimStore, cdc TokenDigester, rec audit.Recorder, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		store:  st,
		codec:  cdc,
		audit:  rec,
		clock:  clk,
		logger: logger.With("component", "claim"),
	}
}

// Info is what a prospective owner sees before confirming.
type Info struct {
	Name        string
	Description string     // empty when already claimed
	Status      string     // "pending_claim" or "already_claimed"
	ExpiresAt   *time.Time // nil when already claimed
}

// Confirmation is the result of a successful claim.
type Confirmation struct {
	Agent *store.Agent
	Owner *store.Owner
}

// ConfirmRequest carries the owner details supplied with a confirmation.
type ConfirmRequest struct {
	Token      string
	OwnerName  string
	OwnerEmail string // optional
}

// now is the service clock truncated to the stored timestamp precision, so
// the comparison made here matches the one the store makes.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

func (s *Service) resolve(ctx context.Context, token string) (*store.Agent, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	agent, err := s.store.GetAgentByClaimToken(ctx, s.codec.ClaimDigest(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up claim token: %w", err)
	}
	return agent, nil
}

// GetClaimInfo describes the agent behind a claim token. It never mutates
// state and may be polled.
func (s *Service) GetClaimInfo(ctx context.Context, token string, info audit.RequestInfo) (*Info, error) {
	agent, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	if agent.IsClaimed() {
		s.audit.Record(audit.Event{
			Action:  store.AuditClaimView,
			AgentID: agent.ID,
			Request: info,
			Detail:  map[string]any{"name": agent.Name, "status": StatusAlreadyClaimed},
		})
		return &Info{Name: agent.Name, Status: StatusAlreadyClaimed}, nil
	}

	if agent.ClaimExpired(s.now()) {
		return nil, ErrClaimTokenExpired
	}

	s.audit.Record(audit.Event{
		Action:  store.AuditClaimView,
		AgentID: agent.ID,
		Request: info,
		Detail: map[string]any{
			"name":       agent.Name,
			"status":     string(agent.Status),
			"expires_at": agent.ClaimTokenExpiresAt,
		},
	})

	return &Info{
		Name:        agent.Name,
		Description: agent.Description,
		Status:      string(agent.Status),
		ExpiresAt:   agent.ClaimTokenExpiresAt,
	}, nil
}

// ConfirmClaim binds the agent behind token to an owner. Exactly one
// confirmation per token can succeed.
func (s *Service) ConfirmClaim(ctx context.Context, req ConfirmRequest, info audit.RequestInfo) (*Confirmation, error) {
	ownerName, err := validate.OwnerName(req.OwnerName)
	if err != nil {
		metrics.Claims.WithLabelValues("invalid").Inc()
		return nil, err
	}
	ownerEmail, err := validate.OwnerEmail(req.OwnerEmail)
	if err != nil {
		metrics.Claims.WithLabelValues("invalid").Inc()
		return nil, err
	}

	agent, err := s.resolve(ctx, req.Token)
	if err != nil {
		s.countFailure(err)
		return nil, err
	}

	now := s.now()
	if agent.IsClaimed() {
		s.countFailure(ErrAlreadyClaimed)
		return nil, ErrAlreadyClaimed
	}
	if agent.ClaimExpired(now) {
		s.countFailure(ErrClaimTokenExpired)
		return nil, ErrClaimTokenExpired
	}

	claimed, owner, err := s.store.ClaimAgent(ctx, store.ClaimParams{
		AgentID:    agent.ID,
		ClaimToken: *agent.ClaimToken,
		OwnerName:  ownerName,
		OwnerEmail: ownerEmail,
		ClaimedAt:  now,
	})
	if err != nil {
		err = translateStoreError(err)
		s.countFailure(err)
		return nil, err
	}

	metrics.Claims.WithLabelValues(metrics.ResultSuccess).Inc()
	s.audit.Record(audit.Event{
		Action:  store.AuditClaimConfirm,
		AgentID: claimed.ID,
		OwnerID: owner.ID,
		Request: info,
		Detail: map[string]any{
			"agent_name":  claimed.Name,
			"owner_name":  owner.Name,
			"owner_email": owner.Email,
		},
	})

	s.logger.Info("agent claimed", "agent_id", claimed.ID, "name", claimed.Name, "owner_id", owner.ID)
	return &Confirmation{Agent: claimed, Owner: owner}, nil
}

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyClaimed):
		return ErrAlreadyClaimed
	case errors.Is(err, store.ErrClaimExpired):
		return ErrClaimTokenExpired
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("claiming agent: %w", err)
	}
}

func (s *Service) countFailure(err error) {
	result := "error"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrAlreadyClaimed):
		result = "already_claimed"
	case errors.Is(err, ErrClaimTokenExpired):
		result = "expired"
	}
	metrics.Claims.WithLabelValues(result).Inc()
}
