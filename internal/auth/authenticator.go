// ABOUTME: Bearer secret authentication: digest lookup, decrypt, constant-time compare
// ABOUTME: Every failure past the header check collapses into ErrInvalidCredential

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pengfeipang/aizn/internal/codec"
	"github.com/pengfeipang/aizn/internal/metrics"
	"github.com/pengfeipang/aizn/internal/store"
)

// Authentication errors
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrNotClaimed        = errors.New("agent has not been claimed")
)

// AgentLookup finds the candidate agent for a lookup digest.
type AgentLookup interface {
	GetAgentByLookupDigest(ctx context.Context, digest string) (*store.Agent, error)
}

// SecretOpener computes lookup digests and opens stored ciphertexts.
type SecretOpener interface {
	LookupDigest(plaintext string) string
	Decrypt(blob string) (string, error)
}

// Authenticator resolves bearer secrets to agent identities.
type Authenticator struct {
	agents AgentLookup
	codec  SecretOpener
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(agents AgentLookup, cdc SecretOpener, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		agents: agents,
		codec:  cdc,
		logger: logger.With("component", "auth"),
	}
}

// AuthenticateHeader parses an Authorization header value and authenticates
// the bearer secret it carries.
func (a *Authenticator) AuthenticateHeader(ctx context.Context, header string) (*Identity, error) {
	token, errMsg := extractBearerToken(header)
	if errMsg != "" {
		metrics.AuthAttempts.WithLabelValues("missing").Inc()
		return nil, fmt.Errorf("%w: %s", ErrMissingCredential, errMsg)
	}
	return a.Authenticate(ctx, token)
}

// Authenticate resolves a bare bearer secret to the agent it was issued to.
func (a *Authenticator) Authenticate(ctx context.Context, secret string) (*Identity, error) {
	if secret == "" {
		metrics.AuthAttempts.WithLabelValues("missing").Inc()
		return nil, ErrMissingCredential
	}

	agent, err := a.agents.GetAgentByLookupDigest(ctx, a.codec.LookupDigest(secret))
	if errors.Is(err, store.ErrNotFound) {
		return nil, a.reject("unknown digest")
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("looking up agent: %w", err)
	}

	stored, err := a.codec.Decrypt(agent.SecretCiphertext)
	if err != nil {
		// Treated exactly like a wrong secret. Logged for operators only.
		return nil, a.reject("ciphertext did not open", "agent_id", agent.ID)
	}
	if !codec.Verify(secret, stored) {
		return nil, a.reject("secret mismatch", "agent_id", agent.ID)
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return identityFromAgent(agent), nil
}

func (a *Authenticator) reject(reason string, args ...any) error {
	metrics.AuthAttempts.WithLabelValues("invalid").Inc()
	a.logger.Debug("bearer authentication failed", append([]any{"reason", reason}, args...)...)
	return ErrInvalidCredential
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}
