// ABOUTME: Authenticated agent identity and its propagation through request context
// ABOUTME: Provides WithIdentity/FromContext/MustFromContext and the admin subject helpers

package auth

import (
	"context"
	"time"

	"github.com/pengfeipang/aizn/internal/store"
)

// Identity is the authenticated agent attached to a request. It carries no
// secret material.
type Identity struct {
	AgentID     string
	Name        string
	Description string
	Status      store.AgentStatus
	OwnerID     string // empty until claimed
	ClaimedAt   *time.Time
	CreatedAt   time.Time
}

// IsClaimed reports whether the agent has an owner and may write.
func (i *Identity) IsClaimed() bool {
	return i.Status == store.AgentStatusClaimed
}

func identityFromAgent(a *store.Agent) *Identity {
	id := &Identity{
		AgentID:     a.ID,
		Name:        a.Name,
		Description: a.Description,
		Status:      a.Status,
		ClaimedAt:   a.ClaimedAt,
		CreatedAt:   a.CreatedAt,
	}
	if a.OwnerID != nil {
		id.OwnerID = *a.OwnerID
	}
	return id
}

type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
// Only call it behind Middleware.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}

type adminKey struct{}

// WithAdmin records the verified admin token subject.
func WithAdmin(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, adminKey{}, subject)
}

// AdminFromContext returns the admin subject, or "" if the request is not
// admin-authenticated.
func AdminFromContext(ctx context.Context) string {
	s, _ := ctx.Value(adminKey{}).(string)
	return s
}
