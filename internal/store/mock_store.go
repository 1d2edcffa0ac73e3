// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	agents   map[string]*Agent // keyed by agent ID
	owners   map[string]*Owner // keyed by owner ID
	events   []AuditEvent
	closed   bool
	pingErr  error
	auditErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents: make(map[string]*Agent),
		owners: make(map[string]*Owner),
	}
}

// SetPingError makes Ping return err.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// SetAuditError makes AppendAuditEvent fail with err.
func (m *MockStore) SetAuditError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditErr = err
}

// Ping returns the configured ping error.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyAgent(a *Agent) *Agent {
	c := *a
	if a.ClaimToken != nil {
		v := *a.ClaimToken
		c.ClaimToken = &v
	}
	if a.ClaimTokenExpiresAt != nil {
		v := *a.ClaimTokenExpiresAt
		c.ClaimTokenExpiresAt = &v
	}
	if a.OwnerID != nil {
		v := *a.OwnerID
		c.OwnerID = &v
	}
	if a.ClaimedAt != nil {
		v := *a.ClaimedAt
		c.ClaimedAt = &v
	}
	if a.SpentClaimToken != nil {
		v := *a.SpentClaimToken
		c.SpentClaimToken = &v
	}
	return &c
}

// CreateAgent stores a new agent, enforcing name and digest uniqueness.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.Name == agent.Name {
			return ErrNameTaken
		}
		if a.LookupDigest == agent.LookupDigest {
			return ErrDuplicateDigest
		}
	}

	m.agents[agent.ID] = copyAgent(agent)
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return m.findAgent(func(a *Agent) bool { return a.ID == id })
}

// GetAgentByName retrieves an agent by name.
func (m *MockStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	name = strings.ToLower(name)
	return m.findAgent(func(a *Agent) bool { return a.Name == name })
}

// GetAgentByLookupDigest retrieves an agent by lookup digest.
func (m *MockStore) GetAgentByLookupDigest(ctx context.Context, digest string) (*Agent, error) {
	return m.findAgent(func(a *Agent) bool { return a.LookupDigest == digest })
}

// GetAgentByClaimToken retrieves a pending agent by claim token digest.
func (m *MockStore) GetAgentByClaimToken(ctx context.Context, tokenDigest string) (*Agent, error) {
	return m.findAgent(func(a *Agent) bool {
		return (a.ClaimToken != nil && *a.ClaimToken == tokenDigest) ||
			(a.SpentClaimToken != nil && *a.SpentClaimToken == tokenDigest)
	})
}

func (m *MockStore) findAgent(match func(*Agent) bool) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if match(a) {
			return copyAgent(a), nil
		}
	}
	return nil, ErrNotFound
}

// ClaimAgent applies the claim transition under the store lock.
func (m *MockStore) ClaimAgent(ctx context.Context, p ClaimParams) (*Agent, *Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[p.AgentID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if a.IsClaimed() {
		return nil, nil, ErrAlreadyClaimed
	}
	if a.ClaimExpired(p.ClaimedAt) {
		return nil, nil, ErrClaimExpired
	}
	if a.ClaimToken == nil || *a.ClaimToken != p.ClaimToken {
		return nil, nil, ErrNotFound
	}

	var owner *Owner
	email := strings.ToLower(p.OwnerEmail)
	if email != "" {
		for _, o := range m.owners {
			if o.Email != nil && *o.Email == email {
				owner = o
				break
			}
		}
	}
	if owner == nil {
		owner = &Owner{
			ID:        uuid.New().String(),
			Name:      p.OwnerName,
			CreatedAt: p.ClaimedAt.UTC().Truncate(time.Second),
		}
		if email != "" {
			owner.Email = &email
		}
		m.owners[owner.ID] = owner
	}

	claimedAt := p.ClaimedAt.UTC().Truncate(time.Second)
	a.Status = AgentStatusClaimed
	a.OwnerID = &owner.ID
	a.ClaimedAt = &claimedAt
	a.SpentClaimToken = a.ClaimToken
	a.ClaimToken = nil
	a.ClaimTokenExpiresAt = nil
	a.UpdatedAt = claimedAt

	o := *owner
	return copyAgent(a), &o, nil
}

// GetOwner retrieves an owner by ID.
func (m *MockStore) GetOwner(ctx context.Context, id string) (*Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.owners[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *o
	return &c, nil
}

// GetOwnerByEmail retrieves an owner by email.
func (m *MockStore) GetOwnerByEmail(ctx context.Context, email string) (*Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, o := range m.owners {
		if o.Email != nil && *o.Email == email {
			c := *o
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// CountAgentsByStatus groups agents by claim status.
func (m *MockStore) CountAgentsByStatus(ctx context.Context) (map[AgentStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[AgentStatus]int{
		AgentStatusPendingClaim: 0,
		AgentStatusClaimed:      0,
	}
	for _, a := range m.agents {
		counts[a.Status]++
	}
	return counts, nil
}

// CountOwners returns the number of owners.
func (m *MockStore) CountOwners(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners), nil
}

// AppendAuditEvent records an audit event.
func (m *MockStore) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.auditErr != nil {
		return m.auditErr
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = newAuditID(e.CreatedAt)
	}
	m.events = append(m.events, *e)
	return nil
}

// ListAuditEvents returns events matching the filter, newest first.
func (m *MockStore) ListAuditEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []AuditEvent{}
	for _, e := range m.events {
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.CreatedAt.After(*f.Until) {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.AgentID != nil && (e.AgentID == nil || *e.AgentID != *f.AgentID) {
			continue
		}
		if f.OwnerID != nil && (e.OwnerID == nil || *e.OwnerID != *f.OwnerID) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if limit := normalizeAuditLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AuditEvents returns a snapshot of all recorded events in append order.
func (m *MockStore) AuditEvents() []AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEvent(nil), m.events...)
}

// compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
