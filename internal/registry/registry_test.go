// ABOUTME: Tests for agent registration
// ABOUTME: Covers validation, uniqueness, credential material, claim URL, and audit emission

package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pengfeipang/aizn/internal/audit"
	"github.com/pengfeipang/aizn/internal/clock"
	"github.com/pengfeipang/aizn/internal/codec"
	"github.com/pengfeipang/aizn/internal/store"
	"github.com/pengfeipang/aizn/internal/validate"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc   *Service
	store *store.MockStore
	codec *codec.Codec
	audit *audit.Collector
	clock *clock.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cdc, err := codec.New(codec.Config{EncryptionKey: "registry-test-key", HashSalt: "registry-test-salt"}, logger)
	require.NoError(t, err)

	env := &testEnv{
		store: store.NewMockStore(),
		codec: cdc,
		audit: &audit.Collector{},
		clock: clock.NewFake(testStart),
	}
	env.svc = New(env.store, cdc, env.audit, env.clock, Config{BaseURL: "https://aiquan.example/"}, logger)
	return env
}

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	info := audit.RequestInfo{IP: "203.0.113.7", UserAgent: "alice/1.0"}

	reg, err := env.svc.Register(ctx, RegisterRequest{Name: "Alice_Bot", Description: "  helpful  "}, info)
	require.NoError(t, err)

	// name normalised
	assert.Equal(t, "alice_bot", reg.Agent.Name)
	assert.Equal(t, "helpful", reg.Agent.Description)
	assert.Equal(t, store.AgentStatusPendingClaim, reg.Agent.Status)

	// secret shape
	assert.True(t, strings.HasPrefix(reg.APIKey, codec.SecretPrefix))

	// claim material
	assert.Equal(t, "https://aiquan.example/claim/"+reg.ClaimToken, reg.ClaimURL)
	assert.True(t, testStart.Add(24*time.Hour).Equal(reg.ExpiresAt))
	assert.Len(t, reg.Setup, 3)
	assert.Contains(t, reg.Setup[1].MessageTemplate, reg.ClaimURL)

	// persisted form never holds plaintext
	stored, err := env.store.GetAgentByName(ctx, "alice_bot")
	require.NoError(t, err)
	assert.NotContains(t, stored.SecretCiphertext, reg.APIKey)
	assert.Equal(t, env.codec.LookupDigest(reg.APIKey), stored.LookupDigest)
	require.NotNil(t, stored.ClaimToken)
	assert.Equal(t, env.codec.ClaimDigest(reg.ClaimToken), *stored.ClaimToken)
	assert.NotEqual(t, reg.ClaimToken, *stored.ClaimToken)

	plain, err := env.codec.Decrypt(stored.SecretCiphertext)
	require.NoError(t, err)
	assert.Equal(t, reg.APIKey, plain)

	// audit
	events := env.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, store.AuditAgentRegister, events[0].Action)
	assert.Equal(t, reg.Agent.ID, events[0].AgentID)
	assert.Equal(t, info, events[0].Request)
	assert.Equal(t, "alice_bot", events[0].Detail["name"])
}

func TestRegister_InvalidName(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"", "ab", strings.Repeat("a", 31), "bad-name", "has space", "émile"} {
		t.Run(name, func(t *testing.T) {
			_, err := env.svc.Register(context.Background(), RegisterRequest{Name: name}, audit.RequestInfo{})
			var verr *validate.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "name", verr.Field)
		})
	}
	assert.Empty(t, env.audit.Events())
}

func TestRegister_NameTakenCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, RegisterRequest{Name: "alice_bot"}, audit.RequestInfo{})
	require.NoError(t, err)

	_, err = env.svc.Register(ctx, RegisterRequest{Name: "ALICE_BOT"}, audit.RequestInfo{})
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.Len(t, env.audit.Events(), 1)
}

func TestRegister_ConcurrentSameName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.svc.Register(ctx, RegisterRequest{Name: "race_bot"}, audit.RequestInfo{})
		}(i)
	}
	wg.Wait()

	var ok, taken int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNameTaken):
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, taken)
}

func TestRegister_DistinctCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.svc.Register(ctx, RegisterRequest{Name: "agent_one"}, audit.RequestInfo{})
	require.NoError(t, err)
	b, err := env.svc.Register(ctx, RegisterRequest{Name: "agent_two"}, audit.RequestInfo{})
	require.NoError(t, err)

	assert.NotEqual(t, a.APIKey, b.APIKey)
	assert.NotEqual(t, a.ClaimToken, b.ClaimToken)
	assert.NotEqual(t, a.Agent.LookupDigest, b.Agent.LookupDigest)
}

// failingStore wraps MockStore with a canned CreateAgent error.
type failingStore struct {
	*store.MockStore
	createErr error
	calls     int
}

func (f *failingStore) CreateAgent(ctx context.Context, a *store.Agent) error {
	f.calls++
	if f.createErr != nil {
		return f.createErr
	}
	return f.MockStore.CreateAgent(ctx, a)
}

func TestRegister_DigestCollisionRetries(t *testing.T) {
	env := newTestEnv(t)
	fs := &failingStore{MockStore: env.store, createErr: store.ErrDuplicateDigest}
	svc := New(fs, env.codec, env.audit, env.clock, Config{}, nil)

	_, err := svc.Register(context.Background(), RegisterRequest{Name: "unlucky"}, audit.RequestInfo{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateDigest)
	assert.Equal(t, maxSecretAttempts, fs.calls)
	assert.Empty(t, env.audit.Events())
}

func TestRegister_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	boom := errors.New("disk on fire")
	fs := &failingStore{MockStore: env.store, createErr: boom}
	svc := New(fs, env.codec, env.audit, env.clock, Config{}, nil)

	_, err := svc.Register(context.Background(), RegisterRequest{Name: "doomed"}, audit.RequestInfo{})
	assert.ErrorIs(t, err, boom)
}

func TestNew_Defaults(t *testing.T) {
	svc := New(store.NewMockStore(), nil, audit.Discard, nil, Config{}, nil)
	assert.Equal(t, DefaultClaimTTL, svc.cfg.ClaimTTL)
	assert.Equal(t, "http://localhost:3000/claim/tok", svc.ClaimURL("tok"))
}
