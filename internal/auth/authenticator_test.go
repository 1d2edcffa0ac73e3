// ABOUTME: Tests for bearer secret authentication
// ABOUTME: Covers success, the indistinguishable failure paths, and store errors

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pengfeipang/aizn/internal/codec"
	"github.com/pengfeipang/aizn/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(codec.Config{EncryptionKey: "auth-test-key", HashSalt: "auth-test-salt"}, testLogger())
	require.NoError(t, err)
	return c
}

// seedAgent stores an agent holding a fresh secret and returns the secret.
func seedAgent(t *testing.T, st *store.MockStore, c *codec.Codec, id, name string, status store.AgentStatus) string {
	t.Helper()
	secret, err := codec.GenerateSecret()
	require.NoError(t, err)
	ciphertext, err := c.Encrypt(secret)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agent := &store.Agent{
		ID:               id,
		Name:             name,
		SecretCiphertext: ciphertext,
		LookupDigest:     c.LookupDigest(secret),
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if status == store.AgentStatusClaimed {
		owner := "owner-" + id
		agent.OwnerID = &owner
		agent.ClaimedAt = &now
	}
	require.NoError(t, st.CreateAgent(context.Background(), agent))
	return secret
}

func TestAuthenticate_Success(t *testing.T) {
	st := store.NewMockStore()
	c := newTestCodec(t)
	secret := seedAgent(t, st, c, "agent-1", "alice_bot", store.AgentStatusPendingClaim)

	authn := NewAuthenticator(st, c, testLogger())

	id, err := authn.Authenticate(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", id.AgentID)
	assert.Equal(t, "alice_bot", id.Name)
	assert.Equal(t, store.AgentStatusPendingClaim, id.Status)
	assert.False(t, id.IsClaimed())
	assert.Empty(t, id.OwnerID)

	viaHeader, err := authn.AuthenticateHeader(context.Background(), "Bearer "+secret)
	require.NoError(t, err)
	assert.Equal(t, id, viaHeader)
}

func TestAuthenticate_ClaimedIdentity(t *testing.T) {
	st := store.NewMockStore()
	c := newTestCodec(t)
	secret := seedAgent(t, st, c, "agent-1", "alice_bot", store.AgentStatusClaimed)

	id, err := NewAuthenticator(st, c, nil).Authenticate(context.Background(), secret)
	require.NoError(t, err)
	assert.True(t, id.IsClaimed())
	assert.Equal(t, "owner-agent-1", id.OwnerID)
	require.NotNil(t, id.ClaimedAt)
}

func TestAuthenticate_Missing(t *testing.T) {
	authn := NewAuthenticator(store.NewMockStore(), newTestCodec(t), testLogger())

	_, err := authn.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCredential)

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer ", "bearer abc"} {
		_, err := authn.AuthenticateHeader(context.Background(), header)
		assert.ErrorIs(t, err, ErrMissingCredential, "header %q", header)
	}
}

func TestAuthenticate_FailuresAreIndistinguishable(t *testing.T) {
	st := store.NewMockStore()
	c := newTestCodec(t)
	secret := seedAgent(t, st, c, "agent-1", "alice_bot", store.AgentStatusPendingClaim)

	// An agent whose ciphertext was written under a different key.
	otherCodec, err := codec.New(codec.Config{EncryptionKey: "another-key", HashSalt: "auth-test-salt"}, testLogger())
	require.NoError(t, err)
	foreignSecret, err := codec.GenerateSecret()
	require.NoError(t, err)
	foreignCiphertext, err := otherCodec.Encrypt(foreignSecret)
	require.NoError(t, err)
	require.NoError(t, st.CreateAgent(context.Background(), &store.Agent{
		ID:               "agent-2",
		Name:             "bob_bot",
		SecretCiphertext: foreignCiphertext,
		LookupDigest:     c.LookupDigest(foreignSecret),
		Status:           store.AgentStatusPendingClaim,
	}))

	// An agent whose ciphertext opens to a different secret than its digest.
	decoySecret, err := codec.GenerateSecret()
	require.NoError(t, err)
	mismatchSecret, err := codec.GenerateSecret()
	require.NoError(t, err)
	decoyCiphertext, err := c.Encrypt(decoySecret)
	require.NoError(t, err)
	require.NoError(t, st.CreateAgent(context.Background(), &store.Agent{
		ID:               "agent-3",
		Name:             "carol_bot",
		SecretCiphertext: decoyCiphertext,
		LookupDigest:     c.LookupDigest(mismatchSecret),
		Status:           store.AgentStatusPendingClaim,
	}))

	authn := NewAuthenticator(st, c, testLogger())

	cases := map[string]string{
		"unknown secret":     "aiquan_" + "00000000000000000000000000000000",
		"altered secret":     secret[:len(secret)-1] + "x",
		"undecryptable":      foreignSecret,
		"plaintext mismatch": mismatchSecret,
	}
	for name, presented := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := authn.Authenticate(context.Background(), presented)
			assert.Equal(t, ErrInvalidCredential, err)
		})
	}
}

type brokenLookup struct{ err error }

func (b brokenLookup) GetAgentByLookupDigest(ctx context.Context, digest string) (*store.Agent, error) {
	return nil, b.err
}

func TestAuthenticate_StoreError(t *testing.T) {
	boom := errors.New("connection reset")
	authn := NewAuthenticator(brokenLookup{err: boom}, newTestCodec(t), testLogger())

	_, err := authn.Authenticate(context.Background(), "aiquan_whatever")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}
