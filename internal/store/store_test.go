// ABOUTME: Shared behavioural tests run against every Store backend
// ABOUTME: Covers agent uniqueness, lookups, the conditional claim transition, and owner reuse

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPendingAgent(id, name string) *Agent {
	token := "claim-digest-" + id
	expires := testNow.Add(24 * time.Hour)
	return &Agent{
		ID:                  id,
		Name:                name,
		Description:         "test agent " + name,
		SecretCiphertext:    "ciphertext-" + id,
		LookupDigest:        "digest-" + id,
		Status:              AgentStatusPendingClaim,
		ClaimToken:          &token,
		ClaimTokenExpiresAt: &expires,
		CreatedAt:           testNow,
		UpdatedAt:           testNow,
	}
}

// runStoreSuite exercises the Store contract against a backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetAgent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		agent := newPendingAgent("agent-1", "alice_bot")
		require.NoError(t, s.CreateAgent(ctx, agent))

		got, err := s.GetAgent(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, "alice_bot", got.Name)
		assert.Equal(t, AgentStatusPendingClaim, got.Status)
		require.NotNil(t, got.ClaimToken)
		assert.Equal(t, "claim-digest-agent-1", *got.ClaimToken)
		require.NotNil(t, got.ClaimTokenExpiresAt)
		assert.True(t, testNow.Add(24*time.Hour).Equal(*got.ClaimTokenExpiresAt))
		assert.Nil(t, got.OwnerID)
		assert.Nil(t, got.ClaimedAt)

		byName, err := s.GetAgentByName(ctx, "ALICE_BOT")
		require.NoError(t, err)
		assert.Equal(t, "agent-1", byName.ID)

		byDigest, err := s.GetAgentByLookupDigest(ctx, "digest-agent-1")
		require.NoError(t, err)
		assert.Equal(t, "agent-1", byDigest.ID)

		byToken, err := s.GetAgentByClaimToken(ctx, "claim-digest-agent-1")
		require.NoError(t, err)
		assert.Equal(t, "agent-1", byToken.ID)
	})

	t.Run("GetAgent_NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetAgent(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetAgentByLookupDigest(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetAgentByClaimToken(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CreateAgent_NameTaken", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))
		err := s.CreateAgent(ctx, newPendingAgent("agent-2", "alice_bot"))
		assert.ErrorIs(t, err, ErrNameTaken)
	})

	t.Run("CreateAgent_DuplicateDigest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))
		dup := newPendingAgent("agent-2", "bob_bot")
		dup.LookupDigest = "digest-agent-1"
		err := s.CreateAgent(ctx, dup)
		assert.ErrorIs(t, err, ErrDuplicateDigest)
	})

	t.Run("ClaimAgent_Success", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))

		agent, owner, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID:    "agent-1",
			ClaimToken: "claim-digest-agent-1",
			OwnerName:  "Alice",
			OwnerEmail: "Alice@Example.com",
			ClaimedAt:  testNow.Add(time.Hour),
		})
		require.NoError(t, err)

		assert.Equal(t, AgentStatusClaimed, agent.Status)
		assert.Nil(t, agent.ClaimToken)
		assert.Nil(t, agent.ClaimTokenExpiresAt)
		require.NotNil(t, agent.OwnerID)
		assert.Equal(t, owner.ID, *agent.OwnerID)
		require.NotNil(t, agent.ClaimedAt)
		assert.True(t, testNow.Add(time.Hour).Equal(*agent.ClaimedAt))

		assert.Equal(t, "Alice", owner.Name)
		require.NotNil(t, owner.Email)
		assert.Equal(t, "alice@example.com", *owner.Email)

		// spent token still resolves, but only to the claimed agent
		spent, err := s.GetAgentByClaimToken(ctx, "claim-digest-agent-1")
		require.NoError(t, err)
		assert.Equal(t, AgentStatusClaimed, spent.Status)
		require.NotNil(t, spent.SpentClaimToken)
		assert.Equal(t, "claim-digest-agent-1", *spent.SpentClaimToken)

		stored, err := s.GetOwnerByEmail(ctx, "ALICE@example.com")
		require.NoError(t, err)
		assert.Equal(t, owner.ID, stored.ID)
	})

	t.Run("ClaimAgent_Twice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))

		p := ClaimParams{
			AgentID:    "agent-1",
			ClaimToken: "claim-digest-agent-1",
			OwnerName:  "Alice",
			ClaimedAt:  testNow.Add(time.Hour),
		}
		_, _, err := s.ClaimAgent(ctx, p)
		require.NoError(t, err)

		_, _, err = s.ClaimAgent(ctx, p)
		assert.ErrorIs(t, err, ErrAlreadyClaimed)

		count, err := s.CountOwners(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "failed claim must not leave an owner behind")
	})

	t.Run("ClaimAgent_Expired", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))

		_, _, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID:    "agent-1",
			ClaimToken: "claim-digest-agent-1",
			OwnerName:  "Alice",
			ClaimedAt:  testNow.Add(25 * time.Hour),
		})
		assert.ErrorIs(t, err, ErrClaimExpired)

		agent, err := s.GetAgent(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, AgentStatusPendingClaim, agent.Status, "expired claim must not mutate status")

		count, err := s.CountOwners(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("ClaimAgent_AtExactExpiry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))

		_, _, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID:    "agent-1",
			ClaimToken: "claim-digest-agent-1",
			OwnerName:  "Alice",
			ClaimedAt:  testNow.Add(24 * time.Hour),
		})
		assert.NoError(t, err)
	})

	t.Run("ClaimAgent_WrongToken", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))

		_, _, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID:    "agent-1",
			ClaimToken: "some-other-digest",
			OwnerName:  "Alice",
			ClaimedAt:  testNow,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ClaimAgent_UnknownAgent", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.ClaimAgent(context.Background(), ClaimParams{
			AgentID:    "missing",
			ClaimToken: "x",
			OwnerName:  "Alice",
			ClaimedAt:  testNow,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ClaimAgent_ReusesOwnerByEmail", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-2", "alice_bot2")))

		_, first, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID: "agent-1", ClaimToken: "claim-digest-agent-1",
			OwnerName: "Alice", OwnerEmail: "alice@example.com", ClaimedAt: testNow,
		})
		require.NoError(t, err)

		_, second, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID: "agent-2", ClaimToken: "claim-digest-agent-2",
			OwnerName: "Alice Again", OwnerEmail: "ALICE@example.com", ClaimedAt: testNow,
		})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Alice", second.Name, "existing owner keeps its name")

		count, err := s.CountOwners(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("ClaimAgent_NoEmailCreatesFreshOwner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-2", "alice_bot2")))

		_, first, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID: "agent-1", ClaimToken: "claim-digest-agent-1", OwnerName: "Alice", ClaimedAt: testNow,
		})
		require.NoError(t, err)
		_, second, err := s.ClaimAgent(ctx, ClaimParams{
			AgentID: "agent-2", ClaimToken: "claim-digest-agent-2", OwnerName: "Alice", ClaimedAt: testNow,
		})
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Nil(t, first.Email)
	})

	t.Run("ClaimAgent_Concurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))

		const attempts = 8
		var wg sync.WaitGroup
		errs := make([]error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, errs[i] = s.ClaimAgent(ctx, ClaimParams{
					AgentID:    "agent-1",
					ClaimToken: "claim-digest-agent-1",
					OwnerName:  "Owner",
					OwnerEmail: "owner@example.com",
					ClaimedAt:  testNow,
				})
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, ErrAlreadyClaimed)
		}
		assert.Equal(t, 1, successes)

		count, err := s.CountOwners(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("CountAgentsByStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		counts, err := s.CountAgentsByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[AgentStatus]int{AgentStatusPendingClaim: 0, AgentStatusClaimed: 0}, counts)

		for i, name := range []string{"one_bot", "two_bot", "three_bot"} {
			require.NoError(t, s.CreateAgent(ctx, newPendingAgent(fmt.Sprintf("agent-%d", i), name)))
		}
		_, _, err = s.ClaimAgent(ctx, ClaimParams{
			AgentID:    "agent-1",
			ClaimToken: "claim-digest-agent-1",
			OwnerName:  "Alice",
			ClaimedAt:  testNow.Add(time.Hour),
		})
		require.NoError(t, err)

		counts, err = s.CountAgentsByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[AgentStatusPendingClaim])
		assert.Equal(t, 1, counts[AgentStatusClaimed])
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return setupTestStore(t) })
}

func TestMockStore_Contract(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMockStore() })
}
