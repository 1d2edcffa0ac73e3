// ABOUTME: Tests specific to the SQLite store
// ABOUTME: Covers file creation, in-memory mode, schema constraints, and error decoding

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	// Verify the database file was created
	_, err = os.Stat(dbPath)
	assert.False(t, os.IsNotExist(err), "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.False(t, os.IsNotExist(err), "database file was not created in nested directory")
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))

	got, err := store.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "alice_bot", got.Name)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.CreateAgent(ctx, newPendingAgent("agent-1", "alice_bot")))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetAgentByName(ctx, "alice_bot")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)
}

func TestSQLiteStore_ClaimedRequiresOwner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	agent := newPendingAgent("agent-1", "alice_bot")
	agent.Status = AgentStatusClaimed
	agent.ClaimToken = nil
	agent.ClaimTokenExpiresAt = nil

	err := store.CreateAgent(ctx, agent)
	assert.Error(t, err, "schema must reject a claimed agent without owner")
}

func TestSQLiteStore_Ping(t *testing.T) {
	store := setupTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestSQLiteUniqueViolation(t *testing.T) {
	col, ok := sqliteUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: agents.name (2067)"))
	assert.True(t, ok)
	assert.Contains(t, col, "agents.name")

	_, ok = sqliteUniqueViolation(errors.New("no such table: agents"))
	assert.False(t, ok)

	_, ok = sqliteUniqueViolation(nil)
	assert.False(t, ok)
}
