// ABOUTME: Tests for the PostgreSQL store
// ABOUTME: Runs the shared Store contract when AIQUAN_TEST_DATABASE_URL is set

package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("AIQUAN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AIQUAN_TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	s, err := NewPostgresStore(context.Background(), DefaultPostgresConfig(dsn))
	if err != nil {
		t.Skipf("failed to connect to PostgreSQL: %v", err)
	}

	clean := func() {
		_, _ = s.db.Exec("DELETE FROM audit_events")
		_, _ = s.db.Exec("DELETE FROM agents")
		_, _ = s.db.Exec("DELETE FROM owners")
	}
	clean()
	t.Cleanup(func() {
		clean()
		s.Close()
	})
	return s
}

func TestPostgresStore_Contract(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return setupPostgresTestStore(t) })
}

func TestPostgresStore_Audit(t *testing.T) {
	runAuditSuite(t, func(t *testing.T) Store { return setupPostgresTestStore(t) })
}

func TestRebindDollar(t *testing.T) {
	got := rebindDollar("SELECT a FROM t WHERE b = ? AND (CAST(? AS TEXT) IS NULL OR c = ?) LIMIT ?")
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND (CAST($2 AS TEXT) IS NULL OR c = $3) LIMIT $4", got)

	require.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}
