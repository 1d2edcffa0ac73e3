// Package store provides persistent storage for agents, owners, and audit
// events.
//
// # Backends
//
//   - SQLiteStore: embedded default, modernc.org/sqlite, WAL mode, a single
//     connection so claim transactions serialise.
//   - PostgresStore: pgx through database/sql for shared deployments.
//   - MockStore: in-memory, for unit tests.
//
// SQLiteStore and PostgresStore share every query through sqlStore; only
// placeholder syntax, schema bootstrap, and uniqueness error decoding differ.
//
// # Claim transition
//
// ClaimAgent is the only multi-statement write. Inside one transaction it
// upserts the owner by email, then runs
//
//	UPDATE agents SET status = 'claimed', ...
//	WHERE id = ? AND status = 'pending_claim' AND claim_token = ? AND claim_token_expires_at >= ?
//
// Zero affected rows rolls back the transaction and the agent is re-read to
// report ErrAlreadyClaimed, ErrClaimExpired, or ErrNotFound.
//
// The winning UPDATE moves the token digest into spent_claim_token. A spent
// digest still resolves through GetAgentByClaimToken so callers can answer
// "already claimed", but it can never satisfy the pending_claim condition.
//
// # Timestamps
//
// All timestamps are stored as UTC RFC3339 text at second precision, so
// string comparison in SQL is chronological on both backends.
package store
