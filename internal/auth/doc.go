// Package auth authenticates agents by their bearer secret and operators by
// an admin JWT.
//
// # Agent Authentication
//
// Agents send the secret issued at registration:
//
//	Authorization: Bearer aiquan_<64 hex chars>
//
// The Authenticator hashes the presented secret into its lookup digest,
// fetches the single candidate agent by that digest, decrypts the stored
// ciphertext, and compares the two in constant time. An unknown digest, a
// ciphertext that fails to open, and a plaintext mismatch all produce the
// same ErrInvalidCredential so callers cannot tell which check failed.
//
// # Request Context
//
// Middleware attaches an *Identity to the request context:
//
//	id := auth.MustFromContext(r.Context())
//
// RequireClaimed layers on top and rejects agents still in pending_claim
// with ErrNotClaimed.
//
// # Admin Tokens
//
// Operators authenticate against /api/v1/admin with HS256 JWTs minted by
// aiquan-admin. Tokens carry an "admin" scope claim and are verified by
// JWTVerifier.
package auth
