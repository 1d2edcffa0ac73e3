// Package codec converts agent bearer secrets between their plaintext form
// and the two forms that are persisted.
//
// # Persisted forms
//
//   - secret_ciphertext: XChaCha20-Poly1305 with a fresh 24-byte nonce per
//     call, stored as base64(nonce ‖ tag ‖ ciphertext).
//   - lookup_digest: keyed BLAKE3 of the plaintext, hex encoded. It is only
//     an index. Authentication always decrypts the ciphertext and compares.
//
// Claim tokens get their own keyed digest (ClaimDigest) so the raw token
// embedded in a claim URL is never stored.
//
// # Key material
//
// The encryption key is stretched with scrypt. The digest keys are derived
// from the hash salt with HKDF-SHA256, one per purpose. In production both
// inputs are mandatory. Elsewhere a labelled development fallback is used
// and a warning is logged.
package codec
