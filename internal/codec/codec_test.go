// ABOUTME: Tests for the credential codec
// ABOUTME: Covers key policy, round-trip, tamper detection, digest separation, and secret format

package codec

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(Config{
		EncryptionKey: "test-encryption-key",
		HashSalt:      "test-hash-salt",
	}, nil)
	require.NoError(t, err)
	return c
}

func TestNew_ProductionRequiresKeys(t *testing.T) {
	_, err := New(Config{Production: true}, nil)
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = New(Config{Production: true, EncryptionKey: "k"}, nil)
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = New(Config{Production: true, HashSalt: "s"}, nil)
	assert.ErrorIs(t, err, ErrMissingKey)

	c, err := New(Config{Production: true, EncryptionKey: "k", HashSalt: "s"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNew_DevelopmentFallback(t *testing.T) {
	c, err := New(Config{}, nil)
	require.NoError(t, err)

	blob, err := c.Encrypt("hello")
	require.NoError(t, err)
	got, err := c.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestEncrypt_FreshNonce(t *testing.T) {
	c := newTestCodec(t)

	a, err := c.Encrypt("same secret")
	require.NoError(t, err)
	b, err := c.Encrypt("same secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each Encrypt must draw a new nonce")
}

func TestEncrypt_Layout(t *testing.T) {
	c := newTestCodec(t)

	blob, err := c.Encrypt("abc")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	// nonce(24) + tag(16) + len("abc")
	assert.Len(t, raw, 24+16+3)
}

func TestDecrypt_WrongKey(t *testing.T) {
	c := newTestCodec(t)
	other, err := New(Config{EncryptionKey: "another-key", HashSalt: "test-hash-salt"}, nil)
	require.NoError(t, err)

	blob, err := c.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecrypt_Malformed(t *testing.T) {
	c := newTestCodec(t)

	for _, blob := range []string{"", "not base64!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		_, err := c.Decrypt(blob)
		assert.True(t, errors.Is(err, ErrAuthentication), "blob %q: got %v", blob, err)
	}
}

func TestDecrypt_TamperEveryByte(t *testing.T) {
	c := newTestCodec(t)

	blob, err := c.Encrypt("aiquan_deadbeef")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	for i := range raw {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01
		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		assert.ErrorIs(t, err, ErrAuthentication, "byte %d", i)
	}
}

func TestLookupDigest_Deterministic(t *testing.T) {
	c := newTestCodec(t)

	d1 := c.LookupDigest("aiquan_abc")
	d2 := c.LookupDigest("aiquan_abc")
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestLookupDigest_KeyedBySalt(t *testing.T) {
	c := newTestCodec(t)
	other, err := New(Config{EncryptionKey: "test-encryption-key", HashSalt: "different-salt"}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, c.LookupDigest("aiquan_abc"), other.LookupDigest("aiquan_abc"))
}

func TestClaimDigest_SeparateFromLookup(t *testing.T) {
	c := newTestCodec(t)
	assert.NotEqual(t, c.LookupDigest("token"), c.ClaimDigest("token"))
}

func TestLookupDigest_NoCollisions(t *testing.T) {
	c := newTestCodec(t)

	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		s, err := GenerateSecret()
		require.NoError(t, err)
		d := c.LookupDigest(s)
		_, dup := seen[d]
		require.False(t, dup, "digest collision after %d secrets", i)
		seen[d] = struct{}{}
	}
}

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s, SecretPrefix))
	assert.Len(t, s, len(SecretPrefix)+64)

	s2, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, s, s2)
}

func TestVerify(t *testing.T) {
	assert.True(t, Verify("aiquan_x", "aiquan_x"))
	assert.False(t, Verify("aiquan_x", "aiquan_y"))
	assert.False(t, Verify("aiquan_x", "aiquan_xx"))
}

func TestGenerateKeyMaterial(t *testing.T) {
	k, err := GenerateKeyMaterial()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(k)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
