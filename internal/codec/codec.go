// ABOUTME: Credential codec: AEAD encryption of bearer secrets plus keyed lookup digests
// ABOUTME: Key material comes from Config; production refuses to start without it

package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

// Codec errors
var (
	ErrAuthentication = errors.New("ciphertext authentication failed")
	ErrMissingKey     = errors.New("credential key material not configured")
)

// SecretPrefix marks bearer secrets issued by this service.
const SecretPrefix = "aiquan_"

const (
	// Development-only fallbacks. Never valid when Production is set.
	insecureDevEncryptionKey = "aiquan-INSECURE-dev-encryption-key"
	insecureDevHashSalt      = "aiquan-INSECURE-dev-hash-salt"

	scryptSalt = "aiquan-credential-codec-v1"
	keyLen     = chacha20poly1305.KeySize

	lookupDigestInfo = "aiquan lookup digest v1"
	claimDigestInfo  = "aiquan claim digest v1"
	secretAAD        = "aiquan bearer secret v1"

	secretBytes = 32
)

// Config carries the key material injected at startup.
type Config struct {
	EncryptionKey string
	HashSalt      string
	Production    bool
}

// Codec encrypts, decrypts, and digests bearer secrets.
// It is safe for concurrent use.
type Codec struct {
	aead      cipher.AEAD
	lookupKey []byte
	claimKey  []byte
}

// New derives the codec keys from cfg. In production a missing key or
// salt returns ErrMissingKey.
func New(cfg Config, logger *slog.Logger) (*Codec, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "codec")

	encKey, hashSalt := cfg.EncryptionKey, cfg.HashSalt
	if encKey == "" || hashSalt == "" {
		if cfg.Production {
			return nil, ErrMissingKey
		}
		if encKey == "" {
			encKey = insecureDevEncryptionKey
			logger.Warn("credentials.encryption_key not set, using INSECURE development key")
		}
		if hashSalt == "" {
			hashSalt = insecureDevHashSalt
			logger.Warn("credentials.hash_salt not set, using INSECURE development salt")
		}
	}

	key, err := scrypt.Key([]byte(encKey), []byte(scryptSalt), 1<<15, 8, 1, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}

	lookupKey, err := deriveKey(hashSalt, lookupDigestInfo)
	if err != nil {
		return nil, err
	}
	claimKey, err := deriveKey(hashSalt, claimDigestInfo)
	if err != nil {
		return nil, err
	}

	return &Codec{
		aead:      aead,
		lookupKey: lookupKey,
		claimKey:  claimKey,
	}, nil
}

// deriveKey expands the hash salt into a 32-byte key bound to info.
func deriveKey(salt, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(salt), nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", info, err)
	}
	return key, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// base64(nonce ‖ tag ‖ ciphertext).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), []byte(secretAAD))
	tagStart := len(sealed) - c.aead.Overhead()

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed[tagStart:]...)
	out = append(out, sealed[:tagStart]...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed, truncated, or tampered input
// yields an error wrapping ErrAuthentication.
func (c *Codec) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrAuthentication)
	}

	nonceSize, tagSize := c.aead.NonceSize(), c.aead.Overhead()
	if len(raw) < nonceSize+tagSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrAuthentication)
	}

	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	body := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(body)+tagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, []byte(secretAAD))
	if err != nil {
		return "", ErrAuthentication
	}
	return string(plaintext), nil
}

// LookupDigest returns the hex keyed digest used to index a bearer secret.
func (c *Codec) LookupDigest(plaintext string) string {
	return keyedDigest(c.lookupKey, plaintext)
}

// ClaimDigest returns the hex keyed digest used to index a claim token.
func (c *Codec) ClaimDigest(token string) string {
	return keyedDigest(c.claimKey, token)
}

func keyedDigest(key []byte, input string) string {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		// key length is fixed at construction
		panic(fmt.Sprintf("codec: invalid digest key: %v", err))
	}
	_, _ = h.Write([]byte(input))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify compares a presented secret with a decrypted one in constant time.
func Verify(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

// GenerateSecret returns a fresh random bearer secret.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return SecretPrefix + hex.EncodeToString(b), nil
}

// GenerateClaimToken returns a fresh random claim token.
func GenerateClaimToken() string {
	return uuid.NewString()
}

// GenerateKeyMaterial returns 32 random bytes, base64 encoded, suitable for
// credentials.encryption_key or credentials.hash_salt.
func GenerateKeyMaterial() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
