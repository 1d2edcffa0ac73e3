// ABOUTME: JWT verification and minting for operator access to admin endpoints
// ABOUTME: Uses HS256 signing with a configurable secret and an "admin" scope claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum admin JWT secret length in bytes.
const MinSecretLength = 32

// AdminScope is the scope claim value required on admin tokens.
const AdminScope = "admin"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier checks an admin bearer token and returns the operator it names.
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
}

type adminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies and mints HS256 admin tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify returns the "sub" claim of a valid, unexpired token with scope=admin.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims adminClaims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Scope != AdminScope {
		return "", fmt.Errorf("%w: scope", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints an admin token for subject that expires after expiresIn.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := adminClaims{
		Scope: AdminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
