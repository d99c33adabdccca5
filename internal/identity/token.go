package identity

import (
	"errors"
	"fmt"
	"time"

	apperr "github.com/alexjbarnes/focus-sync/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the shortest accepted HMAC signing secret.
const MinSecretLen = 32

// tokenIssuer is the iss claim on primary tokens.
const tokenIssuer = "focus-sync"

// TokenIssuer signs and verifies primary-scheme bearer tokens (HS256
// JWTs whose subject is the primary user ID).
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer returns an issuer for secret.
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("token secret too short (minimum %d characters)", MinSecretLen)
	}

	return &TokenIssuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed token for userID valid for ttl.
func (ti *TokenIssuer) Issue(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}

	now := ti.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// Verify checks the signature, algorithm, issuer and expiry of a token
// and returns its subject.
func (ti *TokenIssuer) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", apperr.ErrInvalidToken)
	}

	return claims.Subject, nil
}
