// Package codec encodes and decodes signed, time-bound JWT credentials.
//
// Tokens are compact HS256 JWS strings whose payload carries exactly
// 'sub', 'iat', 'exp' and optionally 'jti'.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingMethod = jwt.SigningMethodHS256

// Decoded token payload
type Claims struct {
	Subject   string
	ID        string // jti, empty for access tokens
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Codec struct {
	now func() time.Time
}

// Create codec that reads current time from 'now'
// If now is nil time.Now is used
func New(now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{now: now}
}

// Issue signs claims {sub, iat, exp, [jti]} with key
// jti is omitted from the payload when empty
func (c *Codec) Issue(subject string, ttl time.Duration, key []byte, jti string) (string, Claims, error) {
	if subject == "" {
		return "", Claims{}, errors.New("subject must not be empty")
	}
	if len(key) == 0 {
		return "", Claims{}, errors.New("signing key must not be empty")
	}

	now := c.now().UTC().Truncate(time.Second)
	claims := Claims{
		Subject:   subject,
		ID:        jti,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	token := jwt.NewWithClaims(signingMethod, jwt.RegisteredClaims{
		Subject:   claims.Subject,
		ID:        claims.ID,
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})

	signed, err := token.SignedString(key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("error while signing token. Err: %w", err)
	}

	return signed, claims, nil
}

// Verify checks signature, expiration and issued-at of the token
// Any failure (malformed, foreign key, expired, 'none' alg) reports false
func (c *Codec) Verify(token string, key []byte) (Claims, bool) {
	if len(key) == 0 || token == "" {
		return Claims{}, false
	}

	registered := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		registered,
		func(t *jwt.Token) (any, error) {
			return key, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Claims{}, false
	}

	claims := Claims{
		Subject:   registered.Subject,
		ID:        registered.ID,
		ExpiresAt: registered.ExpiresAt.UTC(),
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.UTC()
	}

	return claims, true
}
