// Package urlsign issues and verifies signed download tokens for the
// local storage backend. Tokens are HMAC-signed JWTs carrying the object
// key and an expiry, so they can be verified without any backend call.
package urlsign

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lithammer/shortuuid/v4"
)

// Claims is the payload embedded in a signed download token.
type Claims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// Signer issues and verifies signed download tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// New creates a Signer with the given HMAC secret.
func New(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// WithClock returns a copy of the Signer using now as its clock.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{secret: s.secret, now: now}
}

// Sign returns a token granting access to key until ttl elapses.
// Each token carries a unique ID so two tokens for the same key differ.
func (s *Signer) Sign(key string, ttl time.Duration) (string, error) {
	issued := s.now()
	claims := Claims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        shortuuid.New(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the object key it grants.
func (s *Signer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Key == "" {
		return "", errors.New("token has no key claim")
	}
	return claims.Key, nil
}
