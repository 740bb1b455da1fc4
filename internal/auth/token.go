// Package auth inspects the dashboard API token the relay presents to the backend.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is not a parseable JWT.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpired is returned when the token's exp is in the past.
	ErrExpired = errors.New("auth: token expired")
)

// TokenInfo is what the relay reads from the API token. The signature is not verified; the relay
// is not the issuer and the backend validates the token on every request.
type TokenInfo struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time // zero when the token has no exp
}

// ExpiresWithin reports whether the token expires within d of now. Tokens without exp never do.
func (i TokenInfo) ExpiresWithin(now time.Time, d time.Duration) bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return !i.ExpiresAt.After(now.Add(d))
}

// ParseToken reads the registered claims of token without verifying its signature.
func ParseToken(token string) (TokenInfo, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	info := TokenInfo{Subject: claims.Subject, Issuer: claims.Issuer}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return info, nil
}

// CheckToken parses token and rejects it when already expired at now. soon reports whether it
// expires within window, so callers can warn before a prompt fails mid-countdown.
func CheckToken(token string, now time.Time, window time.Duration) (info TokenInfo, soon bool, err error) {
	info, err = ParseToken(token)
	if err != nil {
		return info, false, err
	}
	if !info.ExpiresAt.IsZero() && !info.ExpiresAt.After(now) {
		return info, false, fmt.Errorf("%w at %s", ErrExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	return info, info.ExpiresWithin(now, window), nil
}
