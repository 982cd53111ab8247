package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned by Inspect for opaque (non-JWT) tokens.
var ErrNotJWT = errors.New("token is not a JWT")

// TokenInfo describes the claims of a bearer token. The signature is not
// verified; the server does that.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token has an expiry before now.
func (i TokenInfo) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ExpiresWithin reports whether the token expires within d of now.
func (i TokenInfo) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !i.ExpiresAt.IsZero() && now.Add(d).After(i.ExpiresAt)
}

// Inspect extracts subject and expiry from a JWT without verifying it.
func Inspect(token string) (TokenInfo, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %w", ErrNotJWT, err)
	}

	info := TokenInfo{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
