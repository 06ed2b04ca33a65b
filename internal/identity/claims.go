package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccountClaims is the informational view of an account token.
// The token is never verified client-side; the backend remains the authority.
type AccountClaims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time // zero if the token carries no exp
}

type tokenClaims struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// ParseAccountClaims decodes a JWT account token without verifying its signature.
// Returns false for opaque (non-JWT) tokens.
func ParseAccountClaims(token string) (AccountClaims, bool) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return AccountClaims{}, false
	}
	out := AccountClaims{Subject: claims.Subject, Email: claims.Email}
	if out.Subject == "" {
		out.Subject = claims.UserID
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, true
}

// Expired reports whether the claims carry an exp that has passed at now.
func (c AccountClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
