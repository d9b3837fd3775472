package authn

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenClass tells access and refresh tokens apart
type TokenClass string

const (
	TokenClassAccess  TokenClass = "access"
	TokenClassRefresh TokenClass = "refresh"
)

// JWTClaims is the payload carried by access and refresh tokens.
type JWTClaims struct {
	jwt.RegisteredClaims
	Class        TokenClass `json:"typ"`
	Impersonated bool       `json:"imp,omitempty"`
}

// Subject returns the username the token was issued for
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// TokenClass returns the class marker
func (c *JWTClaims) TokenClass() TokenClass {
	return c.Class
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// TokenID returns the jti claim
func (c *JWTClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// IssueOption customizes claims before signing.
type IssueOption func(*JWTClaims)

// WithImpersonation marks the token as issued through impersonation
func WithImpersonation(impersonated bool) IssueOption {
	return func(c *JWTClaims) {
		c.Impersonated = impersonated
	}
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}
