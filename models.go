package authn

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the directory record. The package reads it but never mutates it.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username      string         `bun:"username,notnull,unique" json:"username"`
	Email         string         `bun:"email" json:"email,omitempty"`
	FirstName     string         `bun:"first_name" json:"first_name,omitempty"`
	LastName      string         `bun:"last_name" json:"last_name,omitempty"`
	Role          string         `bun:"user_role" json:"role,omitempty"`
	PasswordHash  string         `bun:"password_hash" json:"password,omitempty"`
	Metadata      map[string]any `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// SanitizedUserView is a user record with the redacted fields removed. It is
// recomputed on every read and never persisted.
type SanitizedUserView map[string]any

// Has reports whether field is present in the view
func (v SanitizedUserView) Has(field string) bool {
	_, ok := v[field]
	return ok
}

// GetString returns field as a string, empty if absent or not a string
func (v SanitizedUserView) GetString(field string) string {
	s, _ := v[field].(string)
	return s
}

// AuthContext is the per request authentication result.
type AuthContext struct {
	Mode         GuardMode         `json:"mode"`
	Username     string            `json:"username,omitempty"`
	User         SanitizedUserView `json:"user,omitempty"`
	Impersonated bool              `json:"impersonated"`
	Claims       *JWTClaims        `json:"-"`
}

// Authenticated reports whether an end user was resolved
func (a *AuthContext) Authenticated() bool {
	return a != nil && a.Username != ""
}
