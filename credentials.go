package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/goliatone/go-errors"
)

// Principal is the outcome of a successful credential check.
type Principal struct {
	Username     string            `json:"username"`
	User         SanitizedUserView `json:"user"`
	Impersonated bool              `json:"impersonated"`
}

// CredentialValidator verifies username/password and impersonation
// credentials against the directory and hasher.
type CredentialValidator struct {
	directory     UserDirectory
	hasher        PasswordHasher
	redactor      *FieldRedactor
	impersonation ImpersonationDefinitions
	logger        Logger

	dummyOnce sync.Once
	dummyHash string
}

var _ UserResolver = (*CredentialValidator)(nil)

// NewCredentialValidator wires a validator from its collaborators.
func NewCredentialValidator(directory UserDirectory, hasher PasswordHasher, redactor *FieldRedactor, impersonation ImpersonationDefinitions) *CredentialValidator {
	if redactor == nil {
		redactor = NewFieldRedactor("password")
	}
	return &CredentialValidator{
		directory:     directory,
		hasher:        hasher,
		redactor:      redactor,
		impersonation: impersonation,
		logger:        newDefLogger(),
	}
}

// WithLogger sets the logger
func (v *CredentialValidator) WithLogger(logger Logger) *CredentialValidator {
	v.logger = normalizeLogger(logger)
	return v
}

// Login verifies the credentials. Every rejection is ErrInvalidCredentials,
// infrastructure failures are ErrUpstreamUnavailable.
func (v *CredentialValidator) Login(ctx context.Context, username, password string) (*Principal, error) {
	if target, ok := v.impersonationTarget(username); ok {
		return v.impersonate(ctx, target, password)
	}
	return v.authenticate(ctx, username, password)
}

// Resolve loads the live user and returns its redacted view. A user that no
// longer exists is ErrUnauthenticated.
func (v *CredentialValidator) Resolve(ctx context.Context, username string) (SanitizedUserView, error) {
	user, err := v.lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	if user == nil {
		v.logger.Debug("resolve user not found", "username", username)
		return nil, ErrUnauthenticated
	}

	return v.redactor.RedactUser(user)
}

// IsImpersonation reports whether username uses the impersonation cipher
func (v *CredentialValidator) IsImpersonation(username string) bool {
	_, ok := v.impersonationTarget(username)
	return ok
}

func (v *CredentialValidator) authenticate(ctx context.Context, username, password string) (*Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		v.compareDummy(password)
		return nil, ErrInvalidCredentials
	}

	user, err := v.lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	if user == nil {
		// compare anyway so unknown users take as long as wrong passwords
		v.compareDummy(password)
		v.logger.Debug("login rejected", "reason", "unknown_user")
		return nil, ErrInvalidCredentials
	}

	ok, err := v.hasher.Compare(password, user.PasswordHash)
	if err != nil {
		return nil, upstreamError(err, "hasher.compare")
	}

	if !ok {
		v.logger.Debug("login rejected", "reason", "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	return v.principal(user, false)
}

func (v *CredentialValidator) impersonate(ctx context.Context, target, password string) (*Principal, error) {
	if !secretsEqual(password, v.impersonation.Password) {
		v.logger.Warn("impersonation rejected", "reason", "password_mismatch")
		return nil, ErrInvalidCredentials
	}

	user, err := v.lookup(ctx, target)
	if err != nil {
		return nil, err
	}

	if user == nil {
		v.logger.Warn("impersonation rejected", "reason", "unknown_user")
		return nil, ErrInvalidCredentials
	}

	return v.principal(user, true)
}

func (v *CredentialValidator) principal(user *User, impersonated bool) (*Principal, error) {
	view, err := v.redactor.RedactUser(user)
	if err != nil {
		return nil, err
	}

	return &Principal{
		Username:     user.Username,
		User:         view,
		Impersonated: impersonated,
	}, nil
}

func (v *CredentialValidator) impersonationTarget(username string) (string, bool) {
	if !v.impersonation.Enabled || v.impersonation.Cipher == "" {
		return "", false
	}

	if !strings.HasPrefix(username, v.impersonation.Cipher) {
		return "", false
	}

	target := strings.TrimSpace(strings.TrimPrefix(username, v.impersonation.Cipher))
	return target, target != ""
}

func (v *CredentialValidator) lookup(ctx context.Context, username string) (*User, error) {
	user, err := v.directory.LookupByUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		v.logger.Error("directory lookup failed", "error", err)
		return nil, upstreamError(err, "directory.lookup")
	}
	return user, nil
}

func (v *CredentialValidator) compareDummy(password string) {
	v.dummyOnce.Do(func() {
		buf := make([]byte, 16)
		_, _ = rand.Read(buf)
		hash, err := v.hasher.Hash(hex.EncodeToString(buf))
		if err != nil {
			v.logger.Warn("failed to prepare dummy hash", "error", err)
			return
		}
		v.dummyHash = hash
	})

	if v.dummyHash == "" {
		return
	}

	if password == "" {
		password = "-"
	}
	_, _ = v.hasher.Compare(password, v.dummyHash)
}

func isNotFound(err error) bool {
	return stderrors.Is(err, ErrUserNotFound) || errors.IsNotFound(err)
}

// secretsEqual compares digests so neither content nor length leak timing
func secretsEqual(given, expected string) bool {
	if expected == "" {
		return false
	}
	a := sha256.Sum256([]byte(given))
	b := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
