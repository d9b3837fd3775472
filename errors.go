package authn

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
)

// Text codes attached to the package errors. They are meant for logs and
// observability, clients only ever see the generic message.
const (
	TextCodeUnauthenticated     = "UNAUTHENTICATED"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeTokenMissing        = "TOKEN_MISSING"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
	TextCodeTokenSignature      = "TOKEN_SIGNATURE_INVALID"
	TextCodeTokenExpired        = "TOKEN_EXPIRED"
	TextCodeTokenClass          = "TOKEN_CLASS_MISMATCH"
	TextCodeTokenClaims         = "TOKEN_CLAIMS_INVALID"
	TextCodeBasicAuth           = "BASIC_AUTH_FAILED"
	TextCodeForbidden           = "FORBIDDEN"
	TextCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	TextCodeConfiguration       = "CONFIGURATION_ERROR"
)

// GenericAuthMessage is the only message clients get on a 401.
const GenericAuthMessage = "Unauthorized"

// metadata key holding the WWW-Authenticate challenge of a basic denial
const challengeKey = "www_authenticate"

// ErrUserNotFound is returned by directories for absent users. It never
// reaches callers of Login, which see ErrInvalidCredentials instead.
var ErrUserNotFound = stderrors.New("user not found")

var (
	// ErrUnauthenticated is the generic denial for guarded requests
	ErrUnauthenticated = newAuthError(TextCodeUnauthenticated)

	// ErrInvalidCredentials is the single rejection outcome of Login
	ErrInvalidCredentials = newAuthError(TextCodeInvalidCredentials)

	// ErrTokenMissing no token found on the configured channels
	ErrTokenMissing = newAuthError(TextCodeTokenMissing)

	// ErrTokenMalformed token could not be parsed
	ErrTokenMalformed = newAuthError(TextCodeTokenMalformed)

	// ErrTokenSignature token signature or algorithm is invalid
	ErrTokenSignature = newAuthError(TextCodeTokenSignature)

	// ErrTokenExpired token exp is at or before now
	ErrTokenExpired = newAuthError(TextCodeTokenExpired)

	// ErrTokenClass an access token was used as refresh token or the reverse
	ErrTokenClass = newAuthError(TextCodeTokenClass)

	// ErrTokenClaims required claims are missing or do not match
	ErrTokenClaims = newAuthError(TextCodeTokenClaims)

	// ErrBasicAuth internal-only route called without valid basic credentials
	ErrBasicAuth = newAuthError(TextCodeBasicAuth)

	// ErrForbidden is reserved for role checks
	ErrForbidden = errors.New("Forbidden", errors.CategoryAuthz).
			WithCode(errors.CodeForbidden).
			WithTextCode(TextCodeForbidden)

	// ErrUpstreamUnavailable directory or hasher failed for infrastructure reasons
	ErrUpstreamUnavailable = errors.New("Service unavailable", errors.CategoryInternal).
				WithCode(http.StatusServiceUnavailable).
				WithTextCode(TextCodeUpstreamUnavailable)

	// ErrConfiguration definitions are incomplete or inconsistent
	ErrConfiguration = errors.New("invalid auth configuration", errors.CategoryValidation).
				WithCode(errors.CodeBadRequest).
				WithTextCode(TextCodeConfiguration)
)

func newAuthError(textCode string) *errors.Error {
	return errors.New(GenericAuthMessage, errors.CategoryAuth).
		WithCode(errors.CodeUnauthorized).
		WithTextCode(textCode)
}

// upstreamError wraps an infrastructure failure keeping the cause for logs
func upstreamError(err error, operation string) *errors.Error {
	return errors.Wrap(err, errors.CategoryInternal, ErrUpstreamUnavailable.Message).
		WithCode(ErrUpstreamUnavailable.Code).
		WithTextCode(TextCodeUpstreamUnavailable).
		WithMetadata(map[string]any{"operation": operation})
}

// basicChallenge returns a basic auth denial carrying the realm challenge
func basicChallenge(realm string) *errors.Error {
	return ErrBasicAuth.Clone().WithMetadata(map[string]any{
		challengeKey: `Basic realm="` + strings.ReplaceAll(realm, `"`, `\"`) + `"`,
	})
}

// configurationError returns ErrConfiguration with the offending fields
func configurationError(err error) *errors.Error {
	return errors.Wrap(err, errors.CategoryValidation, ErrConfiguration.Message).
		WithCode(ErrConfiguration.Code).
		WithTextCode(TextCodeConfiguration)
}

func textCode(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// IsUnauthenticated reports whether err is any 401 outcome of the package
func IsUnauthenticated(err error) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.Category == errors.CategoryAuth
}

// IsUpstreamError reports whether err came from a failing collaborator
func IsUpstreamError(err error) bool {
	return textCode(err) == TextCodeUpstreamUnavailable
}

// IsConfigurationError reports whether err comes from definitions validation
func IsConfigurationError(err error) bool {
	return textCode(err) == TextCodeConfiguration
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if textCode(err) == TextCodeTokenExpired {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for malformed or missing tokens
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	switch textCode(err) {
	case TextCodeTokenMalformed, TextCodeTokenMissing:
		return true
	}
	return strings.Contains(err.Error(), "token is malformed")
}

// TokenFailureReason maps a decode error to a short reason for logs.
func TokenFailureReason(err error) string {
	switch textCode(err) {
	case TextCodeTokenMissing:
		return "missing"
	case TextCodeTokenMalformed:
		return "malformed"
	case TextCodeTokenSignature:
		return "signature"
	case TextCodeTokenExpired:
		return "expired"
	case TextCodeTokenClass:
		return "class"
	case TextCodeTokenClaims:
		return "claims"
	case "":
		return ""
	default:
		return "unknown"
	}
}

// Challenge returns the WWW-Authenticate value carried by a basic denial.
func Challenge(err error) (string, bool) {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr.Metadata == nil {
		return "", false
	}
	val, ok := richErr.Metadata[challengeKey].(string)
	return val, ok && val != ""
}

// StatusCode maps an error to the HTTP status the surface should answer with.
func StatusCode(err error) int {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	switch richErr.Category {
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryBadInput, errors.CategoryValidation:
		return http.StatusBadRequest
	}

	if richErr.TextCode == TextCodeUpstreamUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
