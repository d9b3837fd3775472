package authn

import (
	"context"
	"log/slog"
)

// Logger is the logging contract used across the package. Args are
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PasswordHasher hashes and compares passwords. The hash representation is
// opaque to the package.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	// Compare reports whether plain matches hash. A mismatch is (false, nil),
	// an error means the comparison could not be performed.
	Compare(plain, hash string) (bool, error)
}

// UserDirectory looks users up by username. An absent user is reported either
// as (nil, nil) or with an error matching ErrUserNotFound. Any other error is
// treated as an infrastructure failure.
type UserDirectory interface {
	LookupByUsername(ctx context.Context, username string) (*User, error)
}

// UserResolver resolves the live, redacted view of a user by username.
type UserResolver interface {
	Resolve(ctx context.Context, username string) (SanitizedUserView, error)
}

// Request is the inbound request surface the guards need.
type Request interface {
	Method() string
	Path() string
	Header(name string) string
	Cookie(name string) string
}

type defLogger struct {
	logger *slog.Logger
}

func newDefLogger() Logger {
	return defLogger{logger: slog.Default().With("component", "AUTHN")}
}

func (d defLogger) Debug(msg string, args ...any) {
	d.logger.Debug(msg, args...)
}

func (d defLogger) Info(msg string, args ...any) {
	d.logger.Info(msg, args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.logger.Warn(msg, args...)
}

func (d defLogger) Error(msg string, args ...any) {
	d.logger.Error(msg, args...)
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return newDefLogger()
	}
	return l
}
