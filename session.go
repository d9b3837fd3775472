package authn

import "time"

// Session is the outcome of a login or refresh: who was authenticated and
// the tokens issued for them.
type Session struct {
	Principal
	Tokens TokenPair `json:"-"`
}

func newSession(principal Principal, tokens TokenPair) *Session {
	return &Session{Principal: principal, Tokens: tokens}
}

// AccessExpiresIn returns the access token lifetime left at now
func (s *Session) AccessExpiresIn(now time.Time) time.Duration {
	if s == nil || s.Tokens.AccessExpiresAt.IsZero() {
		return 0
	}
	return s.Tokens.AccessExpiresAt.Sub(now)
}
