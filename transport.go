package authn

import (
	"net/http"
	"strings"
	"time"
)

const (
	// AccessTokenCookie is the cookie carrying the access token
	AccessTokenCookie = "AccessToken"
	// RefreshTokenCookie is the cookie carrying the refresh token
	RefreshTokenCookie = "RefreshToken"
	// RefreshTokenHeader is the header carrying the refresh token
	RefreshTokenHeader = "Refresh-Token"
	// AuthorizationHeader carries the access token as a bearer credential
	AuthorizationHeader = "Authorization"
	// BearerScheme is the authorization scheme for access tokens
	BearerScheme = "Bearer"
)

// CookieWriter receives outbound cookies.
type CookieWriter interface {
	SetCookie(cookie *http.Cookie)
}

// TokenExtractor pulls a raw token out of a request, empty if absent
type TokenExtractor func(req Request) string

// TokenResponse is the token payload returned in the response body for the
// bearer channel.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// TokenTransport moves tokens between requests, cookies and response bodies
// according to the transfer mode.
type TokenTransport struct {
	mode              TransferMode
	cookie            CookieDefinitions
	clock             Clock
	accessExtractors  []TokenExtractor
	refreshExtractors []TokenExtractor
}

// NewTokenTransport returns a transport for mode. With TransferBoth the
// cookie channel is tried before the header channel.
func NewTokenTransport(mode TransferMode, cookie CookieDefinitions) *TokenTransport {
	t := &TokenTransport{
		mode:   mode,
		cookie: cookie,
		clock:  time.Now,
	}

	if mode.UsesCookie() {
		t.accessExtractors = append(t.accessExtractors, fromCookie(AccessTokenCookie))
		t.refreshExtractors = append(t.refreshExtractors, fromCookie(RefreshTokenCookie))
	}

	if mode.UsesBearer() {
		t.accessExtractors = append(t.accessExtractors, fromAuthHeader(AuthorizationHeader, BearerScheme))
		t.refreshExtractors = append(t.refreshExtractors, fromRawHeader(RefreshTokenHeader, BearerScheme))
	}

	return t
}

// WithClock overrides the time source used for cookie expiry
func (t *TokenTransport) WithClock(clock Clock) *TokenTransport {
	if clock != nil {
		t.clock = clock
	}
	return t
}

// Mode returns the transfer mode
func (t *TokenTransport) Mode() TransferMode {
	return t.mode
}

// ExtractAccessToken returns the first non empty access token found
func (t *TokenTransport) ExtractAccessToken(req Request) string {
	return extract(req, t.accessExtractors)
}

// ExtractRefreshToken returns the first non empty refresh token found
func (t *TokenTransport) ExtractRefreshToken(req Request) string {
	return extract(req, t.refreshExtractors)
}

// Deliver writes pair to the active channels. The returned body payload is
// nil when only the cookie channel is active.
func (t *TokenTransport) Deliver(w CookieWriter, pair TokenPair) *TokenResponse {
	now := t.clock()

	if t.mode.UsesCookie() && w != nil {
		w.SetCookie(t.newCookie(AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt, now))
		w.SetCookie(t.newCookie(RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt, now))
	}

	if !t.mode.UsesBearer() {
		return nil
	}

	return &TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        BearerScheme,
		ExpiresIn:        secondsUntil(pair.AccessExpiresAt, now),
		RefreshExpiresIn: secondsUntil(pair.RefreshExpiresAt, now),
	}
}

// Clear expires the token cookies. Bearer clients are expected to discard
// their tokens, ClientDiscard reports when that applies.
func (t *TokenTransport) Clear(w CookieWriter) {
	if !t.mode.UsesCookie() || w == nil {
		return
	}

	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := t.newCookie(name, "", time.Unix(0, 0), t.clock())
		c.MaxAge = -1
		w.SetCookie(c)
	}
}

// ClientDiscard reports whether the client must drop its own tokens on logout
func (t *TokenTransport) ClientDiscard() bool {
	return t.mode.UsesBearer()
}

func (t *TokenTransport) newCookie(name, value string, expires, now time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   t.cookie.Domain,
		Path:     t.cookie.Path,
		Expires:  expires,
		Secure:   t.cookie.Secure,
		HttpOnly: t.cookie.HTTPOnly,
		SameSite: SameSiteMode(t.cookie.SameSite),
	}

	if c.Path == "" {
		c.Path = "/"
	}

	if value != "" {
		c.MaxAge = int(secondsUntil(expires, now))
	}

	return c
}

// SameSiteMode maps the configured sameSite value to net/http
func SameSiteMode(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax", "":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

func secondsUntil(t, now time.Time) int64 {
	s := int64(t.Sub(now) / time.Second)
	if s < 0 {
		return 0
	}
	return s
}

func extract(req Request, extractors []TokenExtractor) string {
	for _, extractor := range extractors {
		if raw := extractor(req); raw != "" {
			return raw
		}
	}
	return ""
}

func fromCookie(name string) TokenExtractor {
	return func(req Request) string {
		return strings.TrimSpace(req.Cookie(name))
	}
}

// fromAuthHeader requires the scheme prefix
func fromAuthHeader(header, scheme string) TokenExtractor {
	return func(req Request) string {
		v := strings.TrimSpace(req.Header(header))
		l := len(scheme)
		if len(v) > l+1 && strings.EqualFold(v[:l], scheme) && v[l] == ' ' {
			return strings.TrimSpace(v[l+1:])
		}
		return ""
	}
}

// fromRawHeader accepts the token with or without the scheme prefix
func fromRawHeader(header, scheme string) TokenExtractor {
	withScheme := fromAuthHeader(header, scheme)
	return func(req Request) string {
		if raw := withScheme(req); raw != "" {
			return raw
		}
		v := strings.TrimSpace(req.Header(header))
		if strings.ContainsRune(v, ' ') {
			return ""
		}
		return v
	}
}
