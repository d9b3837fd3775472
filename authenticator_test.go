package authn_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-authn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []authn.ActivityEvent
}

func (r *eventRecorder) sink() authn.ActivitySink {
	return authn.ActivitySinkFunc(func(_ context.Context, e authn.ActivityEvent) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
		return nil
	})
}

func (r *eventRecorder) types() []authn.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authn.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *eventRecorder) last() authn.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type authFixture struct {
	auth   *authn.Authenticator
	dir    *memDirectory
	clock  *testClock
	events *eventRecorder
}

func newAuthFixture(t *testing.T, defs *authn.Definitions, opts ...authn.Option) *authFixture {
	t.Helper()

	clock := newTestClock()
	dir := newMemDirectory()
	events := &eventRecorder{}

	hasher, err := authn.NewHasher(defs)
	require.NoError(t, err)
	seedUser(t, dir, hasher, testUsername, testUserPassword)

	opts = append([]authn.Option{
		authn.WithLogger(nopLogger{}),
		authn.WithClock(clock.Now),
		authn.WithActivitySink(events.sink()),
	}, opts...)

	auth, err := authn.NewAuthenticator(defs, dir, hasher, opts...)
	require.NoError(t, err)

	return &authFixture{auth: auth, dir: dir, clock: clock, events: events}
}

func TestNewAuthenticator_Configuration(t *testing.T) {
	t.Run("nil definitions", func(t *testing.T) {
		_, err := authn.NewAuthenticator(nil, newMemDirectory(), nil)
		assert.True(t, authn.IsConfigurationError(err))
	})

	t.Run("nil directory", func(t *testing.T) {
		_, err := authn.NewAuthenticator(testDefinitions(), nil, nil)
		assert.True(t, authn.IsConfigurationError(err))
	})

	t.Run("invalid definitions", func(t *testing.T) {
		defs := testDefinitions()
		defs.JWT.Secret = ""
		_, err := authn.NewAuthenticator(defs, newMemDirectory(), nil)
		assert.True(t, authn.IsConfigurationError(err))
	})

	t.Run("internal-only routes need basic credentials", func(t *testing.T) {
		defs := testDefinitions()
		defs.Basic.Username = ""
		defs.Basic.Password = ""

		routes := authn.NewRouteTable().InternalOnly("*", "/internal/**")
		_, err := authn.NewAuthenticator(defs, newMemDirectory(), nil, authn.WithRoutes(routes))
		require.Error(t, err)
		assert.True(t, authn.IsConfigurationError(err))
	})

	t.Run("hasher built from definitions", func(t *testing.T) {
		auth, err := authn.NewAuthenticator(testDefinitions(), newMemDirectory(), nil, authn.WithLogger(nopLogger{}))
		require.NoError(t, err)
		assert.Equal(t, authn.TransferCookie, auth.Transport().Mode())
	})
}

func TestAuthenticator_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())

		session, err := f.auth.Login(ctx, testUsername, testUserPassword)
		require.NoError(t, err)
		assert.Equal(t, testUsername, session.Username)
		assert.False(t, session.Impersonated)
		assert.False(t, session.User.Has("password"))
		assert.Equal(t, 15*time.Minute, session.AccessExpiresIn(f.clock.Now()))

		claims, err := f.auth.Tokens().DecodeAccessToken(session.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, testUsername, claims.Subject())

		refresh, err := f.auth.Tokens().DecodeRefreshToken(session.Tokens.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, testUsername, refresh.Subject())

		assert.Equal(t, []authn.ActivityEventType{authn.ActivityEventLoginSuccess}, f.events.types())
		assert.Equal(t, f.clock.Now(), f.events.last().OccurredAt)
	})

	t.Run("failure", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())

		session, err := f.auth.Login(ctx, testUsername, "nope")
		assert.Nil(t, session)
		assert.ErrorIs(t, err, authn.ErrInvalidCredentials)

		last := f.events.last()
		assert.Equal(t, authn.ActivityEventLoginFailure, last.EventType)
		assert.Empty(t, last.Username)
		assert.Equal(t, authn.TextCodeInvalidCredentials, last.Metadata["reason"])
	})

	t.Run("impersonation", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())

		session, err := f.auth.Login(ctx, testCipher+testUsername, testImpPassword)
		require.NoError(t, err)
		assert.True(t, session.Impersonated)

		claims, err := f.auth.Tokens().DecodeAccessToken(session.Tokens.AccessToken)
		require.NoError(t, err)
		assert.True(t, claims.Impersonated)
		assert.Equal(t, testUsername, claims.Subject())

		_, err = f.auth.Login(ctx, testCipher+testUsername, "wrong")
		assert.ErrorIs(t, err, authn.ErrInvalidCredentials)

		assert.Equal(t, []authn.ActivityEventType{
			authn.ActivityEventImpersonationSuccess,
			authn.ActivityEventImpersonationFailure,
		}, f.events.types())
	})

	t.Run("sink errors do not fail the login", func(t *testing.T) {
		failing := authn.ActivitySinkFunc(func(context.Context, authn.ActivityEvent) error {
			return errors.New("sink down")
		})
		f := newAuthFixture(t, testDefinitions(), authn.WithActivitySink(failing))

		_, err := f.auth.Login(ctx, testUsername, testUserPassword)
		assert.NoError(t, err)
	})
}

func TestAuthenticator_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates the pair", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())
		session, err := f.auth.Login(ctx, testUsername, testUserPassword)
		require.NoError(t, err)

		f.clock.Advance(10 * time.Minute)
		req := newRequest(http.MethodPost, "/auth/refresh-token").
			withCookie(authn.RefreshTokenCookie, session.Tokens.RefreshToken)

		refreshed, err := f.auth.Refresh(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, testUsername, refreshed.Username)
		assert.NotEqual(t, session.Tokens.AccessToken, refreshed.Tokens.AccessToken)
		assert.NotEqual(t, session.Tokens.RefreshToken, refreshed.Tokens.RefreshToken)
		assert.Equal(t, f.clock.Now().Add(15*time.Minute), refreshed.Tokens.AccessExpiresAt)

		oldClaims, err := f.auth.Tokens().DecodeRefreshToken(session.Tokens.RefreshToken)
		require.NoError(t, err)
		newClaims, err := f.auth.Tokens().DecodeRefreshToken(refreshed.Tokens.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, oldClaims.TokenID(), newClaims.TokenID())

		last := f.events.last()
		assert.Equal(t, authn.ActivityEventTokenRefreshed, last.EventType)
		assert.Equal(t, oldClaims.TokenID(), last.Metadata["previous_token_id"])
	})

	t.Run("access token cannot refresh", func(t *testing.T) {
		defs := testDefinitions()
		defs.TransferMode = authn.TransferBearer
		f := newAuthFixture(t, defs)

		session, err := f.auth.Login(ctx, testUsername, testUserPassword)
		require.NoError(t, err)

		req := newRequest(http.MethodPost, "/auth/refresh-token").
			withHeader(authn.RefreshTokenHeader, session.Tokens.AccessToken)
		_, err = f.auth.Refresh(ctx, req)
		assert.ErrorIs(t, err, authn.ErrTokenClass)
	})

	t.Run("expired refresh token", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())
		session, err := f.auth.Login(ctx, testUsername, testUserPassword)
		require.NoError(t, err)

		f.clock.Advance(time.Hour)
		req := newRequest(http.MethodPost, "/auth/refresh-token").
			withCookie(authn.RefreshTokenCookie, session.Tokens.RefreshToken)
		_, err = f.auth.Refresh(ctx, req)
		assert.ErrorIs(t, err, authn.ErrTokenExpired)
	})

	t.Run("impersonation survives refresh", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())
		session, err := f.auth.Login(ctx, testCipher+testUsername, testImpPassword)
		require.NoError(t, err)

		req := newRequest(http.MethodPost, "/auth/refresh-token").
			withCookie(authn.RefreshTokenCookie, session.Tokens.RefreshToken)
		refreshed, err := f.auth.Refresh(ctx, req)
		require.NoError(t, err)
		assert.True(t, refreshed.Impersonated)
	})

	t.Run("reissue requires a refresh context", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())

		_, err := f.auth.Reissue(ctx, nil)
		assert.ErrorIs(t, err, authn.ErrUnauthenticated)

		_, err = f.auth.Reissue(ctx, &authn.AuthContext{Mode: authn.GuardToken, Username: testUsername})
		assert.ErrorIs(t, err, authn.ErrUnauthenticated)
	})
}

func TestAuthenticator_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("cookie mode", func(t *testing.T) {
		f := newAuthFixture(t, testDefinitions())
		rec := &cookieRecorder{}

		f.auth.Logout(ctx, &authn.AuthContext{Mode: authn.GuardToken, Username: testUsername}, rec)
		assert.Len(t, rec.cookies, 2)

		last := f.events.last()
		assert.Equal(t, authn.ActivityEventLogout, last.EventType)
		assert.Equal(t, testUsername, last.Username)
		assert.Equal(t, false, last.Metadata["client_discard"])
	})

	t.Run("bearer mode", func(t *testing.T) {
		defs := testDefinitions()
		defs.TransferMode = authn.TransferBearer
		f := newAuthFixture(t, defs)
		rec := &cookieRecorder{}

		f.auth.Logout(ctx, nil, rec)
		assert.Empty(t, rec.cookies)
		assert.Equal(t, true, f.events.last().Metadata["client_discard"])
	})
}

func TestAuthenticator_Evaluate(t *testing.T) {
	ctx := context.Background()
	routes := authn.NewRouteTable().
		Public(http.MethodPost, "/auth/login").
		InternalOnly("*", "/internal/**")

	f := newAuthFixture(t, testDefinitions(), authn.WithRoutes(routes))

	session, err := f.auth.Login(ctx, testUsername, testUserPassword)
	require.NoError(t, err)

	ac, err := f.auth.Evaluate(ctx, newRequest(http.MethodGet, "/profile").withCookie(authn.AccessTokenCookie, session.Tokens.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, testUsername, ac.Username)

	ac, err = f.auth.Evaluate(ctx, newRequest(http.MethodPost, "/auth/login"))
	require.NoError(t, err)
	assert.Equal(t, authn.GuardPublic, ac.Mode)

	_, err = f.auth.Evaluate(ctx, newRequest(http.MethodGet, "/internal/status").withCookie(authn.AccessTokenCookie, session.Tokens.AccessToken))
	_, isBasic := authn.Challenge(err)
	assert.True(t, isBasic)

	// annotations added after construction are honored
	f.auth.Routes().Public(http.MethodGet, "/docs/**")
	assert.Equal(t, authn.GuardPublic, f.auth.Guard(newRequest(http.MethodGet, "/docs/index")).Mode())
}

func TestAuthenticator_HashNeverLeaks(t *testing.T) {
	ctx := context.Background()

	for name, fields := range map[string][]string{
		"no redacted fields": nil,
		"email only":         {"email"},
	} {
		t.Run(name, func(t *testing.T) {
			defs := testDefinitions()
			defs.RedactedFields = fields
			f := newAuthFixture(t, defs)

			session, err := f.auth.Login(ctx, testUsername, testUserPassword)
			require.NoError(t, err)
			assert.False(t, session.User.Has("password"))

			refreshed, err := f.auth.Refresh(ctx, newRequest(http.MethodPost, "/auth/refresh-token").
				withCookie(authn.RefreshTokenCookie, session.Tokens.RefreshToken))
			require.NoError(t, err)
			assert.False(t, refreshed.User.Has("password"))

			ac, err := f.auth.Evaluate(ctx, newRequest(http.MethodGet, "/auth/profile").
				withCookie(authn.AccessTokenCookie, session.Tokens.AccessToken))
			require.NoError(t, err)
			assert.False(t, ac.User.Has("password"))
		})
	}
}
