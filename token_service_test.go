package authn_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenService(t *testing.T, clock *testClock, mutate ...func(*authn.JWTDefinitions)) *authn.TokenService {
	t.Helper()

	defs := testDefinitions().JWT
	for _, m := range mutate {
		m(&defs)
	}

	ts, err := authn.NewTokenService(defs, nopLogger{})
	require.NoError(t, err)
	return ts.WithClock(clock.Now)
}

func TestNewTokenService(t *testing.T) {
	t.Run("requires a secret", func(t *testing.T) {
		_, err := authn.NewTokenService(authn.JWTDefinitions{}, nil)
		require.Error(t, err)
		assert.True(t, authn.IsConfigurationError(err))
	})

	t.Run("rejects asymmetric methods", func(t *testing.T) {
		_, err := authn.NewTokenService(authn.JWTDefinitions{Secret: "s", SigningMethod: "RS256"}, nil)
		require.Error(t, err)
		assert.True(t, authn.IsConfigurationError(err))
	})

	t.Run("defaults to HS256 with nil logger", func(t *testing.T) {
		ts, err := authn.NewTokenService(authn.JWTDefinitions{Secret: "s", AccessExpiry: time.Minute}, nil)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, ts.AccessTTL())
	})
}

func TestTokenService_RoundTrip(t *testing.T) {
	clock := newTestClock()
	ts := newTokenService(t, clock)

	for _, username := range []string{"a@b.com", "bob", "user with spaces", "üñí"} {
		t.Run(username, func(t *testing.T) {
			token, err := ts.IssueAccessToken(username)
			require.NoError(t, err)

			claims, err := ts.DecodeAccessToken(token)
			require.NoError(t, err)

			assert.Equal(t, username, claims.Subject())
			assert.Equal(t, authn.TokenClassAccess, claims.TokenClass())
			assert.Equal(t, clock.Now().Add(15*time.Minute).Unix(), claims.Expires().Unix())
			assert.Equal(t, clock.Now().Unix(), claims.IssuedAt().Unix())
			assert.NotEmpty(t, claims.TokenID())
			assert.False(t, claims.Impersonated)
		})
	}

	t.Run("refresh tokens use their own ttl", func(t *testing.T) {
		token, err := ts.IssueRefreshToken("bob")
		require.NoError(t, err)

		claims, err := ts.DecodeRefreshToken(token)
		require.NoError(t, err)
		assert.Equal(t, authn.TokenClassRefresh, claims.TokenClass())
		assert.Equal(t, clock.Now().Add(time.Hour).Unix(), claims.Expires().Unix())
	})
}

func TestTokenService_ExpiryBoundary(t *testing.T) {
	clock := newTestClock()
	ts := newTokenService(t, clock)
	issuedAt := clock.Now()

	access, err := ts.IssueAccessToken("bob")
	require.NoError(t, err)
	refresh, err := ts.IssueRefreshToken("bob")
	require.NoError(t, err)

	accessExp := issuedAt.Add(15 * time.Minute)
	refreshExp := issuedAt.Add(time.Hour)

	t.Run("access accepted one second before exp", func(t *testing.T) {
		clock.Set(accessExp.Add(-time.Second))
		_, err := ts.DecodeAccessToken(access)
		assert.NoError(t, err)
	})

	t.Run("access rejected at exp", func(t *testing.T) {
		clock.Set(accessExp)
		_, err := ts.DecodeAccessToken(access)
		require.ErrorIs(t, err, authn.ErrTokenExpired)
		assert.Equal(t, "expired", authn.TokenFailureReason(err))
		assert.True(t, authn.IsTokenExpiredError(err))
	})

	t.Run("refresh accepted one second before exp", func(t *testing.T) {
		clock.Set(refreshExp.Add(-time.Second))
		_, err := ts.DecodeRefreshToken(refresh)
		assert.NoError(t, err)
	})

	t.Run("refresh rejected at exp", func(t *testing.T) {
		clock.Set(refreshExp)
		_, err := ts.DecodeRefreshToken(refresh)
		require.ErrorIs(t, err, authn.ErrTokenExpired)
	})

	t.Run("sub second clock does not extend validity", func(t *testing.T) {
		clock.Set(accessExp.Add(500 * time.Millisecond))
		_, err := ts.DecodeAccessToken(access)
		require.ErrorIs(t, err, authn.ErrTokenExpired)
	})
}

func TestTokenService_Leeway(t *testing.T) {
	clock := newTestClock()
	ts := newTokenService(t, clock, func(d *authn.JWTDefinitions) {
		d.AccessLeeway = 30 * time.Second
	})
	exp := clock.Now().Add(15 * time.Minute)

	token, err := ts.IssueAccessToken("bob")
	require.NoError(t, err)

	clock.Set(exp.Add(29 * time.Second))
	_, err = ts.DecodeAccessToken(token)
	assert.NoError(t, err)

	clock.Set(exp.Add(30 * time.Second))
	_, err = ts.DecodeAccessToken(token)
	assert.ErrorIs(t, err, authn.ErrTokenExpired)
}

func TestTokenService_DecodeFailures(t *testing.T) {
	clock := newTestClock()
	ts := newTokenService(t, clock)

	access, err := ts.IssueAccessToken("bob")
	require.NoError(t, err)
	refresh, err := ts.IssueRefreshToken("bob")
	require.NoError(t, err)

	other := newTokenService(t, clock, func(d *authn.JWTDefinitions) {
		d.Secret = "another-secret"
	})
	foreign, err := other.IssueAccessToken("bob")
	require.NoError(t, err)

	hs512 := newTokenService(t, clock, func(d *authn.JWTDefinitions) {
		d.SigningMethod = "HS512"
	})
	wrongAlg, err := hs512.IssueAccessToken("bob")
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "bob",
		"typ": "access",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": clock.Now().Add(time.Hour).Unix(),
		"typ": "access",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		decode func(string) (*authn.JWTClaims, error)
		token  string
		reason string
	}{
		{"empty", ts.DecodeAccessToken, "", "missing"},
		{"garbage", ts.DecodeAccessToken, "not-a-token", "malformed"},
		{"truncated", ts.DecodeAccessToken, access[:len(access)-10] + "@@", "malformed"},
		{"other secret", ts.DecodeAccessToken, foreign, "signature"},
		{"other algorithm", ts.DecodeAccessToken, wrongAlg, "signature"},
		{"refresh as access", ts.DecodeAccessToken, refresh, "class"},
		{"access as refresh", ts.DecodeRefreshToken, access, "class"},
		{"missing exp", ts.DecodeAccessToken, noExp, "claims"},
		{"missing subject", ts.DecodeAccessToken, noSub, "claims"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := tc.decode(tc.token)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.Equal(t, tc.reason, authn.TokenFailureReason(err))
			assert.True(t, authn.IsUnauthenticated(err))
			assert.Equal(t, authn.GenericAuthMessage, errMessage(err))
		})
	}
}

func TestTokenService_IssuerAudience(t *testing.T) {
	clock := newTestClock()
	ts := newTokenService(t, clock, func(d *authn.JWTDefinitions) {
		d.Issuer = "authn"
		d.Audience = []string{"web", "api"}
	})

	token, err := ts.IssueAccessToken("bob")
	require.NoError(t, err)
	_, err = ts.DecodeAccessToken(token)
	require.NoError(t, err)

	other := newTokenService(t, clock, func(d *authn.JWTDefinitions) {
		d.Issuer = "someone-else"
		d.Audience = []string{"web"}
	})
	foreign, err := other.IssueAccessToken("bob")
	require.NoError(t, err)

	_, err = ts.DecodeAccessToken(foreign)
	assert.Equal(t, "claims", authn.TokenFailureReason(err))
}

func TestTokenService_IssueOptions(t *testing.T) {
	clock := newTestClock()
	ts := newTokenService(t, clock)

	t.Run("impersonation marker survives", func(t *testing.T) {
		pair, err := ts.IssuePair("bob", authn.WithImpersonation(true))
		require.NoError(t, err)

		access, err := ts.DecodeAccessToken(pair.AccessToken)
		require.NoError(t, err)
		refresh, err := ts.DecodeRefreshToken(pair.RefreshToken)
		require.NoError(t, err)

		assert.True(t, access.Impersonated)
		assert.True(t, refresh.Impersonated)
		assert.NotEqual(t, access.TokenID(), refresh.TokenID())
		assert.Equal(t, clock.Now().Add(15*time.Minute), pair.AccessExpiresAt)
		assert.Equal(t, clock.Now().Add(time.Hour), pair.RefreshExpiresAt)
	})

	t.Run("options cannot change subject or class", func(t *testing.T) {
		token, err := ts.IssueAccessToken("bob", func(c *authn.JWTClaims) {
			c.RegisteredClaims.Subject = "mallory"
			c.Class = authn.TokenClassRefresh
		})
		require.NoError(t, err)

		claims, err := ts.DecodeAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, "bob", claims.Subject())
		assert.Equal(t, authn.TokenClassAccess, claims.TokenClass())
	})

	t.Run("empty subject is rejected", func(t *testing.T) {
		_, err := ts.IssueAccessToken("  ")
		assert.Error(t, err)
	})
}

func TestTokenService_Observer(t *testing.T) {
	clock := newTestClock()

	var reasons []string
	var classes []authn.TokenClass
	ts := newTokenService(t, clock).WithObserver(authn.TokenObserverFunc(func(class authn.TokenClass, reason string, _ error) {
		classes = append(classes, class)
		reasons = append(reasons, reason)
	}))

	token, err := ts.IssueAccessToken("bob")
	require.NoError(t, err)

	_, _ = ts.DecodeAccessToken("garbage")
	_, _ = ts.DecodeRefreshToken(token)
	clock.Advance(time.Hour)
	_, _ = ts.DecodeAccessToken(token)

	assert.Equal(t, []string{"malformed", "class", "expired"}, reasons)
	assert.Equal(t, []authn.TokenClass{authn.TokenClassAccess, authn.TokenClassRefresh, authn.TokenClassAccess}, classes)
}
