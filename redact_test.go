package authn_test

import (
	"testing"

	"github.com/goliatone/go-authn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldRedactor_Redact(t *testing.T) {
	r := authn.NewFieldRedactor("password", " ", "ssn", "does_not_exist")

	record := map[string]any{
		"username": "bob",
		"password": "$2a$hash",
		"ssn":      "123",
		"role":     "admin",
	}

	view := r.Redact(record)
	assert.Equal(t, authn.SanitizedUserView{"username": "bob", "role": "admin"}, view)

	// source record is untouched
	assert.Equal(t, "$2a$hash", record["password"])
	assert.Len(t, record, 4)
}

func TestFieldRedactor_RedactUser(t *testing.T) {
	r := authn.NewFieldRedactor("password", "email")

	view, err := r.RedactUser(&authn.User{
		Username:     "bob",
		Email:        "bob@example.com",
		Role:         "member",
		PasswordHash: "$2a$hash",
	})
	require.NoError(t, err)

	assert.Equal(t, "bob", view.GetString("username"))
	assert.Equal(t, "member", view.GetString("role"))
	assert.False(t, view.Has("password"))
	assert.False(t, view.Has("email"))

	_, err = r.RedactUser(nil)
	assert.ErrorIs(t, err, authn.ErrUserNotFound)
}

func TestFieldRedactor_EmptySet(t *testing.T) {
	view := authn.NewFieldRedactor().Redact(map[string]any{"password": "x"})
	assert.True(t, view.Has("password"))
}

func TestFieldRedactor_RedactUserAlwaysDropsHash(t *testing.T) {
	user := &authn.User{
		Username:     "bob",
		Email:        "bob@example.com",
		PasswordHash: "$2a$hash",
	}

	for name, r := range map[string]*authn.FieldRedactor{
		"empty": authn.NewFieldRedactor(),
		"email": authn.NewFieldRedactor("email"),
	} {
		view, err := r.RedactUser(user)
		require.NoError(t, err, name)
		assert.False(t, view.Has("password"), name)
		assert.Equal(t, "bob", view.GetString("username"), name)
	}
}
