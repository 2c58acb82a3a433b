package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginTokenRoundTrip(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)

	token, err := mgr.MintLoginToken("u@lab.edu")
	require.NoError(t, err)

	email, err := mgr.VerifyLoginToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u@lab.edu", email)
}

func TestSessionRoundTrip(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)

	token, err := mgr.MintSession("u@lab.edu")
	require.NoError(t, err)

	email, err := mgr.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, "u@lab.edu", email)
}

func TestPurposeMismatch(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)

	login, err := mgr.MintLoginToken("u@lab.edu")
	require.NoError(t, err)
	session, err := mgr.MintSession("u@lab.edu")
	require.NoError(t, err)

	// A magic-link token must not double as a session cookie, or vice versa.
	_, err = mgr.VerifySession(login)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = mgr.VerifyLoginToken(session)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).MintSession("u@lab.edu")
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).VerifySession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredSession(t *testing.T) {
	mgr := NewManager("test-secret", -time.Minute)

	token, err := mgr.MintSession("u@lab.edu")
	require.NoError(t, err)

	_, err = mgr.VerifySession(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGarbageToken(t *testing.T) {
	mgr := NewManager("test-secret", time.Hour)
	_, err := mgr.VerifySession("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
