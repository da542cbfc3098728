package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	pkgerrors "github.com/parley-chat/parley/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager([]byte("secret"), time.Hour, 7*24*time.Hour)
}

func TestManager_RoundTrip(t *testing.T) {
	m := newTestManager()

	token, err := m.IssueAccess(42, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Verify(token, UseAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID())
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, UseAccess, claims.Use)
}

func TestManager_ExpiredToken(t *testing.T) {
	m := NewManager([]byte("secret"), time.Nanosecond, time.Nanosecond)

	token, err := m.IssueAccess(1, "alice")
	require.NoError(t, err)

	_, err = m.Verify(token, UseAccess)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
}

func TestManager_WrongKey(t *testing.T) {
	m := newTestManager()
	forged := NewManager([]byte("other-secret"), time.Hour, time.Hour)

	token, err := forged.IssueAccess(1, "alice")
	require.NoError(t, err)

	_, err = m.Verify(token, UseAccess)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
}

func TestManager_UseMismatch(t *testing.T) {
	m := newTestManager()

	refresh, err := m.IssueRefresh(1, "alice")
	require.NoError(t, err)
	access, err := m.IssueAccess(1, "alice")
	require.NoError(t, err)

	t.Run("refresh token presented as access", func(t *testing.T) {
		_, err := m.Verify(refresh, UseAccess)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})

	t.Run("access token presented as refresh", func(t *testing.T) {
		_, err := m.Verify(access, UseRefresh)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})
}

func TestManager_MalformedClaims(t *testing.T) {
	secret := []byte("secret")
	m := NewManager(secret, time.Hour, time.Hour)

	sign := func(t *testing.T, claims Claims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		return token
	}

	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "7",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	t.Run("empty username", func(t *testing.T) {
		token := sign(t, Claims{Use: UseAccess, RegisteredClaims: valid})
		_, err := m.Verify(token, UseAccess)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})

	t.Run("non-numeric subject", func(t *testing.T) {
		claims := Claims{Username: "alice", Use: UseAccess, RegisteredClaims: valid}
		claims.Subject = "not-a-number"
		token := sign(t, claims)
		_, err := m.Verify(token, UseAccess)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})

	t.Run("missing use tag", func(t *testing.T) {
		claims := Claims{Username: "alice", RegisteredClaims: valid}
		token := sign(t, claims)
		_, err := m.Verify(token, UseAccess)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := m.Verify("not.a.jwt", UseAccess)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidToken)
	})
}

func TestManager_RotationProducesDistinctTokens(t *testing.T) {
	m := newTestManager()

	first, err := m.IssuePair(1, "alice")
	require.NoError(t, err)
	second, err := m.IssuePair(1, "alice")
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}
