package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerRoundTrip(t *testing.T) {
	_, err := NewManager("")
	require.Error(t, err)

	m, err := NewManager("secret")
	require.NoError(t, err)
	tok, err := m.NewJWT("user-1", "authenticated", time.Hour)
	require.NoError(t, err)

	claims, err := m.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "authenticated", claims.Role)
}

func TestManagerRejects(t *testing.T) {
	m, _ := NewManager("secret")
	other, _ := NewManager("other")

	expired, err := m.NewJWT("user-1", "", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.NewJWT("user-1", "", time.Hour)
	require.NoError(t, err)
	anonymous, err := m.NewJWT("", "", time.Hour)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   expired,
		"foreign":   foreign,
		"anonymous": anonymous,
		"garbage":   "not.a.token",
	} {
		_, err := m.Parse(tok)
		require.ErrorIs(t, err, ErrInvalidToken, name)
	}
}
