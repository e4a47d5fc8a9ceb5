package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToken_RoundTrip(t *testing.T) {
	t.Parallel()
	token, err := GenerateToken("secret", 42, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("secret", token)
	require.NoError(t, err)
	id, err := TokenUserID(claims)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = ValidateToken("other", token)
	require.Error(t, err)
}

func TestToken_Expired(t *testing.T) {
	t.Parallel()
	token, err := GenerateToken("secret", 1, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateToken("secret", token)
	require.Error(t, err)
}
