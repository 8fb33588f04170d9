package cryptox

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("length scales with size", func(t *testing.T) {
		t.Parallel()

		tok256, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		require.Len(t, tok256, 43)

		tok384, err := GenerateToken(TokenSize384)
		require.NoError(t, err)
		require.Len(t, tok384, 64)
	})

	t.Run("rejects non-positive size", func(t *testing.T) {
		t.Parallel()

		_, err := GenerateToken(0)
		require.Error(t, err)

		_, err = GenerateToken(-1)
		require.Error(t, err)
	})

	t.Run("tokens are unique", func(t *testing.T) {
		t.Parallel()

		seen := make(map[string]bool)
		for range 100 {
			tok, err := GenerateToken(TokenSize256)
			require.NoError(t, err)
			require.False(t, seen[tok])
			seen[tok] = true
		}
	})
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	fp := FingerprintToken("some-token")
	require.Len(t, fp, 43)
	require.Equal(t, fp, FingerprintToken("some-token"))
	require.NotEqual(t, fp, FingerprintToken("other-token"))
}

func TestGenerateNumericCode(t *testing.T) {
	t.Parallel()

	for range 50 {
		code, err := GenerateNumericCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)

		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 1000000)
	}

	_, err := GenerateNumericCode(0)
	require.Error(t, err)
}

func TestConstantTimeEquals(t *testing.T) {
	t.Parallel()

	require.True(t, ConstantTimeEquals("abc", "abc"))
	require.False(t, ConstantTimeEquals("abc", "abd"))
	require.False(t, ConstantTimeEquals("abc", "abcd"))
}
