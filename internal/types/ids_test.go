package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomString(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s, err := RandomString(16)
		require.NoError(t, err)
		require.Len(t, s, 16)
		for _, r := range s {
			require.True(t, strings.ContainsRune(idAlphabet, r), "unexpected rune %q", r)
		}
		seen[s] = true
	}
	assert.Len(t, seen, 50)
}

func TestCodeFromURL(t *testing.T) {
	code, err := CodeFromURL("https://classic.minecraft.net/?join=mcmp_abc123&x=1")
	require.NoError(t, err)
	assert.Equal(t, "mcmp_abc123", code)

	_, err = CodeFromURL("https://classic.minecraft.net/")
	require.ErrorIs(t, err, ErrNoJoinCode)

	_, err = CodeFromURL("://nope")
	require.Error(t, err)
}
