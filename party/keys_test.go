package party

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey(32)
	require.NoError(t, err)
	b, err := GenerateKey(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}

func TestNewPartyCode(t *testing.T) {
	code, err := NewPartyCode(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(partyCodeAlphabet, c), "unexpected character %q", c)
	}
	// the ambiguous glyphs are never issued
	assert.NotContains(t, code, "O")
	assert.NotContains(t, code, "0")
	assert.NotContains(t, code, "I")
	assert.NotContains(t, code, "1")
}
