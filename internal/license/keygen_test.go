package license

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	seen := make(map[string]bool)
	for range 500 {
		key, err := GenerateKey(rand.Reader)
		require.NoError(t, err)
		assert.True(t, ValidKey(key), key)
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestGenerateKey_Deterministic(t *testing.T) {
	key, err := GenerateKey(bytes.NewReader(bytes.Repeat([]byte{0xab}, 16)))
	require.NoError(t, err)
	assert.Equal(t, "ES-ABABABABABABABABABABABABABABABAB", key)
}

func TestGenerateKey_ShortRead(t *testing.T) {
	_, err := GenerateKey(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("ES-0123456789ABCDEF0123456789ABCDEF"))
	assert.False(t, ValidKey("ES-0123456789abcdef0123456789abcdef"))
	assert.False(t, ValidKey("XS-0123456789ABCDEF0123456789ABCDEF"))
	assert.False(t, ValidKey("ES-0123"))
}
