package sha256

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestHasherVerify(t *testing.T) {
	t.Parallel()

	h := New()
	payload := []byte(`{"run_id":"r1"}`)
	digest, err := h.Hash(payload)
	require.NoError(t, err)

	assert.True(t, h.Verify(payload, digest))
	assert.True(t, h.Verify(payload, " "+digest[:10]+strings.ToUpper(digest[10:])))
	assert.False(t, h.Verify([]byte(`{"run_id":"r2"}`), digest))
	assert.False(t, h.Verify(payload, ""))
}

