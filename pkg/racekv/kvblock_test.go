package racekv

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKVBlockRoundTrip(t *testing.T) {
	t.Parallel()

	key := []byte("key42")
	value := []byte("val42")

	buf, err := encodeKVBlock(key, value)
	require.NoError(t, err)

	gotKey, gotValue, ok := decodeKVBlock(buf)
	require.True(t, ok)

	if diff := cmp.Diff(key, gotKey); diff != "" {
		t.Errorf("key mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(value, gotValue); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeKVBlockRejectsOversized(t *testing.T) {
	t.Parallel()

	key := make([]byte, 200)
	value := make([]byte, 100)

	_, err := encodeKVBlock(key, value)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDecodeKVBlockDetectsCorruption(t *testing.T) {
	t.Parallel()

	buf, err := encodeKVBlock([]byte("k"), []byte("v"))
	require.NoError(t, err)

	corrupt := append([]byte(nil), buf...)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, _, ok := decodeKVBlock(corrupt)
	assert.False(t, ok)
}

func TestDecodeKVBlockRejectsTruncated(t *testing.T) {
	t.Parallel()

	buf, err := encodeKVBlock([]byte("k"), []byte("v"))
	require.NoError(t, err)

	_, _, ok := decodeKVBlock(buf[:len(buf)-1])
	assert.False(t, ok)
}

func TestEmptyKeyRoundTrips(t *testing.T) {
	t.Parallel()

	buf, err := encodeKVBlock([]byte(""), []byte("v"))
	require.NoError(t, err)

	key, value, ok := decodeKVBlock(buf)
	require.True(t, ok)
	assert.Empty(t, key)
	assert.Equal(t, []byte("v"), value)
}
