package sstable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockBuilderRejectsNonAscending(t *testing.T) {
	b := NewBlockBuilder(16)
	require.NoError(t, b.Add([]byte("b"), []byte("1")))
	require.Error(t, b.Add([]byte("a"), []byte("2")))
	require.Error(t, b.Add([]byte("b"), []byte("2")))
}

func TestBlockRoundTrip(t *testing.T) {
	b := NewBlockBuilder(4)
	entries := []struct{ k, v string }{
		{"apple", "1"}, {"apply", "2"}, {"banana", "3"},
		{"band", "4"}, {"bandana", "5"}, {"cherry", "6"},
	}
	for _, e := range entries {
		require.NoError(t, b.Add([]byte(e.k), []byte(e.v)))
	}
	raw := b.Finish()

	blk, err := ParseBlock(raw)
	require.NoError(t, err)

	it := blk.NewIterator()
	require.True(t, it.SeekToFirst())
	for _, e := range entries {
		require.True(t, it.Valid())
		require.Equal(t, e.k, string(it.Key()))
		require.Equal(t, e.v, string(it.Value()))
		it.Next()
	}
	require.False(t, it.Valid())
}

func TestBlockSeek(t *testing.T) {
	b := NewBlockBuilder(2)
	for _, k := range []string{"a", "c", "e", "g", "i"} {
		require.NoError(t, b.Add([]byte(k), []byte(k+"v")))
	}
	blk, err := ParseBlock(b.Finish())
	require.NoError(t, err)
	it := blk.NewIterator()

	require.True(t, it.Seek([]byte("b")))
	require.Equal(t, "c", string(it.Key()))

	require.True(t, it.Seek([]byte("e")))
	require.Equal(t, "e", string(it.Key()))

	require.False(t, it.Seek([]byte("z")))
}

func TestParseBlockTruncatedTrailer(t *testing.T) {
	_, err := ParseBlock([]byte{1, 2})
	require.Error(t, err)
}
