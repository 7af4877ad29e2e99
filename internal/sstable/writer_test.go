package sstable

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmkv/internal/base"
)

func writeTestTable(t *testing.T, path string, entries [][2]string, blockSize int) Metadata {
	t.Helper()
	w, err := NewWriter(path, blockSize, 10)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Add([]byte(e[0]), []byte(e[1])))
	}
	meta, err := w.Finish(1, 0)
	require.NoError(t, err)
	return meta
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")

	entries := [][2]string{
		{"alpha", "1"}, {"beta", "2"}, {"gamma", "3"},
		{"delta", "4"}, {"epsilon", "5"},
	}
	// Sort isn't applied by the writer: entries must already be ascending.
	ordered := [][2]string{
		{"alpha", "1"}, {"beta", "2"}, {"delta", "4"}, {"epsilon", "5"}, {"gamma", "3"},
	}
	_ = entries

	meta := writeTestTable(t, path, ordered, MinBlockSize)
	require.Equal(t, uint64(5), meta.NumEntries)
	require.Equal(t, "alpha", string(meta.Smallest))
	require.Equal(t, "gamma", string(meta.Largest))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for _, e := range ordered {
		v, status, err := r.Get([]byte(e[0]))
		require.NoError(t, err)
		require.Equal(t, StatusFound, status)
		require.Equal(t, e[1], string(v))
	}

	_, status, err := r.Get([]byte("zzz"))
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, status)
}

func TestWriterSpansMultipleBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000002.sst")

	var entries [][2]string
	for i := 0; i < 500; i++ {
		k := string(rune('a'+i%26)) + padNum(i)
		entries = append(entries, [2]string{k, "value"})
	}
	entries = sortPairs(entries)

	meta := writeTestTable(t, path, entries, MinBlockSize)
	require.EqualValues(t, len(entries), meta.NumEntries)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.Iterator()
	require.NoError(t, err)
	require.True(t, it.SeekToFirst())
	count := 0
	var prev []byte
	for it.Valid() {
		if prev != nil {
			require.Less(t, string(prev), string(it.Key()))
		}
		prev = append([]byte{}, it.Key()...)
		count++
		it.Next()
	}
	require.Equal(t, len(entries), count)
}

func TestWriterDetectsTombstoneSentinel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000003.sst")

	w, err := NewWriter(path, MinBlockSize, 10)
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("k1"), []byte(base.TombstoneSentinel)))
	_, err = w.Finish(1, 0)
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, status, err := r.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, StatusTombstone, status)
}

func TestWriterRejectsNonAscendingAcrossBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000004.sst")

	w, err := NewWriter(path, MinBlockSize, 10)
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("b"), []byte("1")))
	require.Error(t, w.Add([]byte("a"), []byte("2")))
}

func TestShortestSeparator(t *testing.T) {
	require.Equal(t, "ac", string(shortestSeparator([]byte("abc"), []byte("az"))))
	// No shortening possible: b[i] == a[i]+1.
	require.Equal(t, "abc", string(shortestSeparator([]byte("abc"), []byte("abd"))))
	require.Equal(t, "abc", string(shortestSeparator([]byte("abc"), []byte("abcd"))))
}

func padNum(i int) string {
	digits := "0123456789"
	s := ""
	n := i
	for k := 0; k < 4; k++ {
		s = string(digits[n%10]) + s
		n /= 10
	}
	return s
}

func sortPairs(in [][2]string) [][2]string {
	out := append([][2]string{}, in...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1][0] > out[j][0] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	dedup := out[:0]
	var last string
	first := true
	for _, e := range out {
		if first || e[0] != last {
			dedup = append(dedup, e)
			last = e[0]
			first = false
		}
	}
	return dedup
}
