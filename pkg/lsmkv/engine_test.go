package lsmkv

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lsmkv/internal/base"
)

func openTest(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(Defaults(t.TempDir()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// Scenario 1: simple round-trip.
func TestSimpleRoundTrip(t *testing.T) {
	e := openTest(t)

	require.NoError(t, e.Put([]byte("alpha"), []byte("1")))
	require.NoError(t, e.Put([]byte("beta"), []byte("2")))

	v, err := e.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	v, err = e.Get([]byte("beta"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	_, err = e.Get([]byte("gamma"))
	require.ErrorIs(t, err, base.ErrNotFound)
}

// Scenario 2: delete then read, including across a close+reopen.
func TestDeleteThenReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults(dir)

	e, err := Open(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Delete([]byte("k")))

	_, err = e.Get([]byte("k"))
	require.ErrorIs(t, err, base.ErrNotFound)

	require.NoError(t, e.Close())

	e2, err := Open(cfg)
	require.NoError(t, err)
	defer e2.Close()

	_, err = e2.Get([]byte("k"))
	require.ErrorIs(t, err, base.ErrNotFound)
}

// Scenario 3: flush boundary. With the smallest memtable threshold Config
// accepts (1 MiB), 200 keys with 8 KiB values cross it, forcing at least one
// flush, and every key stays readable.
func TestFlushBoundary(t *testing.T) {
	e := openTest(t, WithMemtableBytes(1<<20), WithBlockSize(4096))

	keys := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("user_%04d", i))
		val := make([]byte, 8<<10)
		for j := range val {
			val[j] = byte(i)
		}
		require.NoError(t, e.Put(key, val))
		keys = append(keys, key)
	}
	require.GreaterOrEqual(t, e.Stats().NumTables, 1)

	for i, key := range keys {
		v, err := e.Get(key)
		require.NoError(t, err)
		require.Len(t, v, 8<<10)
		require.Equal(t, byte(i), v[0])
	}
}

// Scenario 4: level-0 compaction trigger. Forcing two flushes (via Close,
// which flushes a non-empty memtable) against a level0_trigger of 2 drains
// to a single level-1 table covering both key ranges.
func TestL0CompactionTrigger(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults(dir)
	cfg.Level0Trigger = 2

	e, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("a1"), []byte("1")))
	require.NoError(t, e.Close())

	e, err = Open(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("b1"), []byte("2")))
	require.NoError(t, e.Close())

	e, err = Open(cfg)
	require.NoError(t, err)
	defer e.Close()

	// The second Close flushed a second level-0 table and drained the
	// level0_trigger=2 compaction before returning, so after this Open
	// level 0 is empty without requiring another write.
	require.Eventually(t, func() bool {
		return e.Stats().L0FileCount == 0
	}, time.Second, 5*time.Millisecond)

	v, err := e.Get([]byte("a1"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	v, err = e.Get([]byte("b1"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
}

func TestGetRejectsEmptyKey(t *testing.T) {
	e := openTest(t)
	_, err := e.Get(nil)
	require.ErrorIs(t, err, base.ErrInvalidArgument)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	e := openTest(t)
	require.NoError(t, e.Close())

	err := e.Put([]byte("k"), []byte("v"))
	require.True(t, errors.Is(err, base.ErrClosed))

	_, err = e.Get([]byte("k"))
	require.True(t, errors.Is(err, base.ErrClosed))

	err = e.Close()
	require.True(t, errors.Is(err, base.ErrClosed))
}

func TestStatsReflectMemtable(t *testing.T) {
	e := openTest(t)
	require.NoError(t, e.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, e.Put([]byte("k2"), []byte("v2")))

	stats := e.Stats()
	require.Equal(t, 2, stats.MemtableEntries)
	require.Greater(t, stats.MemtableBytes, uint64(0))
	require.Equal(t, base.SeqNum(2), stats.CurrentSequence)
}
