package compaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lsmkv/internal/sstable"
	"lsmkv/internal/version"
)

func writeAndRegister(t *testing.T, dir string, vs *version.Set, cache *ReaderCache, level int, entries [][2]string) version.FileMetadata {
	t.Helper()
	id := vs.NextFileID()
	path := TablePath(dir, id)
	w, err := sstable.NewWriter(path, sstable.MinBlockSize, 10)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Add([]byte(e[0]), []byte(e[1])))
	}
	meta, err := w.Finish(id, level)
	require.NoError(t, err)

	r, err := sstable.Open(path)
	require.NoError(t, err)
	cache.Put(id, r)

	fm := version.FileMetadata{Metadata: meta, Bloom: r.Bloom()}
	vs.AddFile(level, fm)
	return fm
}

func TestRunnerCompactsL0IntoL1(t *testing.T) {
	dir := t.TempDir()
	vs := version.NewSet()
	cache := NewReaderCache()
	defer cache.Close()

	writeAndRegister(t, dir, vs, cache, 0, [][2]string{{"a", "1"}, {"c", "3"}})
	writeAndRegister(t, dir, vs, cache, 0, [][2]string{{"b", "2"}, {"d", "4"}})

	picker := NewPicker(PickerConfig{L0Trigger: 2, LevelBaseBytes: 1 << 30, LevelMultiplier: 10})
	runner := NewRunner(vs, cache, RunnerConfig{DataDir: dir, BlockSize: sstable.MinBlockSize, BitsPerKey: 10}, nil, nil)

	task := picker.Pick(vs.Current())
	require.NotNil(t, task)
	require.NoError(t, runner.Run(task))

	v := vs.Current()
	require.Equal(t, 0, v.L0FileCount())
	require.Len(t, v.Levels[1].Files, 1)

	out := v.Levels[1].Files[0]
	r, ok := cache.Get(out.FileID)
	require.True(t, ok)

	for _, want := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}} {
		val, status, err := r.Get([]byte(want[0]))
		require.NoError(t, err)
		require.Equal(t, sstable.StatusFound, status)
		require.Equal(t, want[1], string(val))
	}
}

func TestRunnerKeepsNewestOnDuplicateKeyAcrossL0Files(t *testing.T) {
	dir := t.TempDir()
	vs := version.NewSet()
	cache := NewReaderCache()
	defer cache.Close()

	writeAndRegister(t, dir, vs, cache, 0, [][2]string{{"k", "old"}})
	writeAndRegister(t, dir, vs, cache, 0, [][2]string{{"k", "new"}})

	picker := NewPicker(PickerConfig{L0Trigger: 2, LevelBaseBytes: 1 << 30, LevelMultiplier: 10})
	runner := NewRunner(vs, cache, RunnerConfig{DataDir: dir, BlockSize: sstable.MinBlockSize, BitsPerKey: 10}, nil, nil)

	task := picker.Pick(vs.Current())
	require.NoError(t, runner.Run(task))

	out := vs.Current().Levels[1].Files[0]
	r, _ := cache.Get(out.FileID)
	val, status, err := r.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, sstable.StatusFound, status)
	require.Equal(t, "new", string(val))
}

func TestWorkerMaybeCompactDrainsOneTask(t *testing.T) {
	dir := t.TempDir()
	vs := version.NewSet()
	cache := NewReaderCache()
	defer cache.Close()

	writeAndRegister(t, dir, vs, cache, 0, [][2]string{{"a", "1"}})
	writeAndRegister(t, dir, vs, cache, 0, [][2]string{{"b", "2"}})

	picker := NewPicker(PickerConfig{L0Trigger: 2, LevelBaseBytes: 1 << 30, LevelMultiplier: 10})
	runner := NewRunner(vs, cache, RunnerConfig{DataDir: dir, BlockSize: sstable.MinBlockSize, BitsPerKey: 10}, nil, nil)
	worker := NewWorker(vs, picker, runner, nil)

	did, err := worker.MaybeCompact()
	require.NoError(t, err)
	require.True(t, did)

	did, err = worker.MaybeCompact()
	require.NoError(t, err)
	require.False(t, did)
}
