package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mkFile(id uint64, smallest, largest string, size uint64) FileMetadata {
	var m FileMetadata
	m.FileID = id
	m.Size = size
	m.Smallest = []byte(smallest)
	m.Largest = []byte(largest)
	return m
}

func TestNewSetEmpty(t *testing.T) {
	s := NewSet()
	v := s.Current()
	require.Equal(t, 0, v.L0FileCount())
	require.Equal(t, uint64(0), v.LevelSize(3))
}

func TestLevelFilesOrderedBySmallestKeyOnNonZeroLevels(t *testing.T) {
	var l LevelFiles
	l.Level = 1
	l.AddFile(mkFile(1, "b", "d", 100))
	l.AddFile(mkFile(2, "a", "a", 100))
	l.AddFile(mkFile(3, "e", "f", 100))

	require.Equal(t, uint64(2), l.Files[0].FileID)
	require.Equal(t, uint64(1), l.Files[1].FileID)
	require.Equal(t, uint64(3), l.Files[2].FileID)
}

func TestLevelZeroKeepsAppendOrder(t *testing.T) {
	var l LevelFiles
	l.AddFile(mkFile(5, "m", "z", 100))
	l.AddFile(mkFile(2, "a", "c", 100))
	require.Equal(t, uint64(5), l.Files[0].FileID)
	require.Equal(t, uint64(2), l.Files[1].FileID)
}

func TestFindOverlapping(t *testing.T) {
	var l LevelFiles
	l.Level = 1
	l.AddFile(mkFile(1, "a", "c", 100))
	l.AddFile(mkFile(2, "d", "f", 100))
	l.AddFile(mkFile(3, "g", "z", 100))

	got := l.FindOverlapping([]byte("b"), []byte("e"))
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].FileID)
	require.Equal(t, uint64(2), got[1].FileID)
}

func TestAddFileAndApplyEdit(t *testing.T) {
	s := NewSet()
	s.AddFile(0, mkFile(1, "a", "z", 1000))
	require.Equal(t, 1, s.Current().L0FileCount())

	edit := NewEdit()
	edit.DeleteFile(0, 1)
	edit.AddFile(1, mkFile(2, "a", "z", 900))
	s.Apply(edit)

	v := s.Current()
	require.Equal(t, 0, v.L0FileCount())
	require.Equal(t, uint64(900), v.LevelSize(1))
}

func TestCurrentSnapshotIsStableAcrossEdits(t *testing.T) {
	s := NewSet()
	s.AddFile(0, mkFile(1, "a", "z", 1000))
	snap := s.Current()

	s.AddFile(0, mkFile(2, "a", "z", 1000))
	require.Equal(t, 1, snap.L0FileCount())
	require.Equal(t, 2, s.Current().L0FileCount())
}

func TestFilesForKeyOrdersL0NewestFirst(t *testing.T) {
	s := NewSet()
	s.AddFile(0, mkFile(1, "a", "z", 1000))
	s.AddFile(0, mkFile(2, "a", "z", 1000))
	s.AddFile(1, mkFile(3, "a", "z", 1000))

	files := s.Current().FilesForKey([]byte("m"))
	require.Len(t, files, 3)
	require.Equal(t, uint64(2), files[0].FileID)
	require.Equal(t, uint64(1), files[1].FileID)
	require.Equal(t, uint64(3), files[2].FileID)
}

func TestNextFileIDMonotonic(t *testing.T) {
	s := NewSet()
	a := s.NextFileID()
	b := s.NextFileID()
	require.Less(t, a, b)
}
