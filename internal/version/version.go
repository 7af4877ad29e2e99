// Package version tracks the set of sorted tables that make up the
// database at a point in time, organized into levels, and the immutable
// snapshots ("versions") the compaction picker and read path observe.
package version

import (
	"sort"
	"sync"
	"sync/atomic"

	"lsmkv/internal/bloom"
	"lsmkv/internal/compare"
	"lsmkv/internal/sstable"
)

// MaxLevels bounds the level array; nothing ever compacts past the last one.
const MaxLevels = 7

// FileMetadata describes one sorted table tracked by a level, augmenting
// sstable.Metadata with the bloom filter kept around so files_for_key
// lookups can skip tables without opening them.
type FileMetadata struct {
	sstable.Metadata
	Bloom *bloom.Filter
}

// MayContain reports whether the file's bloom filter admits key. A nil
// filter (recovered file, no bloom loaded yet) always admits.
func (f FileMetadata) MayContain(key []byte) bool {
	if f.Bloom == nil {
		return true
	}
	return f.Bloom.MayContain(key)
}

func rangesOverlap(aMin, aMax, bMin, bMax []byte) bool {
	return compare.Bytes(aMin, bMax) <= 0 && compare.Bytes(bMin, aMax) <= 0
}

// LevelFiles holds every table assigned to one level.
type LevelFiles struct {
	Level int
	Files []FileMetadata
}

// TotalSize sums the on-disk size of every file in the level.
func (l *LevelFiles) TotalSize() uint64 {
	var sum uint64
	for _, f := range l.Files {
		sum += f.Size
	}
	return sum
}

// AddFile inserts a file into the level. Level 0 files overlap arbitrarily
// and are kept in append (recency) order; level 1+ files are disjoint and
// kept sorted by smallest key so files_for_key can binary-search them.
func (l *LevelFiles) AddFile(f FileMetadata) {
	if l.Level == 0 {
		l.Files = append(l.Files, f)
		return
	}
	pos := sort.Search(len(l.Files), func(i int) bool {
		return compare.Bytes(l.Files[i].Smallest, f.Smallest) >= 0
	})
	l.Files = append(l.Files, FileMetadata{})
	copy(l.Files[pos+1:], l.Files[pos:])
	l.Files[pos] = f
}

// RemoveFile deletes the file with the given id from the level, if present.
func (l *LevelFiles) RemoveFile(fileID uint64) {
	out := l.Files[:0]
	for _, f := range l.Files {
		if f.FileID != fileID {
			out = append(out, f)
		}
	}
	l.Files = out
}

// FindOverlapping returns every file in the level whose key range overlaps
// [smallest, largest].
func (l *LevelFiles) FindOverlapping(smallest, largest []byte) []FileMetadata {
	var out []FileMetadata
	for _, f := range l.Files {
		if rangesOverlap(f.Smallest, f.Largest, smallest, largest) {
			out = append(out, f)
		}
	}
	return out
}

// Version is an immutable snapshot of the file organization across all
// levels. Readers hold a Version for the duration of a lookup so that a
// concurrent compaction cannot pull a file out from under them.
type Version struct {
	Levels [MaxLevels]LevelFiles
}

// newVersion returns an empty version with levels numbered 0..MaxLevels-1.
func newVersion() *Version {
	v := &Version{}
	for i := range v.Levels {
		v.Levels[i].Level = i
	}
	return v
}

// clone deep-copies the level file slices so edits never mutate a version
// still referenced by a concurrent reader.
func (v *Version) clone() *Version {
	out := &Version{}
	for i := range v.Levels {
		out.Levels[i].Level = v.Levels[i].Level
		out.Levels[i].Files = append([]FileMetadata{}, v.Levels[i].Files...)
	}
	return out
}

// L0FileCount returns the number of tables in level 0.
func (v *Version) L0FileCount() int {
	return len(v.Levels[0].Files)
}

// LevelSize returns the total byte size of a level, or 0 if out of range.
func (v *Version) LevelSize(level int) uint64 {
	if level < 0 || level >= MaxLevels {
		return 0
	}
	return v.Levels[level].TotalSize()
}

// AllFiles returns every file across every level.
func (v *Version) AllFiles() []FileMetadata {
	var out []FileMetadata
	for _, l := range v.Levels {
		out = append(out, l.Files...)
	}
	return out
}

// FilesForKey returns, in search order, every file that might contain key:
// all bloom-admitting L0 files from newest to oldest, then at most one file
// per level 1+ (their ranges are disjoint, so a binary search finds at most
// one candidate).
func (v *Version) FilesForKey(key []byte) []FileMetadata {
	var out []FileMetadata

	l0 := v.Levels[0].Files
	for i := len(l0) - 1; i >= 0; i-- {
		if l0[i].MayContain(key) {
			out = append(out, l0[i])
		}
	}

	for level := 1; level < MaxLevels; level++ {
		files := v.Levels[level].Files
		idx := sort.Search(len(files), func(i int) bool {
			return compare.Bytes(files[i].Largest, key) >= 0
		})
		if idx < len(files) && compare.Bytes(files[idx].Smallest, key) <= 0 {
			out = append(out, files[idx])
		}
	}

	return out
}

// Edit describes a batch of level membership changes to apply atomically:
// files removed from a level and files added to a level.
type Edit struct {
	DeletedFiles []LevelFileID
	NewFiles     []LevelFile
}

// LevelFileID names a file to remove from a level.
type LevelFileID struct {
	Level  int
	FileID uint64
}

// LevelFile names a file to add to a level.
type LevelFile struct {
	Level int
	File  FileMetadata
}

// NewEdit returns an empty edit.
func NewEdit() *Edit { return &Edit{} }

// DeleteFile records that fileID should be removed from level.
func (e *Edit) DeleteFile(level int, fileID uint64) {
	e.DeletedFiles = append(e.DeletedFiles, LevelFileID{Level: level, FileID: fileID})
}

// AddFile records that file should be added to level.
func (e *Edit) AddFile(level int, file FileMetadata) {
	e.NewFiles = append(e.NewFiles, LevelFile{Level: level, File: file})
}

// Set owns the current Version and the monotonic file-id counter new
// tables are assigned from. Readers call Current to get a stable snapshot;
// writers call Apply to install a new one.
type Set struct {
	mu         sync.RWMutex
	current    *Version
	nextFileID atomic.Uint64
}

// NewSet returns an empty version set with file ids starting at 1.
func NewSet() *Set {
	s := &Set{current: newVersion()}
	s.nextFileID.Store(0)
	return s
}

// Current returns the current version snapshot.
func (s *Set) Current() *Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// NextFileID allocates and returns the next unique table file id.
func (s *Set) NextFileID() uint64 {
	return s.nextFileID.Add(1)
}

// AddFile installs a version with file added to level, used when a
// memtable flush produces a brand new level-0 table outside of a larger
// compaction edit.
func (s *Set) AddFile(level int, file FileMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.clone()
	next.Levels[level].AddFile(file)
	s.current = next
}

// Apply installs a version reflecting edit: deletions first, then
// additions, computed against a fresh clone of the current version.
func (s *Set) Apply(edit *Edit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.clone()
	for _, d := range edit.DeletedFiles {
		next.Levels[d.Level].RemoveFile(d.FileID)
	}
	for _, a := range edit.NewFiles {
		next.Levels[a.Level].AddFile(a.File)
	}
	s.current = next
}
