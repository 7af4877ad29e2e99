package sstable

import "lsmkv/internal/compare"

// MergeIterator walks several sorted iterators as a single ascending
// stream. Sources are ordered newest-to-oldest by the caller (index 0 wins
// ties); when the same key appears in more than one source, every other
// source holding that key is silently advanced past it so the merged
// output never repeats a key.
type MergeIterator struct {
	iters []Iterator
	idx   int
	valid bool
}

// NewMergeIterator builds a merge iterator over iters, where iters[0] is
// considered the newest source and wins ties on duplicate keys.
func NewMergeIterator(iters []Iterator) *MergeIterator {
	return &MergeIterator{iters: iters}
}

// findWinner returns the index of the lowest key among valid sources,
// preferring the lowest index (newest) on ties, and advances every other
// source still positioned on that same key so it is consumed exactly once.
func (m *MergeIterator) findWinner() (int, bool) {
	winner := -1
	for i, it := range m.iters {
		if !it.Valid() {
			continue
		}
		if winner < 0 {
			winner = i
			continue
		}
		c := compare.Bytes(it.Key(), m.iters[winner].Key())
		if c < 0 {
			winner = i
		}
	}
	if winner < 0 {
		return -1, false
	}

	winKey := m.iters[winner].Key()
	for i, it := range m.iters {
		if i == winner || !it.Valid() {
			continue
		}
		if compare.Bytes(it.Key(), winKey) == 0 {
			it.Next()
		}
	}
	return winner, true
}

// SeekToFirst positions every source at its first entry and settles on the
// overall minimum.
func (m *MergeIterator) SeekToFirst() bool {
	for _, it := range m.iters {
		it.SeekToFirst()
	}
	return m.advance()
}

// Seek positions every source at its first entry >= target and settles.
func (m *MergeIterator) Seek(target []byte) bool {
	for _, it := range m.iters {
		it.Seek(target)
	}
	return m.advance()
}

func (m *MergeIterator) advance() bool {
	idx, ok := m.findWinner()
	m.idx = idx
	m.valid = ok
	return ok
}

// Next advances the winning source past its current key, then re-settles,
// repeating findWinner's duplicate-collapse so a key tied across several
// sources is never yielded twice.
func (m *MergeIterator) Next() bool {
	if !m.valid {
		return false
	}
	m.iters[m.idx].Next()
	return m.advance()
}

func (m *MergeIterator) Valid() bool { return m.valid }

func (m *MergeIterator) Key() []byte {
	return m.iters[m.idx].Key()
}

func (m *MergeIterator) Value() []byte {
	return m.iters[m.idx].Value()
}

// Close closes every underlying source iterator, returning the first error
// encountered if any.
func (m *MergeIterator) Close() error {
	var first error
	for _, it := range m.iters {
		if err := it.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
