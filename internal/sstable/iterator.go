package sstable

// Iterator is the common contract shared by a block iterator, a whole-table
// iterator, and the merge iterator compaction drives over several tables:
// first key >= target on Seek, ascending order on Next.
type Iterator interface {
	// SeekToFirst positions the iterator at the first entry, if any.
	SeekToFirst() bool
	// Seek positions the iterator at the first entry whose key is >= target.
	Seek(target []byte) bool
	// Next advances to the next entry in ascending key order.
	Next() bool
	// Valid reports whether the iterator is currently positioned at an entry.
	Valid() bool
	// Key returns the current entry's key. Only valid when Valid() is true.
	Key() []byte
	// Value returns the current entry's value. Only valid when Valid() is true.
	Value() []byte
	// Close releases any resources held by the iterator.
	Close() error
}
