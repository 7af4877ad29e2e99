package compaction

import (
	"sync"

	"lsmkv/internal/sstable"
)

// ReaderCache holds one open sstable.Reader per live table file, keyed by
// file id. The engine consults it on every read-path lookup; the
// compaction runner inserts a reader for each new output table and evicts
// the readers for every file it retires.
type ReaderCache struct {
	mu      sync.RWMutex
	readers map[uint64]*sstable.Reader
}

// NewReaderCache returns an empty cache.
func NewReaderCache() *ReaderCache {
	return &ReaderCache{readers: make(map[uint64]*sstable.Reader)}
}

// Get returns the reader for fileID, if present.
func (c *ReaderCache) Get(fileID uint64) (*sstable.Reader, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.readers[fileID]
	return r, ok
}

// Put installs (or replaces) the reader for fileID.
func (c *ReaderCache) Put(fileID uint64, r *sstable.Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers[fileID] = r
}

// Remove closes and evicts the reader for fileID, if present.
func (c *ReaderCache) Remove(fileID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.readers[fileID]
	if !ok {
		return nil
	}
	delete(c.readers, fileID)
	return r.Close()
}

// Close closes every reader still held by the cache.
func (c *ReaderCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for id, r := range c.readers {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.readers, id)
	}
	return first
}
