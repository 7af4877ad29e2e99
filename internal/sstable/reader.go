package sstable

import (
	"fmt"
	"os"

	"lsmkv/internal/base"
	"lsmkv/internal/bloom"
	"lsmkv/internal/compare"
)

// LookupStatus distinguishes "the key is absent" from "the key was
// explicitly deleted" so the engine can short-circuit lower levels on a
// tombstone hit without treating it the same as a bloom/index miss.
type LookupStatus int

const (
	// StatusNotFound means the key does not appear in this table at all.
	StatusNotFound LookupStatus = iota
	// StatusFound means the key maps to a live value in this table.
	StatusFound
	// StatusTombstone means the key's newest record in this table is a
	// delete marker.
	StatusTombstone
)

// Reader opens an immutable table file for point lookups and iteration.
// The bloom block is loaded eagerly (it is small and consulted on every
// lookup); data and index blocks are read lazily from the file handle.
type Reader struct {
	file        *os.File
	indexHandle BlockHandle
	bloom       *bloom.Filter
}

// Open opens the table file at path, validating its footer and loading its
// bloom filter.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	if stat.Size() < FooterSize {
		f.Close()
		return nil, fmt.Errorf("sstable: %s smaller than footer: %w", path, base.ErrCorruption)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBuf, stat.Size()-FooterSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read footer of %s: %w", path, err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	bloomBuf := make([]byte, footer.BloomHandle.Size)
	if _, err := f.ReadAt(bloomBuf, int64(footer.BloomHandle.Offset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read bloom block of %s: %w", path, err)
	}
	filter, err := bloom.Decode(bloomBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	return &Reader{file: f, indexHandle: footer.IndexHandle, bloom: filter}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Bloom returns the table's bloom filter, so a caller building level
// metadata (the version set) can answer MayContain without reopening the
// file on every candidate lookup.
func (r *Reader) Bloom() *bloom.Filter {
	return r.bloom
}

func (r *Reader) readBlock(h BlockHandle) (*Block, error) {
	raw := make([]byte, h.Size)
	if _, err := r.file.ReadAt(raw, int64(h.Offset)); err != nil {
		return nil, fmt.Errorf("sstable: read block at %d: %w", h.Offset, err)
	}
	return ParseBlock(raw)
}

func (r *Reader) indexIterator() (*BlockIterator, error) {
	blk, err := r.readBlock(r.indexHandle)
	if err != nil {
		return nil, err
	}
	return blk.NewIterator(), nil
}

// Get performs a bloom-gated point lookup: a negative bloom answer is
// authoritative and short-circuits the index/data block reads entirely.
func (r *Reader) Get(key []byte) ([]byte, LookupStatus, error) {
	if !r.bloom.MayContain(key) {
		return nil, StatusNotFound, nil
	}

	idx, err := r.indexIterator()
	if err != nil {
		return nil, StatusNotFound, err
	}
	if !idx.Seek(key) {
		return nil, StatusNotFound, nil
	}

	handle := decodeBlockHandle(idx.Value())
	dataBlk, err := r.readBlock(handle)
	if err != nil {
		return nil, StatusNotFound, err
	}
	dataIt := dataBlk.NewIterator()
	if !dataIt.Seek(key) || compare.Bytes(dataIt.Key(), key) != 0 {
		return nil, StatusNotFound, nil
	}

	value := dataIt.Value()
	if string(value) == base.TombstoneSentinel {
		return nil, StatusTombstone, nil
	}
	return value, StatusFound, nil
}

// Iterator returns a whole-table iterator walking every entry in ascending
// key order. Values are returned as stored, so a deleted key yields the
// tombstone sentinel as its value.
func (r *Reader) Iterator() (*TableIterator, error) {
	idx, err := r.indexIterator()
	if err != nil {
		return nil, err
	}
	return &TableIterator{reader: r, index: idx}, nil
}

// TableIterator lazily loads each data block referenced by the index as
// iteration reaches it.
type TableIterator struct {
	reader    *Reader
	index     *BlockIterator
	dataBlock *BlockIterator
	valid     bool
}

func (it *TableIterator) advanceToData() bool {
	for {
		if it.dataBlock != nil && it.dataBlock.Valid() {
			it.valid = true
			return true
		}
		if !it.index.Valid() {
			it.valid = false
			return false
		}
		handle := decodeBlockHandle(it.index.Value())
		blk, err := it.reader.readBlock(handle)
		if err != nil {
			it.valid = false
			return false
		}
		it.dataBlock = blk.NewIterator()
		if it.dataBlock.SeekToFirst() {
			it.valid = true
			return true
		}
		it.index.Next()
	}
}

func (it *TableIterator) SeekToFirst() bool {
	if !it.index.SeekToFirst() {
		it.valid = false
		return false
	}
	it.dataBlock = nil
	return it.advanceToData()
}

func (it *TableIterator) Seek(target []byte) bool {
	if !it.index.Seek(target) {
		it.valid = false
		return false
	}
	handle := decodeBlockHandle(it.index.Value())
	blk, err := it.reader.readBlock(handle)
	if err != nil {
		it.valid = false
		return false
	}
	it.dataBlock = blk.NewIterator()
	if !it.dataBlock.Seek(target) {
		it.index.Next()
		return it.advanceToData()
	}
	it.valid = true
	return true
}

func (it *TableIterator) Next() bool {
	if it.dataBlock != nil && it.dataBlock.Next() {
		it.valid = true
		return true
	}
	it.index.Next()
	it.dataBlock = nil
	return it.advanceToData()
}

func (it *TableIterator) Valid() bool   { return it.valid }
func (it *TableIterator) Key() []byte   { return it.dataBlock.Key() }
func (it *TableIterator) Value() []byte { return it.dataBlock.Value() }
func (it *TableIterator) Close() error  { return nil }
