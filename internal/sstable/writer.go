package sstable

import (
	"bufio"
	"fmt"
	"os"

	"lsmkv/internal/bloom"
)

// Metadata describes a written table, kept by the version set rather than
// embedded in the file itself.
type Metadata struct {
	FileID     uint64
	Size       uint64
	Smallest   []byte
	Largest    []byte
	NumEntries uint64
	Level      int
}

// Writer builds a single sorted table file, one ascending-key Add call at a
// time: data blocks, then the bloom block, the index block, and the footer.
type Writer struct {
	file      *os.File
	buf       *bufio.Writer
	offset    uint64
	blockSize int

	dataBlock  *BlockBuilder
	indexBlock *BlockBuilder
	bloom      *bloom.Builder

	pendingHandle BlockHandle
	pendingKey    []byte
	hasPending    bool

	lastKey    []byte
	smallest   []byte
	largest    []byte
	numEntries uint64
}

// NewWriter creates the output file at path and returns a Writer. blockSize
// is clamped to MinBlockSize if smaller.
func NewWriter(path string, blockSize int, bitsPerKey uint) (*Writer, error) {
	if blockSize < MinBlockSize {
		blockSize = MinBlockSize
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}
	return &Writer{
		file:       f,
		buf:        bufio.NewWriter(f),
		blockSize:  blockSize,
		dataBlock:  NewBlockBuilder(dataBlockRestartInterval),
		indexBlock: NewBlockBuilder(indexBlockRestartInterval),
		bloom:      bloom.NewBuilder(bitsPerKey),
	}, nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.buf.Write(p)
	w.offset += uint64(n)
	if err != nil {
		return fmt.Errorf("sstable: write: %w", err)
	}
	return nil
}

// Add appends one key/value entry. Keys must arrive in strictly ascending
// order.
func (w *Writer) Add(key, value []byte) error {
	if w.largest != nil && string(key) <= string(w.largest) {
		return fmt.Errorf("sstable: writer keys must be strictly ascending, got %q after %q", key, w.largest)
	}

	w.bloom.Add(key)

	if w.hasPending {
		separator := shortestSeparator(w.pendingKey, key)
		if err := w.indexBlock.Add(separator, encodeHandleValue(w.pendingHandle)); err != nil {
			return err
		}
		w.hasPending = false
	}

	if err := w.dataBlock.Add(key, value); err != nil {
		return err
	}

	if w.smallest == nil {
		w.smallest = append([]byte{}, key...)
	}
	w.largest = append(w.largest[:0], key...)
	w.numEntries++

	if w.dataBlock.EstimatedSize() >= w.blockSize {
		if err := w.closeDataBlock(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) closeDataBlock() error {
	if w.dataBlock.Empty() {
		return nil
	}
	raw := w.dataBlock.Finish()
	handle := BlockHandle{Offset: w.offset, Size: uint64(len(raw))}
	if err := w.write(raw); err != nil {
		return err
	}
	w.pendingKey = append(w.pendingKey[:0], w.dataBlock.LastKey()...)
	w.pendingHandle = handle
	w.hasPending = true
	w.dataBlock.Reset()
	return nil
}

func encodeHandleValue(h BlockHandle) []byte {
	enc := h.encode()
	return enc[:]
}

// shortestSeparator returns a key sep such that a <= sep < b, as short as
// possible, given a < b: find the first differing byte i; if a[i] < 0xFF
// and a[i]+1 < b[i], return a[0..=i] with a[i] incremented; otherwise
// return a unchanged.
func shortestSeparator(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	if i < n && a[i] < 0xFF && a[i]+1 < b[i] {
		sep := make([]byte, i+1)
		copy(sep, a[:i+1])
		sep[i]++
		return sep
	}
	return a
}

// Finish closes out any pending block, writes the bloom block, index block,
// and footer, and returns the table's metadata.
func (w *Writer) Finish(fileID uint64, level int) (Metadata, error) {
	if err := w.closeDataBlock(); err != nil {
		return Metadata{}, err
	}
	if w.hasPending {
		// The final block's index entry uses its last key directly, not a
		// separator: there is no following block to separate it from.
		if err := w.indexBlock.Add(w.pendingKey, encodeHandleValue(w.pendingHandle)); err != nil {
			return Metadata{}, err
		}
		w.hasPending = false
	}

	filter, err := w.bloom.Build()
	if err != nil {
		return Metadata{}, err
	}
	bloomBytes := filter.Encode()
	bloomHandle := BlockHandle{Offset: w.offset, Size: uint64(len(bloomBytes))}
	if err := w.write(bloomBytes); err != nil {
		return Metadata{}, err
	}

	indexBytes := w.indexBlock.Finish()
	indexHandle := BlockHandle{Offset: w.offset, Size: uint64(len(indexBytes))}
	if err := w.write(indexBytes); err != nil {
		return Metadata{}, err
	}

	footer := Footer{IndexHandle: indexHandle, BloomHandle: bloomHandle, Version: FormatVersion}
	if err := w.write(footer.Encode()); err != nil {
		return Metadata{}, err
	}

	if err := w.buf.Flush(); err != nil {
		return Metadata{}, fmt.Errorf("sstable: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return Metadata{}, fmt.Errorf("sstable: fsync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return Metadata{}, fmt.Errorf("sstable: close: %w", err)
	}

	return Metadata{
		FileID:     fileID,
		Size:       w.offset,
		Smallest:   w.smallest,
		Largest:    w.largest,
		NumEntries: w.numEntries,
		Level:      level,
	}, nil
}
