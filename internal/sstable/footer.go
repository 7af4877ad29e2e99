package sstable

import (
	"encoding/binary"
	"fmt"

	"lsmkv/internal/base"
)

// Magic is the fixed trailer value identifying a valid table file.
const Magic uint64 = 0x5354414254414244

// FormatVersion is the only version this core writes or accepts.
const FormatVersion uint32 = 1

// FooterSize is the fixed trailing byte count: index_handle(16) +
// bloom_handle(16) + version(4) + pad(4) + magic(8).
const FooterSize = 48

// BlockHandle locates a block within the table file.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

func (h BlockHandle) encode() [16]byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], h.Size)
	return buf
}

func decodeBlockHandle(b []byte) BlockHandle {
	return BlockHandle{
		Offset: binary.LittleEndian.Uint64(b[0:8]),
		Size:   binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Footer is the final 48 bytes of a table file.
type Footer struct {
	IndexHandle BlockHandle
	BloomHandle BlockHandle
	Version     uint32
}

// Encode serializes the footer to exactly FooterSize bytes.
func (f Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	ih := f.IndexHandle.encode()
	bh := f.BloomHandle.encode()
	copy(buf[0:16], ih[:])
	copy(buf[16:32], bh[:])
	binary.LittleEndian.PutUint32(buf[32:36], f.Version)
	// buf[36:40] is reserved padding, left zero.
	binary.LittleEndian.PutUint64(buf[40:48], Magic)
	return buf
}

// DecodeFooter parses and validates a footer. A magic or version mismatch
// is corruption: the table is refused, not partially trusted.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, fmt.Errorf("sstable: footer must be %d bytes, got %d: %w", FooterSize, len(buf), base.ErrCorruption)
	}
	magic := binary.LittleEndian.Uint64(buf[40:48])
	if magic != Magic {
		return Footer{}, fmt.Errorf("sstable: bad magic %#x: %w", magic, base.ErrCorruption)
	}
	version := binary.LittleEndian.Uint32(buf[32:36])
	if version != FormatVersion {
		return Footer{}, fmt.Errorf("sstable: unsupported version %d: %w", version, base.ErrCorruption)
	}
	return Footer{
		IndexHandle: decodeBlockHandle(buf[0:16]),
		BloomHandle: decodeBlockHandle(buf[16:32]),
		Version:     version,
	}, nil
}
