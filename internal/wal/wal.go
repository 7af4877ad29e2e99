// Package wal implements the write-ahead log: an append-only, CRC-protected
// record stream that makes every mutation durable before it is acknowledged,
// and full-file replay for crash recovery.
//
// Record framing: crc32(u32 LE) | data_len(u32 LE) | data[data_len]. data is
// sequence_number(u64 LE) | kind(u8) | key_len(u32 LE) | key | value_len(u32
// LE) | value. kind 1 is Put, 2 is Delete; Delete always has value_len=0.
// The CRC is the standard IEEE 802.3 polynomial (0xEDB88320, reflected,
// init 0xFFFFFFFF, final complement), computed over data alone.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"lsmkv/internal/base"
)

// Record is a single durable mutation as stored in (and replayed from) the
// log.
type Record struct {
	SeqNum base.SeqNum
	Kind   base.Kind
	Key    []byte
	Value  []byte
}

func encode(r Record) []byte {
	data := make([]byte, 8+1+4+len(r.Key)+4+len(r.Value))
	binary.LittleEndian.PutUint64(data[0:8], uint64(r.SeqNum))
	data[8] = byte(r.Kind)
	binary.LittleEndian.PutUint32(data[9:13], uint32(len(r.Key)))
	copy(data[13:13+len(r.Key)], r.Key)
	valueOff := 13 + len(r.Key)
	binary.LittleEndian.PutUint32(data[valueOff:valueOff+4], uint32(len(r.Value)))
	copy(data[valueOff+4:], r.Value)

	frame := make([]byte, 4+4+len(data))
	crc := crc32.ChecksumIEEE(data)
	binary.LittleEndian.PutUint32(frame[0:4], crc)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(data)))
	copy(frame[8:], data)
	return frame
}

func decodeData(data []byte) (Record, error) {
	if len(data) < 13 {
		return Record{}, fmt.Errorf("wal: data too short (%d bytes): %w", len(data), base.ErrCorruption)
	}
	seq := base.SeqNum(binary.LittleEndian.Uint64(data[0:8]))
	kind := base.Kind(data[8])
	keyLen := binary.LittleEndian.Uint32(data[9:13])
	if uint64(13+keyLen+4) > uint64(len(data)) {
		return Record{}, fmt.Errorf("wal: key_len overruns record: %w", base.ErrCorruption)
	}
	key := data[13 : 13+keyLen]
	valueOff := 13 + keyLen
	valueLen := binary.LittleEndian.Uint32(data[valueOff : valueOff+4])
	if uint64(valueOff+4+valueLen) != uint64(len(data)) {
		return Record{}, fmt.Errorf("wal: value_len does not match record length: %w", base.ErrCorruption)
	}
	value := data[valueOff+4:]

	switch kind {
	case base.KindSet, base.KindDelete:
	default:
		return Record{}, fmt.Errorf("wal: invalid kind %d: %w", kind, base.ErrCorruption)
	}

	return Record{SeqNum: seq, Kind: kind, Key: key, Value: value}, nil
}

// Writer is the append-only handle to a single WAL file.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
}

// Create opens (creating if necessary) the WAL file at path for appending.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// Append serializes and writes a single record's frame. It does not fsync;
// pair every externally acknowledged mutation with a call to Sync before
// acknowledging it to the caller.
func (w *Writer) Append(r Record) error {
	if _, err := w.buf.Write(encode(r)); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	return nil
}

// Sync flushes the buffered writer and fsyncs the underlying file.
func (w *Writer) Sync() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// Close flushes, fsyncs, and closes the file.
func (w *Writer) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Replay reads every well-formed record from the WAL file at path, in
// order. It stops at a clean EOF, and it also stops (discarding the tail)
// on a truncated trailing record or a CRC mismatch: either condition means
// the write was never fsynced and is not considered part of the durable
// prefix.
func Replay(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record
	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(r, header); err != nil {
			break // clean EOF or a torn header: stop, discard the tail.
		}
		crc := binary.LittleEndian.Uint32(header[0:4])
		dataLen := binary.LittleEndian.Uint32(header[4:8])

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			break // truncated trailing record.
		}
		if crc32.ChecksumIEEE(data) != crc {
			break // CRC mismatch: torn tail, not fatal.
		}

		rec, err := decodeData(data)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}
