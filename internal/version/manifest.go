package version

// Manifest persists the sequence of edits applied to the version set so
// that level membership survives a restart. The on-disk table format has
// no room for a file's level (it is tracked only by the version set), so
// without this log every reopen would have to guess; this closes that gap
// using the same CRC-framed record style as the write-ahead log.
import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

func encodeEdit(e *Edit) []byte {
	var data []byte
	data = appendUint32(data, uint32(len(e.DeletedFiles)))
	for _, d := range e.DeletedFiles {
		data = append(data, byte(d.Level))
		data = appendUint64(data, d.FileID)
	}
	data = appendUint32(data, uint32(len(e.NewFiles)))
	for _, a := range e.NewFiles {
		data = append(data, byte(a.Level))
		data = appendUint64(data, a.File.FileID)
		data = appendUint64(data, a.File.Size)
		data = appendUint32(data, uint32(len(a.File.Smallest)))
		data = append(data, a.File.Smallest...)
		data = appendUint32(data, uint32(len(a.File.Largest)))
		data = append(data, a.File.Largest...)
		data = appendUint64(data, a.File.NumEntries)
	}

	frame := make([]byte, 8+len(data))
	crc := crc32.ChecksumIEEE(data)
	binary.LittleEndian.PutUint32(frame[0:4], crc)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(data)))
	copy(frame[8:], data)
	return frame
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func decodeEdit(data []byte) (*Edit, error) {
	edit := NewEdit()
	pos := 0
	readU32 := func() (uint32, error) {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("version: manifest record truncated")
		}
		v := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if pos+8 > len(data) {
			return 0, fmt.Errorf("version: manifest record truncated")
		}
		v := binary.LittleEndian.Uint64(data[pos:])
		pos += 8
		return v, nil
	}
	readBytes := func(n uint32) ([]byte, error) {
		if pos+int(n) > len(data) {
			return nil, fmt.Errorf("version: manifest record truncated")
		}
		b := append([]byte{}, data[pos:pos+int(n)]...)
		pos += int(n)
		return b, nil
	}

	numDeleted, err := readU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numDeleted; i++ {
		if pos+1 > len(data) {
			return nil, fmt.Errorf("version: manifest record truncated")
		}
		level := int(data[pos])
		pos++
		fileID, err := readU64()
		if err != nil {
			return nil, err
		}
		edit.DeleteFile(level, fileID)
	}

	numAdded, err := readU32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numAdded; i++ {
		if pos+1 > len(data) {
			return nil, fmt.Errorf("version: manifest record truncated")
		}
		level := int(data[pos])
		pos++
		var fm FileMetadata
		if fm.FileID, err = readU64(); err != nil {
			return nil, err
		}
		if fm.Size, err = readU64(); err != nil {
			return nil, err
		}
		n, err := readU32()
		if err != nil {
			return nil, err
		}
		if fm.Smallest, err = readBytes(n); err != nil {
			return nil, err
		}
		if n, err = readU32(); err != nil {
			return nil, err
		}
		if fm.Largest, err = readBytes(n); err != nil {
			return nil, err
		}
		if fm.NumEntries, err = readU64(); err != nil {
			return nil, err
		}
		fm.Level = level
		edit.AddFile(level, fm)
	}

	return edit, nil
}

// ManifestWriter appends VersionEdits to the manifest file.
type ManifestWriter struct {
	file *os.File
	buf  *bufio.Writer
}

// CreateManifest opens (creating if necessary) the manifest file at path
// for appending.
func CreateManifest(path string) (*ManifestWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("version: open manifest %s: %w", path, err)
	}
	return &ManifestWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

// Append durably records edit: write, flush, fsync. Manifest edits are
// rare (one per flush or compaction) so synchronous fsync-per-record is an
// acceptable cost.
func (w *ManifestWriter) Append(edit *Edit) error {
	if _, err := w.buf.Write(encodeEdit(edit)); err != nil {
		return fmt.Errorf("version: append manifest record: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("version: flush manifest: %w", err)
	}
	return w.file.Sync()
}

// Close closes the manifest file.
func (w *ManifestWriter) Close() error {
	return w.file.Close()
}

// ReplayManifest reads every well-formed edit from the manifest file at
// path, in order. Like WAL replay, it stops at clean EOF and silently
// discards a torn trailing record rather than failing recovery.
func ReplayManifest(path string) ([]*Edit, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("version: open manifest %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var edits []*Edit
	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(r, header); err != nil {
			break
		}
		crc := binary.LittleEndian.Uint32(header[0:4])
		dataLen := binary.LittleEndian.Uint32(header[4:8])

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			break
		}
		if crc32.ChecksumIEEE(data) != crc {
			break
		}

		edit, err := decodeEdit(data)
		if err != nil {
			break
		}
		edits = append(edits, edit)
	}
	return edits, nil
}
