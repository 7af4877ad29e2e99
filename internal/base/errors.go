package base

import "errors"

// Shared sentinel errors returned by every layer of the engine. Callers use
// errors.Is against these rather than matching on message text.
var (
	// ErrNotFound is returned by the engine's and a transaction's point
	// lookups when a key has no live value, whether because it was never
	// written or because the last write to it was a delete. The memtable
	// and sstable layers report absence with a bool or a LookupStatus.
	ErrNotFound = errors.New("lsmkv: not found")

	// ErrCorruption covers footer magic/version mismatches, CRC mismatches,
	// impossible varints, and malformed blocks. A table that fails to open
	// for one of these reasons is refused; a WAL record that fails CRC
	// validation truncates replay at that point rather than surfacing this
	// error to the caller.
	ErrCorruption = errors.New("lsmkv: corruption")

	// ErrInvalidConfig is returned by Open when the supplied configuration
	// is rejected before any on-disk state is touched.
	ErrInvalidConfig = errors.New("lsmkv: invalid config")

	// ErrInvalidArgument covers caller misuse (e.g. an empty key) rejected
	// before any state change.
	ErrInvalidArgument = errors.New("lsmkv: invalid argument")

	// ErrClosed is returned by any operation performed on an engine or
	// transaction after Close/Commit/Abort has already run.
	ErrClosed = errors.New("lsmkv: closed")
)
