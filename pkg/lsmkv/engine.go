// Package lsmkv is the public facade over the LSM engine: an embeddable,
// ordered byte-key/byte-value store with write-ahead-log durability,
// leveled background compaction, and snapshot-isolated transactions.
package lsmkv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"lsmkv/internal/base"
	"lsmkv/internal/compaction"
	"lsmkv/internal/memtable"
	"lsmkv/internal/sstable"
	"lsmkv/internal/version"
	"lsmkv/internal/wal"
)

const compactionPollInterval = 100 * time.Millisecond

// DatabaseStats is a point-in-time snapshot of engine-level counters,
// returned by Stats.
type DatabaseStats struct {
	MemtableBytes   uint64
	MemtableEntries int
	NumTables       int
	CurrentSequence base.SeqNum
	L0FileCount     int
}

// Engine is the open, live database. It owns the memtable, the WAL writer,
// the version set, and the table reader cache; every exported method is
// safe for concurrent use by multiple goroutines.
type Engine struct {
	cfg Config

	memMu sync.RWMutex
	mem   *memtable.Memtable

	walMu sync.Mutex
	wal   *wal.Writer

	seq base.AtomicSeqNum

	versions *version.Set
	readers  *compaction.ReaderCache
	manifest *version.ManifestWriter
	picker   *compaction.Picker
	runner   *compaction.Runner
	worker   *compaction.Worker

	txns *txnManager

	closed atomic.Bool
}

// Open recovers (or creates) a database rooted at the directories named by
// cfg, applying options on top of cfg before validating it.
func Open(cfg Config, opts ...Option) (*Engine, error) {
	for _, o := range opts {
		o.apply(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("lsmkv: create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WALDir, 0755); err != nil {
		return nil, fmt.Errorf("lsmkv: create wal dir: %w", err)
	}

	versions := version.NewSet()
	readers := compaction.NewReaderCache()

	manifestPath := filepath.Join(cfg.DataDir, "MANIFEST")
	if err := recoverVersionSet(manifestPath, cfg.DataDir, versions, readers); err != nil {
		readers.Close()
		return nil, err
	}
	manifestWriter, err := version.CreateManifest(manifestPath)
	if err != nil {
		readers.Close()
		return nil, err
	}

	walPath := filepath.Join(cfg.WALDir, "wal.log")
	records, err := wal.Replay(walPath)
	if err != nil {
		manifestWriter.Close()
		readers.Close()
		return nil, fmt.Errorf("lsmkv: replay wal: %w", err)
	}

	mem := memtable.New(cfg.MemtableBytes)
	var maxSeq base.SeqNum
	for _, r := range records {
		if r.Kind == base.KindDelete {
			mem.Delete(r.Key)
		} else {
			mem.Put(r.Key, r.Value)
		}
		if r.SeqNum > maxSeq {
			maxSeq = r.SeqNum
		}
	}

	walWriter, err := wal.Create(walPath)
	if err != nil {
		manifestWriter.Close()
		readers.Close()
		return nil, fmt.Errorf("lsmkv: open wal: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		mem:      mem,
		wal:      walWriter,
		versions: versions,
		readers:  readers,
		manifest: manifestWriter,
	}
	e.seq.Store(maxSeq)
	// The next mutation must get maxSeq+1; AtomicSeqNum.Next() pre-increments,
	// so storing maxSeq here (rather than maxSeq+1) is correct.

	e.picker = compaction.NewPicker(compaction.PickerConfig{
		L0Trigger:       cfg.Level0Trigger,
		LevelBaseBytes:  cfg.LevelBaseBytes,
		LevelMultiplier: cfg.LevelMultiplier,
	})
	e.runner = compaction.NewRunner(versions, readers, compaction.RunnerConfig{
		DataDir:    cfg.DataDir,
		BlockSize:  cfg.BlockSize,
		BitsPerKey: cfg.BloomBitsPerKey,
	}, nil, manifestWriter)
	e.worker = compaction.NewWorker(versions, e.picker, e.runner, nil)
	e.worker.Start(compactionPollInterval)

	e.txns = newTxnManager()

	return e, nil
}

// recoverVersionSet replays the manifest into a scratch version set to
// learn which (level, file id) pairs are currently live, then reopens each
// surviving table (to recover its bloom filter, which the manifest does
// not persist) and installs it into the real version set in the same
// per-level order.
func recoverVersionSet(manifestPath, dataDir string, versions *version.Set, readers *compaction.ReaderCache) error {
	edits, err := version.ReplayManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("lsmkv: replay manifest: %w", err)
	}
	if len(edits) == 0 {
		return nil
	}

	scratch := version.NewSet()
	for _, e := range edits {
		scratch.Apply(e)
	}

	v := scratch.Current()
	var maxID uint64
	for level := range v.Levels {
		for _, fm := range v.Levels[level].Files {
			if fm.FileID > maxID {
				maxID = fm.FileID
			}
			path := compaction.TablePath(dataDir, fm.FileID)
			r, err := sstable.Open(path)
			if err != nil {
				return fmt.Errorf("lsmkv: reopen table %d: %w", fm.FileID, err)
			}
			readers.Put(fm.FileID, r)
			fm.Bloom = r.Bloom()
			versions.AddFile(level, fm)
		}
	}
	// Move the file-id counter past every recovered table so a later flush
	// or compaction never reuses (and truncates) a live table's file.
	for versions.NextFileID() < maxID {
	}
	return nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("lsmkv: key must not be empty: %w", base.ErrInvalidArgument)
	}
	return nil
}

// Put durably writes key=value: the WAL record is fsynced before Put
// returns, and the write is visible to every subsequent Get.
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return base.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	seq := e.seq.Next()
	if err := e.appendWAL(wal.Record{SeqNum: seq, Kind: base.KindSet, Key: key, Value: value}); err != nil {
		return err
	}

	e.memMu.Lock()
	e.mem.Put(key, value)
	shouldFlush := e.mem.ShouldFlush()
	e.memMu.Unlock()

	if shouldFlush {
		if err := e.flushAndCompact(); err != nil {
			return err
		}
	}
	return nil
}

// Delete durably records key as deleted. A subsequent Get on key returns
// ErrNotFound, indistinguishable from a key that was never written.
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return base.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	seq := e.seq.Next()
	if err := e.appendWAL(wal.Record{SeqNum: seq, Kind: base.KindDelete, Key: key}); err != nil {
		return err
	}

	e.memMu.Lock()
	e.mem.Delete(key)
	shouldFlush := e.mem.ShouldFlush()
	e.memMu.Unlock()

	if shouldFlush {
		if err := e.flushAndCompact(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) appendWAL(r wal.Record) error {
	e.walMu.Lock()
	defer e.walMu.Unlock()
	if err := e.wal.Append(r); err != nil {
		return err
	}
	return e.wal.Sync()
}

// Get returns the current value for key, or ErrNotFound if it has no live
// value: the live memtable is consulted first, then every candidate table
// in version order (level-0 newest-first, then ascending levels). The
// first hit wins; a tombstone encountered at any layer means absent.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, base.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	e.memMu.RLock()
	value, kind, found := e.mem.Lookup(key)
	e.memMu.RUnlock()
	if found {
		if kind == base.KindDelete {
			return nil, base.ErrNotFound
		}
		return value, nil
	}

	v := e.versions.Current()
	for _, fm := range v.FilesForKey(key) {
		r, ok := e.readers.Get(fm.FileID)
		if !ok {
			continue
		}
		val, status, err := r.Get(key)
		if err != nil {
			return nil, err
		}
		switch status {
		case sstable.StatusFound:
			return val, nil
		case sstable.StatusTombstone:
			return nil, base.ErrNotFound
		}
	}
	return nil, base.ErrNotFound
}

// flushAndCompact seals the current memtable, writes it as a new level-0
// table, registers it with the version set and manifest, then drains
// pending compactions synchronously.
func (e *Engine) flushAndCompact() error {
	e.memMu.Lock()
	frozen := e.mem
	e.mem = memtable.New(e.cfg.MemtableBytes)
	e.memMu.Unlock()

	if err := e.flushMemtable(frozen); err != nil {
		return err
	}

	for {
		did, err := e.worker.MaybeCompact()
		if err != nil {
			return err
		}
		if !did {
			return nil
		}
	}
}

func (e *Engine) flushMemtable(m *memtable.Memtable) error {
	if m.Len() == 0 {
		return nil
	}

	fileID := e.versions.NextFileID()
	path := compaction.TablePath(e.cfg.DataDir, fileID)
	writer, err := sstable.NewWriter(path, e.cfg.BlockSize, e.cfg.BloomBitsPerKey)
	if err != nil {
		return fmt.Errorf("lsmkv: create flushed table: %w", err)
	}
	if err := m.FlushTo(writer); err != nil {
		return fmt.Errorf("lsmkv: flush memtable: %w", err)
	}
	meta, err := writer.Finish(fileID, 0)
	if err != nil {
		return fmt.Errorf("lsmkv: finish flushed table: %w", err)
	}

	reader, err := sstable.Open(path)
	if err != nil {
		return fmt.Errorf("lsmkv: reopen flushed table: %w", err)
	}
	e.readers.Put(fileID, reader)

	fm := version.FileMetadata{Metadata: meta, Bloom: reader.Bloom()}
	edit := version.NewEdit()
	edit.AddFile(0, fm)
	e.versions.Apply(edit)
	if err := e.manifest.Append(edit); err != nil {
		return fmt.Errorf("lsmkv: append manifest: %w", err)
	}
	return nil
}

// Stats returns a point-in-time snapshot of engine counters.
func (e *Engine) Stats() DatabaseStats {
	e.memMu.RLock()
	memBytes := e.mem.ApproxSize()
	memEntries := e.mem.Len()
	e.memMu.RUnlock()

	v := e.versions.Current()
	return DatabaseStats{
		MemtableBytes:   memBytes,
		MemtableEntries: memEntries,
		NumTables:       len(v.AllFiles()),
		CurrentSequence: e.seq.Load(),
		L0FileCount:     v.L0FileCount(),
	}
}

// Close flushes any unflushed writes, stops the background compaction
// worker, and releases every held file handle. Close is idempotent; a
// second call returns ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return base.ErrClosed
	}

	var errs *multierror.Error

	e.memMu.RLock()
	needsFlush := e.mem.Len() > 0
	e.memMu.RUnlock()
	if needsFlush {
		if err := e.flushAndCompact(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	e.worker.Stop()

	e.walMu.Lock()
	if err := e.wal.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	e.walMu.Unlock()

	if err := e.manifest.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := e.readers.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if errs.ErrorOrNil() != nil {
		return fmt.Errorf("lsmkv: close: %w", errs.ErrorOrNil())
	}
	return nil
}
