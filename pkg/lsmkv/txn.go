package lsmkv

import (
	"errors"
	"fmt"
	"sync"

	"lsmkv/internal/base"
)

// ErrConflict is the sentinel wrapped by every ConflictError; check with
// errors.Is(err, ErrConflict) when the specific key doesn't matter.
var ErrConflict = errors.New("lsmkv: transaction conflict")

// ConflictError is returned by Txn.Commit when first-committer-wins
// validation finds a key that some other transaction committed after this
// one began.
type ConflictError struct {
	Key []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lsmkv: conflict on key %q", e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type txnStatus int

const (
	txnActive txnStatus = iota
	txnCommitted
	txnAborted
)

type writeOp struct {
	value    []byte
	isDelete bool
}

type txnRecord struct {
	id           uint64
	startVersion uint64
	status       txnStatus
	readSet      map[string]struct{}
	writeSet     map[string]writeOp
}

type committedWrite struct {
	version  uint64
	value    []byte
	isDelete bool
}

// txnManager implements snapshot isolation without locking the LSM: every
// transaction reads from a version number fixed at Begin, and Commit
// validates that no key it touched was committed after that point before
// publishing its own writes.
type txnManager struct {
	mu             sync.RWMutex
	nextTxnID      uint64
	currentVersion uint64
	active         map[uint64]*txnRecord

	committedMu sync.RWMutex
	committed   map[string][]committedWrite
}

func newTxnManager() *txnManager {
	return &txnManager{
		active:    make(map[uint64]*txnRecord),
		committed: make(map[string][]committedWrite),
	}
}

func (m *txnManager) begin() *txnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxnID++
	rec := &txnRecord{
		id:           m.nextTxnID,
		startVersion: m.currentVersion,
		status:       txnActive,
		readSet:      make(map[string]struct{}),
		writeSet:     make(map[string]writeOp),
	}
	m.active[rec.id] = rec
	return rec
}

// committedValueAt returns the most recent committed write to key with
// version <= atVersion, if any.
func (m *txnManager) committedValueAt(key []byte, atVersion uint64) (writeOp, bool) {
	m.committedMu.RLock()
	defer m.committedMu.RUnlock()
	writes := m.committed[string(key)]
	for i := len(writes) - 1; i >= 0; i-- {
		if writes[i].version <= atVersion {
			return writeOp{value: writes[i].value, isDelete: writes[i].isDelete}, true
		}
	}
	return writeOp{}, false
}

// hasConflict reports whether any committed write to key happened strictly
// after startVersion.
func (m *txnManager) hasConflict(key []byte, startVersion uint64) bool {
	m.committedMu.RLock()
	defer m.committedMu.RUnlock()
	for _, w := range m.committed[string(key)] {
		if w.version > startVersion {
			return true
		}
	}
	return false
}

func (m *txnManager) abort(rec *txnRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.status = txnAborted
	delete(m.active, rec.id)
}

// commit validates rec against every committed write since its snapshot,
// then publishes its write set under a single new version number. Returns
// the conflicting key on failure.
func (m *txnManager) commit(rec *txnRecord) (version uint64, writes map[string]writeOp, conflictKey []byte, err error) {
	touched := make(map[string][]byte, len(rec.readSet)+len(rec.writeSet))
	for k := range rec.readSet {
		touched[k] = []byte(k)
	}
	for k := range rec.writeSet {
		touched[k] = []byte(k)
	}

	for _, key := range touched {
		if m.hasConflict(key, rec.startVersion) {
			return 0, nil, key, &ConflictError{Key: key}
		}
	}

	m.mu.Lock()
	m.currentVersion++
	commitVersion := m.currentVersion
	rec.status = txnCommitted
	delete(m.active, rec.id)
	m.mu.Unlock()

	m.committedMu.Lock()
	for k, op := range rec.writeSet {
		m.committed[k] = append(m.committed[k], committedWrite{version: commitVersion, value: op.value, isDelete: op.isDelete})
	}
	m.committedMu.Unlock()

	return commitVersion, rec.writeSet, nil, nil
}

// gc drops committed records older than minVersion, letting the caller
// bound the committed-write log's growth once it knows no active
// transaction can still observe them.
func (m *txnManager) gc(minVersion uint64) {
	m.committedMu.Lock()
	defer m.committedMu.Unlock()
	for k, writes := range m.committed {
		kept := writes[:0]
		for _, w := range writes {
			if w.version >= minVersion {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(m.committed, k)
		} else {
			m.committed[k] = kept
		}
	}
}

// Txn is a handle to one active transaction. All methods are safe to call
// from a single goroutine at a time; a Txn is not itself meant to be
// shared concurrently.
type Txn struct {
	engine *Engine
	rec    *txnRecord
}

// Begin starts a new transaction snapshotted at the current commit
// version. Reads inside it never observe a commit made after this call.
func (e *Engine) Begin() *Txn {
	return &Txn{engine: e, rec: e.txns.begin()}
}

// Get returns the value visible to this transaction: a local write wins
// first, then the most recent commit at or before this transaction's
// snapshot, falling back to the live LSM for keys the committed-write log
// has no record of (a cold key with no transactional history yet).
func (t *Txn) Get(key []byte) ([]byte, error) {
	if t.rec.status != txnActive {
		return nil, base.ErrClosed
	}
	if op, ok := t.rec.writeSet[string(key)]; ok {
		if op.isDelete {
			return nil, base.ErrNotFound
		}
		return op.value, nil
	}

	t.rec.readSet[string(key)] = struct{}{}

	if op, ok := t.engine.txns.committedValueAt(key, t.rec.startVersion); ok {
		if op.isDelete {
			return nil, base.ErrNotFound
		}
		return op.value, nil
	}
	if t.engine.txns.hasConflict(key, t.rec.startVersion) {
		// Every committed write to key postdates this snapshot.
		return nil, base.ErrNotFound
	}

	return t.engine.Get(key)
}

// Put records a write into this transaction's write set. It is not
// durable or visible to any other transaction until Commit succeeds.
func (t *Txn) Put(key, value []byte) error {
	if t.rec.status != txnActive {
		return base.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	t.rec.writeSet[string(key)] = writeOp{value: value}
	return nil
}

// Delete records a delete into this transaction's write set.
func (t *Txn) Delete(key []byte) error {
	if t.rec.status != txnActive {
		return base.ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	t.rec.writeSet[string(key)] = writeOp{isDelete: true}
	return nil
}

// Commit validates this transaction's read and write sets against every
// write committed since it began (first-committer-wins); on success its
// writes are applied to the LSM through the normal durable write path
// before Commit returns.
func (t *Txn) Commit() error {
	if t.rec.status != txnActive {
		return base.ErrClosed
	}

	_, writes, _, err := t.engine.txns.commit(t.rec)
	if err != nil {
		return err
	}

	for k, op := range writes {
		var applyErr error
		if op.isDelete {
			applyErr = t.engine.Delete([]byte(k))
		} else {
			applyErr = t.engine.Put([]byte(k), op.value)
		}
		if applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// Abort discards this transaction's write set; it is never applied.
func (t *Txn) Abort() error {
	if t.rec.status != txnActive {
		return base.ErrClosed
	}
	t.engine.txns.abort(t.rec)
	return nil
}

// GC drops committed-write history older than minVersion. Callers
// typically choose minVersion as the oldest start_version among still
// active transactions.
func (e *Engine) GC(minVersion uint64) {
	e.txns.gc(minVersion)
}
