package engine

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/tuannm99/tinytx/internal/bufferpool"
	locking "github.com/tuannm99/tinytx/internal/lock"
	"github.com/tuannm99/tinytx/internal/storage"
	"github.com/tuannm99/tinytx/internal/wal"
)

var (
	ErrNotFound     = errors.New("tinytx: record does not exist")
	ErrLockConflict = errors.New("tinytx: record is locked by another transaction")
	ErrClosed       = errors.New("tinytx: database is closed")
	ErrDirIsUsing   = errors.New("tinytx: data directory is used by another process")
)

const flockName = "flock"

// DB is the transaction manager. It owns the paged data file, the buffer
// pool, the write-ahead log, the lock table and the before-image buffer,
// and is the only component that touches all of them.
//
// The engine is single-threaded by design: one caller drives one DB, and at
// most one transaction is in flight at a time. Transaction ids are logical
// identities so that the log and recovery can reason about multiple
// transactions.
type DB struct {
	dir      string
	store    *storage.FileStore
	pool     *bufferpool.Pool
	wal      *wal.Manager
	locks    *locking.Table
	fileLock *flock.Flock

	// bib maps pageID to the page snapshot taken when the current
	// transaction first intended to write to it. First write wins: an entry
	// is never refreshed.
	bib map[int][]byte

	recordCount  uint64
	inTx         bool
	curTxID      int32
	txStartCount uint64

	// Offset hint only; recovery rescans the whole log.
	lastCheckpointOff int64

	closed bool
}

// Open locks the directory, opens or creates the data and log files and
// reads the persisted record count. The caller may run Recover afterwards
// to replay the journal.
func Open(dir string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}

	if err := os.MkdirAll(dir, storage.FileMode0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, flockName))
	held, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data directory: %w", err)
	}
	if !held {
		return nil, ErrDirIsUsing
	}

	store, err := storage.Open(filepath.Join(dir, o.name+".db"))
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	w, err := wal.Open(filepath.Join(dir, o.name+".db.log"))
	if err != nil {
		_ = store.Close()
		_ = fl.Unlock()
		return nil, err
	}

	count, err := store.ReadHeader()
	if err != nil {
		_ = w.Close()
		_ = store.Close()
		_ = fl.Unlock()
		return nil, err
	}

	return &DB{
		dir:         dir,
		store:       store,
		pool:        bufferpool.NewPool(store, o.poolCapacity),
		wal:         w,
		locks:       locking.NewTable(),
		fileLock:    fl,
		bib:         make(map[int][]byte),
		recordCount: count,
	}, nil
}

func pageOf(recordID int) int { return recordID / storage.RecordsPerPage }
func slotOf(recordID int) int { return recordID % storage.RecordsPerPage }

// slotBytes copies one slot out of a page image.
func slotBytes(page []byte, slot int) []byte {
	out := make([]byte, storage.RecordSize)
	copy(out, page[slot*storage.RecordSize:])
	return out
}

// padRecord truncates or right-zero-pads data to exactly one slot.
func padRecord(data []byte) []byte {
	out := make([]byte, storage.RecordSize)
	copy(out, data)
	return out
}

func trimRecord(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}

func (db *DB) exists(recordID int) bool {
	return recordID >= 0 && uint64(recordID) < db.recordCount
}

// Insert appends a record at the current high-water mark and returns its id.
// The record count is persisted immediately, even inside a transaction:
// recovery undoes uncommitted inserts by decrementing the count, so a
// transiently-high on-disk count is safe.
func (db *DB) Insert(data []byte) (int, error) {
	if db.closed {
		return 0, ErrClosed
	}

	recordID := int(db.recordCount)
	pageID, slot := pageOf(recordID), slotOf(recordID)

	if db.inTx {
		if err := db.snapshotPage(pageID); err != nil {
			return 0, err
		}
		db.locks.Acquire(recordID, db.curTxID)
	}

	pg, err := db.pool.Fix(pageID)
	if err != nil {
		return 0, err
	}
	copy(pg.Data[slot*storage.RecordSize:(slot+1)*storage.RecordSize], padRecord(data))
	db.pool.MarkDirty(pageID)
	if db.inTx {
		pg.Transactional = true
	}
	after := slotBytes(pg.Data, slot)
	db.pool.Unfix(pageID)

	db.recordCount++
	if err := db.store.WriteHeader(db.recordCount); err != nil {
		return 0, err
	}

	if db.inTx {
		db.wal.Append(wal.KindInsert, db.curTxID, int32(recordID), nil, after)
		if err := db.wal.Flush(); err != nil {
			return 0, err
		}
	}
	return recordID, nil
}

// Update overwrites an existing record. Inside a transaction the page is
// snapshotted into the before-image buffer and the record locked before the
// first modification; the UPDATE log record carries both slot images.
func (db *DB) Update(recordID int, data []byte) error {
	if db.closed {
		return ErrClosed
	}
	if !db.exists(recordID) {
		return fmt.Errorf("%w: record %d", ErrNotFound, recordID)
	}
	if db.locks.IsLocked(recordID) && !db.locks.OwnedBy(recordID, db.curTxID) {
		return fmt.Errorf("%w: record %d", ErrLockConflict, recordID)
	}

	pageID, slot := pageOf(recordID), slotOf(recordID)

	if db.inTx && !db.locks.OwnedBy(recordID, db.curTxID) {
		// Snapshot before the first modification, then lock.
		if err := db.snapshotPage(pageID); err != nil {
			return err
		}
		db.locks.Acquire(recordID, db.curTxID)
	}

	pg, err := db.pool.Fix(pageID)
	if err != nil {
		return err
	}
	before := slotBytes(pg.Data, slot)
	copy(pg.Data[slot*storage.RecordSize:(slot+1)*storage.RecordSize], padRecord(data))
	db.pool.MarkDirty(pageID)
	if db.inTx {
		pg.Transactional = true
	}
	after := slotBytes(pg.Data, slot)
	db.pool.Unfix(pageID)

	if db.inTx {
		db.wal.Append(wal.KindUpdate, db.curTxID, int32(recordID), before, after)
		if err := db.wal.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the record's bytes with trailing zero padding trimmed.
//
// Consistent-read policy: a record locked by another transaction is served
// from the owning transaction's before-image snapshot when one covers the
// page, so readers see the pre-write value until commit or rollback. A
// transaction always sees its own writes.
func (db *DB) Read(recordID int) ([]byte, error) {
	if db.closed {
		return nil, ErrClosed
	}
	if !db.exists(recordID) {
		return nil, fmt.Errorf("%w: record %d", ErrNotFound, recordID)
	}

	pageID, slot := pageOf(recordID), slotOf(recordID)

	if db.locks.IsLocked(recordID) && !db.locks.OwnedBy(recordID, db.curTxID) {
		if snap, ok := db.bib[pageID]; ok {
			return trimRecord(slotBytes(snap, slot)), nil
		}
	}

	pg, err := db.pool.Fix(pageID)
	if err != nil {
		return nil, err
	}
	out := slotBytes(pg.Data, slot)
	db.pool.Unfix(pageID)

	return trimRecord(out), nil
}

// RecordCount returns the current high-water mark; valid record ids are
// [0, RecordCount).
func (db *DB) RecordCount() uint64 { return db.recordCount }

// InTransaction reports whether a transaction is in flight.
func (db *DB) InTransaction() bool { return db.inTx }

// CurrentTxID returns the id of the most recently begun transaction.
func (db *DB) CurrentTxID() int32 { return db.curTxID }

// Log decodes the on-disk journal.
func (db *DB) Log() ([]wal.Record, error) {
	return db.wal.ReadAll()
}

// Close flushes the staging buffer, persists the header and closes both
// files. An in-flight transaction is neither committed nor rolled back; the
// journal decides its fate at the next recovery.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true

	if err := db.wal.Flush(); err != nil {
		return err
	}
	if err := db.store.WriteHeader(db.recordCount); err != nil {
		return err
	}
	if err := db.wal.Close(); err != nil {
		return err
	}
	if err := db.store.Close(); err != nil {
		return err
	}
	if err := db.fileLock.Unlock(); err != nil {
		slog.Warn("release directory lock", "dir", db.dir, "err", err)
	}
	return nil
}
