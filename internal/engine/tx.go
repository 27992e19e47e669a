package engine

import (
	"github.com/tuannm99/tinytx/internal/storage"
	"github.com/tuannm99/tinytx/internal/wal"
)

// Begin starts a transaction. If one is already in flight it is committed
// first — callers that want an error instead must track transaction state
// themselves.
func (db *DB) Begin() error {
	if db.closed {
		return ErrClosed
	}
	if db.inTx {
		if err := db.Commit(); err != nil {
			return err
		}
	}

	db.inTx = true
	db.curTxID++
	db.txStartCount = db.recordCount
	db.wal.Append(wal.KindBegin, db.curTxID, -1, nil, nil)
	return nil
}

// Commit makes the current transaction durable. The commit point is the
// fsync of the COMMIT log record; data pages are left dirty and reach disk
// at the next checkpoint. Outside a transaction Commit is a no-op.
func (db *DB) Commit() error {
	if db.closed {
		return ErrClosed
	}
	if !db.inTx {
		return nil
	}

	db.wal.Append(wal.KindCommit, db.curTxID, -1, nil, nil)
	if err := db.wal.Flush(); err != nil {
		return err
	}

	db.pool.ClearTransactional()
	db.locks.ReleaseAll(db.curTxID)
	db.bib = make(map[int][]byte)
	db.inTx = false
	return nil
}

// Rollback restores every page touched by the transaction from its
// before-image and reverts the record count. The restored pages match disk
// again, so they are no longer dirty.
func (db *DB) Rollback() error {
	if db.closed {
		return ErrClosed
	}
	if !db.inTx {
		return nil
	}

	for pageID, snap := range db.bib {
		pg, err := db.pool.Fix(pageID)
		if err != nil {
			return err
		}
		copy(pg.Data, snap)
		pg.Dirty = false
		pg.Transactional = false
		db.pool.Unfix(pageID)
	}

	db.wal.Append(wal.KindRollback, db.curTxID, -1, nil, nil)
	if err := db.wal.Flush(); err != nil {
		return err
	}

	db.locks.ReleaseAll(db.curTxID)
	db.bib = make(map[int][]byte)

	db.recordCount = db.txStartCount
	if err := db.store.WriteHeader(db.recordCount); err != nil {
		return err
	}

	db.inTx = false
	return nil
}

// Checkpoint forces every dirty page and the header to disk, then appends a
// CHECKPOINT record and flushes the journal. Pages reach disk before the
// marker does; recovery relies on that order to bound its scan.
func (db *DB) Checkpoint() error {
	if db.closed {
		return ErrClosed
	}

	if err := db.pool.FlushAll(); err != nil {
		return err
	}
	if err := db.store.WriteHeader(db.recordCount); err != nil {
		return err
	}

	db.wal.Append(wal.KindCheckpoint, -1, -1, nil, nil)
	if err := db.wal.Flush(); err != nil {
		return err
	}
	if off, err := db.wal.Size(); err == nil {
		db.lastCheckpointOff = off
	}
	return nil
}

// snapshotPage stores the page's current bytes in the before-image buffer.
// First write wins: an existing snapshot is never refreshed, so it keeps
// the page as it was before the transaction's first touch.
func (db *DB) snapshotPage(pageID int) error {
	if _, ok := db.bib[pageID]; ok {
		return nil
	}

	pg, err := db.pool.Fix(pageID)
	if err != nil {
		return err
	}
	snap := make([]byte, storage.PageSize)
	copy(snap, pg.Data)
	db.pool.Unfix(pageID)

	db.bib[pageID] = snap
	return nil
}
