package engine

import (
	"log/slog"

	locking "github.com/tuannm99/tinytx/internal/lock"
	"github.com/tuannm99/tinytx/internal/storage"
	"github.com/tuannm99/tinytx/internal/wal"
)

// Recover rebuilds a consistent state from the on-disk journal: an analysis
// pass classifies the transactions recorded after the last checkpoint, REDO
// replays the committed ones forward, UNDO walks backward over the rest,
// and a final force writes the result out.
//
// REDO must run before UNDO: a winner's UPDATE may share a slot with a
// later loser's UPDATE, and undoing the loser with its own before-image
// then restores the winner's bytes.
func (db *DB) Recover() error {
	if db.closed {
		return ErrClosed
	}

	journal, err := db.wal.ReadAll()
	if err != nil {
		return err
	}
	if len(journal) == 0 {
		return nil
	}

	start := 0
	for i := len(journal) - 1; i >= 0; i-- {
		if journal[i].Kind == wal.KindCheckpoint {
			// The checkpoint record itself carries no transaction state.
			start = i + 1
			break
		}
	}

	committed := make(map[int32]bool)
	active := make(map[int32]bool)
	for _, rec := range journal[start:] {
		switch rec.Kind {
		case wal.KindBegin:
			active[rec.TxID] = true
		case wal.KindCommit:
			delete(active, rec.TxID)
			committed[rec.TxID] = true
		case wal.KindRollback:
			delete(active, rec.TxID)
		}
	}

	slog.Debug("recovery analysis",
		"entries", len(journal)-start, "committed", len(committed), "active", len(active))

	for _, rec := range journal[start:] {
		if rec.Kind != wal.KindUpdate && rec.Kind != wal.KindInsert {
			continue
		}
		if !committed[rec.TxID] {
			continue
		}
		if err := db.redo(rec); err != nil {
			return err
		}
	}

	for i := len(journal) - 1; i >= start; i-- {
		rec := journal[i]
		if rec.Kind != wal.KindUpdate && rec.Kind != wal.KindInsert {
			continue
		}
		if !active[rec.TxID] {
			continue
		}
		if err := db.undo(rec); err != nil {
			return err
		}
	}

	if err := db.pool.FlushAll(); err != nil {
		return err
	}
	return db.store.WriteHeader(db.recordCount)
}

// redo reapplies one committed modification by writing its after-image.
func (db *DB) redo(rec wal.Record) error {
	if len(rec.After) == 0 {
		return nil
	}

	recordID := int(rec.RecordID)
	pageID, slot := pageOf(recordID), slotOf(recordID)

	pg, err := db.pool.Fix(pageID)
	if err != nil {
		return err
	}
	copy(pg.Data[slot*storage.RecordSize:(slot+1)*storage.RecordSize], padRecord(rec.After))
	db.pool.MarkDirty(pageID)
	db.pool.Unfix(pageID)

	if rec.Kind == wal.KindInsert && uint64(recordID) >= db.recordCount {
		db.recordCount = uint64(recordID) + 1
	}
	return nil
}

// undo reverts one loser modification. An UPDATE restores its before-image;
// an INSERT is taken back by shrinking the record count, which only works
// at the tail — an interior undone insert leaves a hole, since slots carry
// no liveness metadata to reclaim it.
func (db *DB) undo(rec wal.Record) error {
	recordID := int(rec.RecordID)

	switch rec.Kind {
	case wal.KindUpdate:
		if len(rec.Before) == 0 {
			return nil
		}
		pageID, slot := pageOf(recordID), slotOf(recordID)
		pg, err := db.pool.Fix(pageID)
		if err != nil {
			return err
		}
		copy(pg.Data[slot*storage.RecordSize:(slot+1)*storage.RecordSize], padRecord(rec.Before))
		db.pool.MarkDirty(pageID)
		db.pool.Unfix(pageID)

	case wal.KindInsert:
		if db.recordCount > 0 && uint64(recordID) == db.recordCount-1 {
			db.recordCount--
		}
	}
	return nil
}

// Crash simulates a process failure: every piece of volatile state is
// dropped while both files survive. Staged log records are flushed first,
// mirroring the flush the write path already performed for transactional
// work, so the journal on disk is exactly what a real crash would leave.
func (db *DB) Crash() error {
	if db.closed {
		return ErrClosed
	}

	if err := db.wal.Flush(); err != nil {
		return err
	}
	db.pool.Drop()
	db.bib = make(map[int][]byte)
	db.locks = locking.NewTable()
	db.inTx = false
	return nil
}
