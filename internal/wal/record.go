package wal

import (
	"fmt"

	"github.com/tuannm99/tinytx/internal/bx"
)

// Kind identifies the operation a log record describes.
type Kind uint32

const (
	KindBegin Kind = iota
	KindCommit
	KindRollback
	KindUpdate
	KindInsert
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "BEGIN"
	case KindCommit:
		return "COMMIT"
	case KindRollback:
		return "ROLLBACK"
	case KindUpdate:
		return "UPDATE"
	case KindInsert:
		return "INSERT"
	case KindCheckpoint:
		return "CHECKPOINT"
	default:
		return "UNKNOWN"
	}
}

// Record is one write-ahead-log entry. Before and After are slot images for
// Update/Insert; nil means absent and is encoded as zero length. Control
// records (Begin/Commit/Rollback/Checkpoint) carry RecordID -1, and
// Checkpoint additionally TxID -1.
type Record struct {
	LSN      uint64
	Kind     Kind
	TxID     int32
	RecordID int32
	Before   []byte
	After    []byte
}

func (r Record) String() string {
	return fmt.Sprintf("Record{lsn=%d, kind=%s, tx=%d, record=%d}", r.LSN, r.Kind, r.TxID, r.RecordID)
}

// On-disk payload layout (all integers big-endian):
//
//	u64 lsn | u32 kind | i32 txId | i32 recordId
//	u32 beforeLen | beforeBytes | u32 afterLen | afterBytes
const recordFixedLen = 8 + 4 + 4 + 4 + 4 + 4

// encode serialises the record without the outer length frame.
func (r Record) encode() []byte {
	buf := make([]byte, recordFixedLen+len(r.Before)+len(r.After))
	off := 0

	bx.PutU64At(buf, off, r.LSN)
	off += 8
	bx.PutU32At(buf, off, uint32(r.Kind))
	off += 4
	bx.PutI32At(buf, off, r.TxID)
	off += 4
	bx.PutI32At(buf, off, r.RecordID)
	off += 4

	bx.PutU32At(buf, off, uint32(len(r.Before)))
	off += 4
	copy(buf[off:], r.Before)
	off += len(r.Before)

	bx.PutU32At(buf, off, uint32(len(r.After)))
	off += 4
	copy(buf[off:], r.After)

	return buf
}

// decode parses one framed payload back into a Record.
func decode(b []byte) (Record, error) {
	if len(b) < recordFixedLen {
		return Record{}, fmt.Errorf("%w: payload of %d bytes", ErrCorruptLog, len(b))
	}

	var r Record
	off := 0

	r.LSN = bx.U64At(b, off)
	off += 8
	kind := bx.U32At(b, off)
	off += 4
	if kind > uint32(KindCheckpoint) {
		return Record{}, fmt.Errorf("%w: kind %d", ErrCorruptLog, kind)
	}
	r.Kind = Kind(kind)
	r.TxID = bx.I32At(b, off)
	off += 4
	r.RecordID = bx.I32At(b, off)
	off += 4

	beforeLen := int(bx.U32At(b, off))
	off += 4
	if beforeLen < 0 || off+beforeLen+4 > len(b) {
		return Record{}, fmt.Errorf("%w: before image of %d bytes", ErrCorruptLog, beforeLen)
	}
	if beforeLen > 0 {
		r.Before = make([]byte, beforeLen)
		copy(r.Before, b[off:off+beforeLen])
	}
	off += beforeLen

	afterLen := int(bx.U32At(b, off))
	off += 4
	if afterLen < 0 || off+afterLen != len(b) {
		return Record{}, fmt.Errorf("%w: after image of %d bytes", ErrCorruptLog, afterLen)
	}
	if afterLen > 0 {
		r.After = make([]byte, afterLen)
		copy(r.After, b[off:off+afterLen])
	}

	return r, nil
}
