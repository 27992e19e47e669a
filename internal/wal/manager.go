package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tuannm99/tinytx/internal/bx"
	"github.com/tuannm99/tinytx/internal/storage"
)

var (
	ErrCorruptLog = errors.New("wal: corrupt log record")
	ErrNoLogFile  = errors.New("wal: log file not open")
)

// Frames larger than this cannot be legitimate: a payload holds at most two
// slot images plus the fixed fields.
const maxFrameLen = recordFixedLen + 2*storage.RecordSize

// Manager owns the append-only log file plus the in-memory staging buffer.
// Staged records reach stable storage only on Flush; readers always decode
// the on-disk file.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	lsn     uint64
	staging []Record
}

// Open opens or creates the log file and seeds the LSN counter from the
// last readable record. A corrupt log seeds from zero as a best-effort
// start; corruption only becomes fatal when recovery reads the log.
func Open(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, storage.FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	m := &Manager{f: f, path: path}
	if recs, err := m.ReadAll(); err == nil && len(recs) > 0 {
		m.lsn = recs[len(recs)-1].LSN
	}
	return m, nil
}

// Append stages a record under the next LSN and returns it. Nothing is
// written to disk until Flush.
func (m *Manager) Append(kind Kind, tx, recordID int32, before, after []byte) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lsn++
	r := Record{
		LSN:      m.lsn,
		Kind:     kind,
		TxID:     tx,
		RecordID: recordID,
		Before:   before,
		After:    after,
	}
	m.staging = append(m.staging, r)
	return r
}

// Flush writes every staged frame to the log file, syncs it and clears the
// staging buffer. This is the durability point for everything staged so far.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return ErrNoLogFile
	}
	if len(m.staging) == 0 {
		return nil
	}

	var buf []byte
	for _, r := range m.staging {
		payload := r.encode()
		var lenB [4]byte
		bx.PutU32(lenB[:], uint32(len(payload)))
		buf = append(buf, lenB[:]...)
		buf = append(buf, payload...)
	}

	if _, err := m.f.Write(buf); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	if err := m.f.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}

	m.staging = m.staging[:0]
	return nil
}

// Staged reports how many records await the next Flush.
func (m *Manager) Staged() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.staging)
}

// Size returns the current on-disk length of the log file.
func (m *Manager) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return 0, ErrNoLogFile
	}
	info, err := m.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log file: %w", err)
	}
	return info.Size(), nil
}

// ReadAll decodes the complete on-disk log in order. A truncated trailing
// frame is treated as end-of-log (the last partial write is discarded); a
// fully present but malformed frame is ErrCorruptLog.
func (m *Manager) ReadAll() ([]Record, error) {
	m.mu.Lock()
	path := m.path
	m.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var recs []Record

	for {
		var lenB [4]byte
		if _, err := io.ReadFull(r, lenB[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// torn tail
				return recs, nil
			}
			return recs, fmt.Errorf("read log frame: %w", err)
		}

		n := int(bx.U32(lenB[:]))
		if n < recordFixedLen || n > maxFrameLen {
			return recs, fmt.Errorf("%w: frame length %d", ErrCorruptLog, n)
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// torn tail
				return recs, nil
			}
			return recs, fmt.Errorf("read log frame: %w", err)
		}

		rec, err := decode(payload)
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

// Close closes the log file. Staged records not yet flushed are lost, which
// mirrors what a crash would do.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}
