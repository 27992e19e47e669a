package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tuannm99/tinytx/internal/bx"
)

// FileStore owns the single data file: an 8-byte header holding the
// persisted record count, followed by fixed-size pages at offset
// HeaderSize + pageID*PageSize.
type FileStore struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens or creates the data file. A fresh file gets a zeroed header.
func Open(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	s := &FileStore{file: f}
	if info.Size() < HeaderSize {
		if err := s.WriteHeader(0); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return s, nil
}

// ReadHeader returns the persisted record count.
func (s *FileStore) ReadHeader() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr [HeaderSize]byte
	if _, err := s.file.ReadAt(hdr[:], 0); err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	return bx.U64(hdr[:]), nil
}

// WriteHeader persists the record count and syncs.
func (s *FileStore) WriteHeader(recordCount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr [HeaderSize]byte
	bx.PutU64(hdr[:], recordCount)
	if _, err := s.file.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync header: %w", err)
	}
	return nil
}

// ReadPage reads exactly one page (PageSize bytes) into dst. If the file is
// shorter than offset+PageSize the remainder is zero-filled, so pages are
// materialised lazily by higher layers.
func (s *FileStore) ReadPage(pageID int, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("dst must be exactly %d bytes", PageSize)
	}
	if pageID < 0 {
		return fmt.Errorf("invalid page id: %d", pageID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	off := int64(HeaderSize) + int64(pageID)*PageSize
	n, err := s.file.ReadAt(dst, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read page %d: %w", pageID, err)
	}
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// WritePage writes one page at its fixed offset, extending the file as
// needed, and syncs.
func (s *FileStore) WritePage(pageID int, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("src must be exactly %d bytes", PageSize)
	}
	if pageID < 0 {
		return fmt.Errorf("invalid page id: %d", pageID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	off := int64(HeaderSize) + int64(pageID)*PageSize
	if _, err := s.file.WriteAt(src, off); err != nil {
		return fmt.Errorf("write page %d: %w", pageID, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync page %d: %w", pageID, err)
	}
	return nil
}

// Close closes the data file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
