package bufferpool

import (
	"errors"
	"sync"

	"github.com/tuannm99/tinytx/internal/storage"
)

var (
	// DefaultCapacity of 0 means unbounded: pages stay cached until
	// explicitly evicted or dropped.
	DefaultCapacity = 0

	ErrNoFreeFrame = errors.New("bufferpool: no evictable page (all fixed or transactional)")
	ErrPageFixed   = errors.New("bufferpool: page is fixed")
)

// Page is a buffered page plus its bookkeeping flags.
type Page struct {
	ID   int
	Data []byte

	// Dirty means modified since the last write to disk. FixCount is the
	// number of outstanding references pinning the page; eviction is
	// forbidden while it is non-zero. Transactional marks pages touched by
	// the in-flight transaction, whose bytes must not reach disk through
	// replacement.
	Dirty         bool
	FixCount      int
	Transactional bool
}

// Pool caches pages of a FileStore in memory. The zero capacity pool is
// unbounded; with a positive capacity a CLOCK replacer picks victims among
// unfixed, non-transactional pages.
type Pool struct {
	store *storage.FileStore

	mu       sync.Mutex
	pages    map[int]*Page
	capacity int
	replacer *clock
}

func NewPool(store *storage.FileStore, capacity int) *Pool {
	return &Pool{
		store:    store,
		pages:    make(map[int]*Page),
		capacity: capacity,
		replacer: newClock(),
	}
}

// Fix returns the buffered page, loading it from disk on first use, and
// pins it. Every Fix must be paired with an Unfix.
func (p *Pool) Fix(pageID int) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pg, ok := p.pages[pageID]; ok {
		pg.FixCount++
		p.replacer.Touch(pageID)
		return pg, nil
	}

	if p.capacity > 0 && len(p.pages) >= p.capacity {
		if err := p.evictOne(); err != nil {
			return nil, err
		}
	}

	data := make([]byte, storage.PageSize)
	if err := p.store.ReadPage(pageID, data); err != nil {
		return nil, err
	}

	pg := &Page{ID: pageID, Data: data, FixCount: 1}
	p.pages[pageID] = pg
	p.replacer.Touch(pageID)
	return pg, nil
}

// evictOne flushes and drops one replacement victim. Caller holds p.mu.
func (p *Pool) evictOne() error {
	id, ok := p.replacer.Evict(func(id int) bool {
		pg := p.pages[id]
		return pg != nil && pg.FixCount == 0 && !pg.Transactional
	})
	if !ok {
		return ErrNoFreeFrame
	}

	victim := p.pages[id]
	if victim.Dirty {
		if err := p.store.WritePage(id, victim.Data); err != nil {
			return err
		}
	}
	delete(p.pages, id)
	p.replacer.Remove(id)
	return nil
}

// Unfix releases one pin on the page. The count floors at zero.
func (p *Pool) Unfix(pageID int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg, ok := p.pages[pageID]
	if !ok {
		return
	}
	if pg.FixCount > 0 {
		pg.FixCount--
	}
}

// MarkDirty flags the page as modified since its last disk write.
func (p *Pool) MarkDirty(pageID int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pg, ok := p.pages[pageID]; ok {
		pg.Dirty = true
	}
}

// Force writes the page to disk if dirty and clears both the dirty and
// transactional flags. A clean or absent page is a no-op.
func (p *Pool) Force(pageID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.force(pageID)
}

func (p *Pool) force(pageID int) error {
	pg, ok := p.pages[pageID]
	if !ok {
		return nil
	}
	if pg.Dirty {
		if err := p.store.WritePage(pageID, pg.Data); err != nil {
			return err
		}
		pg.Dirty = false
		pg.Transactional = false
	}
	return nil
}

// Evict removes the page from the pool without writing it, discarding any
// buffered modifications. A fixed page cannot be evicted.
func (p *Pool) Evict(pageID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pg, ok := p.pages[pageID]
	if !ok {
		return nil
	}
	if pg.FixCount > 0 {
		return ErrPageFixed
	}
	delete(p.pages, pageID)
	p.replacer.Remove(pageID)
	return nil
}

// FlushAll forces every dirty page to disk.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.pages {
		if err := p.force(id); err != nil {
			return err
		}
	}
	return nil
}

// ClearTransactional drops the transactional flag on every buffered page,
// leaving dirty state untouched. Called at commit: the pages belong to no
// transaction anymore but still await the next checkpoint.
func (p *Pool) ClearTransactional() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pg := range p.pages {
		pg.Transactional = false
	}
}

// Drop empties the pool without writing anything, simulating the loss of
// volatile state.
func (p *Pool) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pages = make(map[int]*Page)
	p.replacer = newClock()
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}
