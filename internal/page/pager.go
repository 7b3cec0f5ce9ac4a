package page

import (
	"container/list"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zedstore/zedstore/common"
)

// LockMode is the mode a Handle's page lock is held in.
type LockMode int

const (
	LockNone LockMode = iota
	LockShared
	LockExclusive
)

// frame is one cached page slot: the page image, its own latch (so two
// callers can lock-couple through different pages concurrently), and a pin
// count that keeps it out of LRU eviction.
type frame struct {
	blk      Block
	page     *Page
	latch    sync.RWMutex
	pinCount int32
	dirty    bool
	lruElem  *list.Element
}

// Handle is a pin+lock on one page, loaned to a caller by Pager.Pin/Lock.
// Every exit path must call Unlock then Unpin (Unpin alone also works: it
// unlocks a still-locked handle first) — this is the scoped-acquisition
// pattern §5 mandates.
type Handle struct {
	pager *Pager
	blk   Block
	fr    *frame
	mode  LockMode
}

// Block returns the block number this handle is pinned on.
func (h *Handle) Block() Block { return h.blk }

// Page returns the page image. Valid only while the handle is locked.
func (h *Handle) Page() *Page { return h.fr.page }

// Pager is the page buffer adapter (spec §4.1): pin/unpin/lock pages by
// block number, mark dirty, extend the relation, recycle freed pages. It
// is policy-free — the B+-tree enforces its own lock-coupling order.
type Pager struct {
	file      *os.File
	mu        sync.Mutex
	frames    map[Block]*frame
	lru       *list.List
	cacheSize int
	numPages  Block
	freeList  []Block
	closed    bool
	log       zerolog.Logger
	metrics   *Metrics

	bytesWritten int64
}

// Open creates or opens the backing file for a pager with the given page
// cache size (in pages).
func Open(path string, cacheSize int, log zerolog.Logger, m *Metrics) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("zedstore: open page file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	p := &Pager{
		file:      f,
		frames:    make(map[Block]*frame),
		lru:       list.New(),
		cacheSize: cacheSize,
		numPages:  Block(stat.Size() / Size),
		log:       log,
		metrics:   m,
	}
	return p, nil
}

// NumPages returns the current size of the file in pages.
func (p *Pager) NumPages() Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numPages
}

func (p *Pager) loadFrame(blk Block) (*frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, common.ErrClosed
	}
	if fr, ok := p.frames[blk]; ok {
		if fr.lruElem != nil {
			p.lru.MoveToFront(fr.lruElem)
		}
		return fr, nil
	}

	if blk >= p.numPages {
		return nil, common.NewCorruption(uint64(blk), "block beyond end of file")
	}

	buf := make([]byte, Size)
	if _, err := p.file.ReadAt(buf, int64(blk)*Size); err != nil {
		return nil, fmt.Errorf("zedstore: read block %d: %w", blk, err)
	}
	fr := &frame{blk: blk, page: Load(buf)}
	p.addToCache(fr)
	return fr, nil
}

// addToCache must be called with p.mu held.
func (p *Pager) addToCache(fr *frame) {
	if len(p.frames) >= p.cacheSize {
		p.evictOne()
	}
	p.frames[fr.blk] = fr
	fr.lruElem = p.lru.PushFront(fr.blk)
	if p.metrics != nil {
		p.metrics.CachedPages.Set(float64(len(p.frames)))
	}
}

// evictOne drops the least-recently-used unpinned frame, flushing it first
// if dirty. Pinned pages are never evicted (§4.1 contract).
func (p *Pager) evictOne() {
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		blk := e.Value.(Block)
		fr := p.frames[blk]
		if fr == nil || fr.pinCount > 0 {
			continue
		}
		if fr.dirty {
			if err := p.flushFrame(fr); err != nil {
				p.log.Warn().Uint32("block", uint32(blk)).Err(err).Msg("failed to flush page on eviction")
				continue
			}
		}
		delete(p.frames, blk)
		p.lru.Remove(e)
		return
	}
	// Every frame is pinned; caller will simply grow the cache by one slot.
}

func (p *Pager) flushFrame(fr *frame) error {
	if _, err := p.file.WriteAt(fr.page.Bytes(), int64(fr.blk)*Size); err != nil {
		return err
	}
	fr.dirty = false
	p.bytesWritten += Size
	if p.metrics != nil {
		p.metrics.BytesWritten.Add(Size)
	}
	return nil
}

// Pin loads (or finds cached) the page at blk and returns an unlocked
// handle with the pin held.
func (p *Pager) Pin(blk Block) (*Handle, error) {
	fr, err := p.loadFrame(blk)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	fr.pinCount++
	if p.metrics != nil {
		p.metrics.PinsOutstanding.Inc()
	}
	p.mu.Unlock()
	return &Handle{pager: p, blk: blk, fr: fr}, nil
}

// Lock acquires the page's latch in the given mode. Call before reading or
// writing page contents.
func (h *Handle) Lock(mode LockMode) {
	switch mode {
	case LockShared:
		h.fr.latch.RLock()
	case LockExclusive:
		h.fr.latch.Lock()
	default:
		return
	}
	h.mode = mode
}

// Unlock releases the page's latch. Safe to call when not locked.
func (h *Handle) Unlock() {
	switch h.mode {
	case LockShared:
		h.fr.latch.RUnlock()
	case LockExclusive:
		h.fr.latch.Unlock()
	}
	h.mode = LockNone
}

// MarkDirty flags the page as modified; it will be written back on Sync,
// Close, or eviction.
func (h *Handle) MarkDirty() {
	h.fr.dirty = true
}

// Unpin releases the pin. The handle must not be used again afterward.
func (p *Pager) Unpin(h *Handle) {
	if h.mode != LockNone {
		h.Unlock()
	}
	p.mu.Lock()
	h.fr.pinCount--
	if p.metrics != nil {
		p.metrics.PinsOutstanding.Dec()
	}
	p.mu.Unlock()
}

// ReleaseAndRead unlocks and unpins the current block, then pins (but does
// not lock) blk, returning a fresh handle. Used by descent's right-link
// chase and restart-from-root recovery (§4.5.1) to retarget a handle
// without a separate unpin/pin call pair at each call site.
func (p *Pager) ReleaseAndRead(h *Handle, blk Block) (*Handle, error) {
	p.Unpin(h)
	return p.Pin(blk)
}

// NewPage allocates a fresh block — reusing one from the free list if
// available — and returns it pinned and exclusively locked, ready for the
// caller to format with page.NewTree/NewMeta/etc.
func (p *Pager) NewPage() (*Handle, Block, error) {
	p.mu.Lock()
	var blk Block
	if n := len(p.freeList); n > 0 {
		blk = p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
	} else {
		blk = p.numPages
		p.numPages++
	}
	fr := &frame{blk: blk, page: &Page{}, dirty: true}
	p.addToCache(fr)
	fr.pinCount++
	if p.metrics != nil {
		p.metrics.PinsOutstanding.Inc()
	}
	p.mu.Unlock()

	h := &Handle{pager: p, blk: blk, fr: fr}
	h.Lock(LockExclusive)
	return h, blk, nil
}

// FreePage recycles blk for a future NewPage call. The caller must hold no
// outstanding handle on blk.
func (p *Pager) FreePage(blk Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fr, ok := p.frames[blk]; ok {
		delete(p.frames, blk)
		if fr.lruElem != nil {
			p.lru.Remove(fr.lruElem)
		}
	}
	p.freeList = append(p.freeList, blk)
}

// Sync flushes every dirty page and fsyncs the backing file.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return common.ErrClosed
	}
	for _, fr := range p.frames {
		if fr.dirty {
			if err := p.flushFrame(fr); err != nil {
				return err
			}
		}
	}
	return p.file.Sync()
}

// Close flushes and closes the pager.
func (p *Pager) Close() error {
	if err := p.Sync(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.file.Close()
}
