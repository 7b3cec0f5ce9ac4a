// Package meta implements the metapage / root directory (spec §4.7): block
// 0 holds one root-block entry per attribute plus the UNDO bookkeeping
// fields carried in the metapage's opaque tail. Adapted from the teacher's
// btree/pager.go Metadata (a single RootPageID field) generalized to an
// array of per-attribute roots.
package meta

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/page"
)

const entrySize = 4 // one root Block per attribute, stored as a directory item

// Directory manages block 0: the per-attribute root directory and the
// UNDO log bookkeeping fields (head/tail/counter/oldest_live).
type Directory struct {
	pager *page.Pager
	mu    sync.Mutex
}

// Open wraps an already-open pager whose block 0 is expected to be a
// formatted metapage.
func Open(p *page.Pager) *Directory {
	return &Directory{pager: p}
}

// Init formats block 0 for a table with nAttrs data attributes (plus the
// implicit meta-attribute at index 0), per spec §4.7.
func Init(p *page.Pager, nAttrs int) (*Directory, error) {
	if nAttrs < 0 {
		return nil, common.ErrNoAttributes
	}
	mp := page.NewMeta()
	op := mp.Meta()
	op.SetUndoHead(1)
	op.SetUndoTail(1)
	op.SetUndoCounter(1)
	op.SetOldestLive(1)

	// Directory entry 0 is the meta-attribute's root; entries 1..nAttrs are
	// data attributes.
	for i := 0; i <= nAttrs; i++ {
		buf := make([]byte, entrySize)
		binary.BigEndian.PutUint32(buf, uint32(page.InvalidBlock))
		if !mp.Append(buf) {
			return nil, common.ErrRootDirFull
		}
	}

	h, blk, err := p.NewPage()
	if err != nil {
		return nil, err
	}
	if blk != 0 {
		return nil, common.NewCorruption(uint64(blk), "metapage must be block 0")
	}
	copy(h.Page().Bytes(), mp.Bytes())
	h.MarkDirty()
	p.Unpin(h)

	return &Directory{pager: p}, nil
}

func attrIndex(attr common.AttrNum) int { return int(attr) }

// GetRoot returns the stored root block for attr. If forUpdate and the
// attribute has no root yet, it allocates a fresh leaf page, records it,
// and returns it (spec §4.7).
func (d *Directory) GetRoot(attr common.AttrNum, forUpdate bool) (page.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, err := d.pager.Pin(0)
	if err != nil {
		return page.InvalidBlock, err
	}
	h.Lock(page.LockShared)
	blk, err := d.readEntry(h.Page(), attr)
	d.pager.Unpin(h)
	if err != nil {
		return page.InvalidBlock, err
	}
	if blk != page.InvalidBlock || !forUpdate {
		return blk, nil
	}

	leafHandle, leafBlk, err := d.pager.NewPage()
	if err != nil {
		return page.InvalidBlock, err
	}
	leaf := page.NewTree(int16(attr), 0)
	leaf.Tree().SetRoot(true)
	copy(leafHandle.Page().Bytes(), leaf.Bytes())
	leafHandle.MarkDirty()
	d.pager.Unpin(leafHandle)

	if err := d.updateRootLocked(attr, leafBlk); err != nil {
		return page.InvalidBlock, err
	}
	return leafBlk, nil
}

// UpdateRoot overwrites attr's root directory entry (spec §4.7).
func (d *Directory) UpdateRoot(attr common.AttrNum, blk page.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateRootLocked(attr, blk)
}

func (d *Directory) updateRootLocked(attr common.AttrNum, blk page.Block) error {
	h, err := d.pager.Pin(0)
	if err != nil {
		return err
	}
	defer d.pager.Unpin(h)
	h.Lock(page.LockExclusive)
	defer h.Unlock()
	if err := d.writeEntry(h.Page(), attr, blk); err != nil {
		return err
	}
	h.MarkDirty()
	return nil
}

func (d *Directory) readEntry(p *page.Page, attr common.AttrNum) (page.Block, error) {
	i := attrIndex(attr)
	if i < 0 || i >= p.NumItems() {
		return page.InvalidBlock, common.NewCorruption(0, fmt.Sprintf("attribute %d has no directory entry", attr))
	}
	item := p.ItemAt(i)
	if len(item) != entrySize {
		return page.InvalidBlock, common.NewCorruption(0, "malformed root directory entry")
	}
	return page.Block(binary.BigEndian.Uint32(item)), nil
}

func (d *Directory) writeEntry(p *page.Page, attr common.AttrNum, blk page.Block) error {
	i := attrIndex(attr)
	if i < 0 || i >= p.NumItems() {
		return common.NewCorruption(0, fmt.Sprintf("attribute %d has no directory entry", attr))
	}
	item := p.ItemAt(i)
	if len(item) != entrySize {
		return common.NewCorruption(0, "malformed root directory entry")
	}
	binary.BigEndian.PutUint32(item, uint32(blk))
	return nil
}

// AddAttributes extends the directory by n fresh (invalid-root) entries,
// returning the first newly-added attribute number. Items can only be
// appended, never inserted mid-directory, so this grows the metapage's
// existing item area in place (spec §4.7).
func (d *Directory) AddAttributes(n int) (common.AttrNum, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, err := d.pager.Pin(0)
	if err != nil {
		return 0, err
	}
	defer d.pager.Unpin(h)
	h.Lock(page.LockExclusive)
	defer h.Unlock()

	p := h.Page()
	first := p.NumItems()
	for i := 0; i < n; i++ {
		buf := make([]byte, entrySize)
		binary.BigEndian.PutUint32(buf, uint32(page.InvalidBlock))
		if !p.Append(buf) {
			return 0, common.ErrRootDirFull
		}
	}
	h.MarkDirty()
	return common.AttrNum(first), nil
}

// OldestLive returns the UNDO horizon recorded in the metapage.
func (d *Directory) OldestLive() (common.UndoPtr, error) {
	h, err := d.pager.Pin(0)
	if err != nil {
		return 0, err
	}
	defer d.pager.Unpin(h)
	h.Lock(page.LockShared)
	defer h.Unlock()
	return common.UndoPtr(h.Page().Meta().OldestLive()), nil
}

// SetOldestLive advances the UNDO horizon recorded in the metapage.
func (d *Directory) SetOldestLive(p common.UndoPtr) error {
	h, err := d.pager.Pin(0)
	if err != nil {
		return err
	}
	defer d.pager.Unpin(h)
	h.Lock(page.LockExclusive)
	defer h.Unlock()
	h.Page().Meta().SetOldestLive(uint64(p))
	h.MarkDirty()
	return nil
}
