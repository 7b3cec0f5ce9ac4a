package tree

import (
	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/compress"
	"github.com/zedstore/zedstore/internal/item"
	"github.com/zedstore/zedstore/internal/page"
)

// InsertItem inserts a fresh raw item at tid into the tree, splitting and
// propagating a downlink as needed (spec §4.5.7 insert). tid must not
// already be covered by an existing item.
func (t *Tree) InsertItem(tid common.TID, raw []byte) error {
	return t.rewriteLeaf(tid, func(items [][]byte) ([][]byte, error) {
		return insertSorted(items, tid, raw), nil
	})
}

// ReplaceItem replaces (or, if replacement is nil, elides) the item version
// covering oldTID with replacement, splitting an Array run around oldTID as
// needed (spec §4.5.4). Used by delete/update/lock/mark-dead, all of which
// are expressed as "install a new version of the item at this TID".
func (t *Tree) ReplaceItem(oldTID common.TID, replacement []byte) error {
	oldestLive, err := t.dir.OldestLive()
	if err != nil {
		return err
	}
	return t.rewriteLeaf(oldTID, func(items [][]byte) ([][]byte, error) {
		return t.buildLogicalItems(items, oldTID, replacement, oldestLive)
	})
}

// FindItem locates the item covering tid and returns its decoded view. The
// returned Item's Payload/raw fields are borrowed from a private copy, safe
// to hold after this call returns (the page lock is released before
// FindItem returns). Only meaningful for NoPack trees, where every item
// covers exactly one TID; returns common.ErrMissingOldItem if no item
// starts at tid.
func (t *Tree) FindItem(tid common.TID) (*item.Item, error) {
	h, err := t.descend(0, tid, page.LockShared)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, common.ErrMissingOldItem
	}
	p := h.Page()
	for i := 0; i < p.NumItems(); i++ {
		raw := append([]byte(nil), p.ItemAt(i)...)
		it, err := item.Decode(raw)
		if err != nil {
			h.Unlock()
			t.pager.Unpin(h)
			return nil, err
		}
		if it.TID == tid {
			h.Unlock()
			t.pager.Unpin(h)
			return it, nil
		}
	}
	h.Unlock()
	t.pager.Unpin(h)
	return nil, common.ErrMissingOldItem
}

// PointLookup fetches the element at tid from a (possibly packed) data
// attribute tree, decompressing a container item if tid falls inside one.
// Used by the table layer to join a visible meta-attribute TID back to its
// per-attribute datum (spec §6).
func (t *Tree) PointLookup(tid common.TID) (item.Element, bool, error) {
	h, err := t.descend(0, tid, page.LockShared)
	if err != nil {
		return item.Element{}, false, err
	}
	if h == nil {
		return item.Element{}, false, nil
	}
	p := h.Page()
	for i := 0; i < p.NumItems(); i++ {
		raw := p.ItemAt(i)
		it, err := item.Decode(raw)
		if err != nil {
			h.Unlock()
			t.pager.Unpin(h)
			return item.Element{}, false, err
		}
		if tid < it.TID || tid > it.LastTID {
			continue
		}
		if it.Kind == item.KindCompressed {
			blob := append([]byte(nil), it.Payload...)
			uncompSize := int(it.UncompressedSize)
			firstTID, lastTID := it.TID, it.LastTID
			h.Unlock()
			t.pager.Unpin(h)
			dec, err := compress.Decompress(blob, uncompSize)
			if err != nil {
				return item.Element{}, false, err
			}
			els, err := decodeConcatenated(t.AttrDesc, dec, firstTID, lastTID)
			if err != nil {
				return item.Element{}, false, err
			}
			for _, el := range els {
				if el.TID == tid {
					return el, true, nil
				}
			}
			return item.Element{}, false, nil
		}
		els, err := item.Elements(t.AttrDesc, it)
		h.Unlock()
		t.pager.Unpin(h)
		if err != nil {
			return item.Element{}, false, err
		}
		for _, el := range els {
			if el.TID == tid {
				return el, true, nil
			}
		}
		return item.Element{}, false, nil
	}
	h.Unlock()
	t.pager.Unpin(h)
	return item.Element{}, false, nil
}

// insertSorted inserts raw in TID order among items (whose first TIDs are
// ascending and non-overlapping).
func insertSorted(items [][]byte, tid common.TID, raw []byte) [][]byte {
	out := make([][]byte, 0, len(items)+1)
	inserted := false
	for _, it := range items {
		if !inserted {
			dit, err := item.Decode(it)
			if err == nil && tid < dit.TID {
				out = append(out, raw)
				inserted = true
			}
		}
		out = append(out, it)
	}
	if !inserted {
		out = append(out, raw)
	}
	return out
}

// GetLastTID returns the highest TID stored in the tree, or InvalidTID for
// an empty tree (spec §6 get_last_tid).
func (t *Tree) GetLastTID() (common.TID, error) {
	root, err := t.root(false)
	if err != nil {
		return common.InvalidTID, err
	}
	if root == page.InvalidBlock {
		return common.InvalidTID, nil
	}

	blk := root
	for {
		h, err := t.pager.Pin(blk)
		if err != nil {
			return common.InvalidTID, err
		}
		h.Lock(page.LockShared)
		p := h.Page()
		tp := p.Tree()
		n := p.NumItems()

		if tp.Level() > 0 {
			if n == 0 {
				h.Unlock()
				t.pager.Unpin(h)
				return common.InvalidTID, common.NewCorruption(uint64(blk), "empty internal page")
			}
			_, child := entryAt(p, n-1)
			h.Unlock()
			t.pager.Unpin(h)
			blk = child
			continue
		}

		if n == 0 {
			next := tp.Next()
			h.Unlock()
			t.pager.Unpin(h)
			if next == page.InvalidBlock {
				return common.InvalidTID, nil
			}
			blk = next
			continue
		}

		it, err := item.Decode(p.ItemAt(n - 1))
		last := it.LastTID
		next := tp.Next()
		h.Unlock()
		t.pager.Unpin(h)
		if err != nil {
			return common.InvalidTID, err
		}
		if next != page.InvalidBlock {
			blk = next
			continue
		}
		return last, nil
	}
}
