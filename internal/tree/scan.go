package tree

import (
	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/compress"
	"github.com/zedstore/zedstore/internal/item"
	"github.com/zedstore/zedstore/internal/page"
	"github.com/zedstore/zedstore/internal/undo"
	"github.com/zedstore/zedstore/internal/visibility"
)

// Tuple is one row's (tid, datum, isnull) as yielded by a Scan (spec
// §4.5.3).
type Tuple struct {
	TID    common.TID
	Datum  []byte
	IsNull bool
}

// Scan is the leaf-scan state machine (spec §4.5.3): iterates visible
// tuples over [startTID, endTID) in ascending order, holding a page's
// shared lock only while reading items off it.
type Scan struct {
	tree     *Tree
	snapshot common.Snapshot
	endTID   common.TID
	nextTID  common.TID

	blk     page.Block
	exhausted bool

	// Materialized elements waiting to be handed out one at a time,
	// produced by an array item or a decompressed container (spec §4.5.3
	// steps 4-5).
	pending []item.Element
}

// ScanBegin descends to the leaf containing startTID and positions a Scan
// there (spec §4.5.3).
func (t *Tree) ScanBegin(startTID, endTID common.TID, snapshot common.Snapshot) (*Scan, error) {
	h, err := t.descend(0, startTID, page.LockShared)
	if err != nil {
		return nil, err
	}
	s := &Scan{tree: t, snapshot: snapshot, endTID: endTID, nextTID: startTID}
	if h == nil {
		s.exhausted = true
		return s, nil
	}
	s.blk = h.Block()
	h.Unlock()
	t.pager.Unpin(h)
	return s, nil
}

// Next returns the next visible tuple, or ok=false when the scan is done.
func (s *Scan) Next() (Tuple, bool, error) {
	for {
		if len(s.pending) > 0 {
			el := s.pending[0]
			s.pending = s.pending[1:]
			if el.TID < s.nextTID {
				continue
			}
			if el.TID >= s.endTID && s.endTID != common.InvalidTID {
				s.pending = nil
				s.exhausted = true
				continue
			}
			s.nextTID = el.TID + 1
			return Tuple{TID: el.TID, Datum: el.Datum, IsNull: el.IsNull}, true, nil
		}
		if s.exhausted {
			return Tuple{}, false, nil
		}
		if err := s.fillFromPage(); err != nil {
			return Tuple{}, false, err
		}
	}
}

// fillFromPage scans forward on the current page, materializing the next
// batch of candidate elements into s.pending, or advances to the right
// sibling / marks the scan exhausted.
func (s *Scan) fillFromPage() error {
	if s.nextTID >= s.endTID && s.endTID != common.InvalidTID {
		s.exhausted = true
		return nil
	}

	h, err := s.tree.pager.Pin(s.blk)
	if err != nil {
		return err
	}
	h.Lock(page.LockShared)
	p := h.Page()

	n := p.NumItems()
	for i := 0; i < n; i++ {
		raw := p.ItemAt(i)
		it, err := item.Decode(raw)
		if err != nil {
			s.tree.pager.Unpin(h)
			return err
		}
		if it.LastTID < s.nextTID {
			continue
		}
		if it.TID >= s.endTID && s.endTID != common.InvalidTID {
			break
		}

		switch it.Kind {
		case item.KindCompressed:
			blob := append([]byte(nil), it.Payload...)
			firstTID, lastTID := it.TID, it.LastTID
			uncompSize := int(it.UncompressedSize)
			h.Unlock()
			s.tree.pager.Unpin(h)

			raw, err := compress.Decompress(blob, uncompSize)
			if err != nil {
				return err
			}
			els, err := decodeConcatenated(s.tree.AttrDesc, raw, firstTID, lastTID)
			if err != nil {
				return err
			}
			s.pending = append(s.pending, els...)
			return nil

		case item.KindArray:
			els, err := item.Elements(s.tree.AttrDesc, it)
			if err != nil {
				h.Unlock()
				s.tree.pager.Unpin(h)
				return err
			}
			var keep []item.Element
			for _, el := range els {
				if el.TID >= s.nextTID {
					keep = append(keep, el)
				}
			}
			s.pending = append(s.pending, keep...)
			h.Unlock()
			s.tree.pager.Unpin(h)
			return nil

		default: // Single
			if it.IsDead() {
				continue
			}
			entry := visibility.ChainEntry{TID: it.TID, Undo: it.Undo, Deleted: it.IsDeleted(), Updated: it.IsUpdated()}
			oldest, err := s.tree.dir.OldestLive()
			if err != nil {
				h.Unlock()
				s.tree.pager.Unpin(h)
				return err
			}
			visible, err := visibility.SatisfiesVisibility(undoFetcher{s.tree.undo}, oldest, s.snapshot, entry)
			if err != nil {
				h.Unlock()
				s.tree.pager.Unpin(h)
				return err
			}
			if visible {
				s.pending = append(s.pending, item.Element{TID: it.TID, Datum: it.Payload, IsNull: it.IsNull()})
			}
		}
	}

	tp := p.Tree()
	next := tp.Next()
	h.Unlock()
	s.tree.pager.Unpin(h)

	if next == page.InvalidBlock || next == s.blk {
		if next == s.blk {
			return common.NewCorruption(uint64(s.blk), "right-link points at itself")
		}
		s.exhausted = true
		return nil
	}
	if s.nextTID >= s.endTID && s.endTID != common.InvalidTID {
		s.exhausted = true
		return nil
	}
	s.blk = next
	return nil
}

// decodeConcatenated walks a decompressed container's raw payload,
// yielding one Element per packed item (spec §4.5.3 step 4; iterator must
// be restartable, satisfied here by operating on caller-owned memory).
func decodeConcatenated(attr item.AttrDesc, raw []byte, firstTID, lastTID common.TID) ([]item.Element, error) {
	var out []item.Element
	off := 0
	for off < len(raw) {
		it, err := item.Decode(raw[off:])
		if err != nil {
			return nil, err
		}
		els, err := item.Elements(attr, it)
		if err != nil {
			return nil, err
		}
		out = append(out, els...)
		off += int(it.Size)
	}
	return out, nil
}

// End releases any scan-held resources. Scan never holds a page lock
// between Next calls, so this is a no-op kept for callers that manage
// scans via defer.
func (s *Scan) End() {}

// undoFetcher adapts *undo.Log to visibility.Fetcher.
type undoFetcher struct {
	log *undo.Log
}

func (f undoFetcher) Fetch(p common.UndoPtr) (*undo.Record, error) { return f.log.Fetch(p) }
