package tree

import (
	"sort"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/page"
)

// downlinkEntry is one internal-page entry awaiting insertion into a parent
// page (spec §4.5.6).
type downlinkEntry struct {
	tid   common.TID
	child page.Block
}

// rewriteLeaf locks the leaf containing key exclusively, lets mutate
// transform its logical item list, repacks the result (possibly producing
// more than one page image), and writes the image(s) back, splitting and
// propagating a downlink up the tree as needed (spec §4.5.4-4.5.6).
func (t *Tree) rewriteLeaf(key common.TID, mutate func(items [][]byte) ([][]byte, error)) error {
	h, err := t.descend(0, key, page.LockExclusive)
	if err != nil {
		return err
	}
	if h == nil {
		return common.ErrMissingOldItem
	}
	blk := h.Block()
	p := h.Page()
	tp := p.Tree()
	attno := tp.Attno()
	level := tp.Level()
	lokey := tp.Lokey()
	hikey := tp.Hikey()
	next := tp.Next()
	followRight := tp.FollowRight()
	wasRoot := tp.IsRoot()

	items := make([][]byte, 0, p.NumItems())
	for i := 0; i < p.NumItems(); i++ {
		items = append(items, append([]byte(nil), p.ItemAt(i)...))
	}

	newItems, err := mutate(items)
	if err != nil {
		h.Unlock()
		t.pager.Unpin(h)
		return err
	}

	images, err := repack(attno, level, newItems, t.NoPack)
	if err != nil {
		h.Unlock()
		t.pager.Unpin(h)
		return err
	}

	if len(images) == 1 {
		img := images[0]
		op := img.Tree()
		op.SetLokey(lokey)
		op.SetHikey(hikey)
		op.SetNext(next)
		op.SetFollowRight(followRight)
		op.SetRoot(wasRoot)
		copy(p.Bytes(), img.Bytes())
		h.MarkDirty()
		h.Unlock()
		t.pager.Unpin(h)
		return nil
	}

	blocks := make([]page.Block, len(images))
	blocks[0] = blk
	handles := make([]*page.Handle, len(images))
	handles[0] = h
	for i := 1; i < len(images); i++ {
		nh, nblk, err := t.pager.NewPage()
		if err != nil {
			h.Unlock()
			t.pager.Unpin(h)
			for j := 1; j < i; j++ {
				handles[j].Unlock()
				t.pager.Unpin(handles[j])
			}
			return err
		}
		blocks[i] = nblk
		handles[i] = nh
	}

	for i, img := range images {
		op := img.Tree()
		if i == 0 {
			op.SetLokey(lokey)
		}
		if i == len(images)-1 {
			op.SetHikey(hikey)
			op.SetNext(next)
			op.SetFollowRight(followRight)
		} else {
			op.SetNext(blocks[i+1])
			op.SetFollowRight(true)
		}
		op.SetRoot(i == 0 && wasRoot)
		copy(handles[i].Page().Bytes(), img.Bytes())
		handles[i].MarkDirty()
	}
	for _, hh := range handles {
		hh.Unlock()
		t.pager.Unpin(hh)
	}

	downlinks := make([]downlinkEntry, len(images)-1)
	for i := 1; i < len(images); i++ {
		downlinks[i-1] = downlinkEntry{tid: common.TID(images[i].Tree().Lokey()), child: blocks[i]}
	}
	if wasRoot {
		return t.growRoot(attno, level, blk, downlinks)
	}
	return t.insertDownlinks(attno, level, lokey, blk, downlinks)
}

// insertDownlinks inserts entries into the parent of the level-level page
// whose range covers key, splitting the parent (and recursing, or growing
// the root) if it doesn't fit (spec §4.5.6). Internal pages are never
// compressed. childBlk is the block whose just-split leftmost half is
// expected to still be reachable at (tid = key, child = childBlk) in the
// parent; re-finding and verifying that entry before merging in new
// downlinks guards against a stale or corrupted parent page (spec §4.5.6).
func (t *Tree) insertDownlinks(attno int16, level uint16, key common.TID, childBlk page.Block, entries []downlinkEntry) error {
	h, err := t.descend(int(level)+1, key, page.LockExclusive)
	if err != nil {
		return err
	}
	if h == nil {
		// The tree isn't tall enough yet for a parent to exist; this only
		// happens when the split child was itself the root, which is
		// handled by growRoot before reaching here.
		return common.NewCorruption(0, "insertDownlinks: missing parent for non-root split")
	}

	p := h.Page()
	tp := p.Tree()
	lokey := tp.Lokey()
	hikey := tp.Hikey()
	next := tp.Next()
	followRight := tp.FollowRight()
	wasRoot := tp.IsRoot()
	blk := h.Block()

	existing := make([]downlinkEntry, 0, p.NumItems())
	for i := 0; i < p.NumItems(); i++ {
		tid, child := entryAt(p, i)
		existing = append(existing, downlinkEntry{tid, child})
	}

	found := false
	for _, e := range existing {
		if e.tid != key {
			continue
		}
		if e.child != childBlk {
			h.Unlock()
			t.pager.Unpin(h)
			return common.NewCorruption(uint64(blk), "insertDownlinks: parent entry for split child points at an unexpected block")
		}
		found = true
		break
	}
	if !found {
		h.Unlock()
		t.pager.Unpin(h)
		return common.NewCorruption(uint64(blk), "insertDownlinks: parent has no entry for the split child's lokey")
	}

	all := make([]downlinkEntry, 0, len(existing)+len(entries))
	all = append(all, existing...)
	all = append(all, entries...)
	sort.Slice(all, func(i, j int) bool { return all[i].tid < all[j].tid })

	img := page.NewTree(attno, level+1)
	fits := true
	for _, e := range all {
		if !img.Append(encodeDownlink(e.tid, e.child)) {
			fits = false
			break
		}
	}
	if fits {
		op := img.Tree()
		op.SetLokey(lokey)
		op.SetHikey(hikey)
		op.SetNext(next)
		op.SetFollowRight(followRight)
		op.SetRoot(wasRoot)
		copy(p.Bytes(), img.Bytes())
		h.MarkDirty()
		h.Unlock()
		t.pager.Unpin(h)
		return nil
	}

	mid := len(all) / 2
	leftEntries, rightEntries := all[:mid], all[mid:]

	leftImg := page.NewTree(attno, level+1)
	for _, e := range leftEntries {
		leftImg.Append(encodeDownlink(e.tid, e.child))
	}
	rightImg := page.NewTree(attno, level+1)
	for _, e := range rightEntries {
		rightImg.Append(encodeDownlink(e.tid, e.child))
	}

	rh, rblk, err := t.pager.NewPage()
	if err != nil {
		h.Unlock()
		t.pager.Unpin(h)
		return err
	}

	leftImg.Tree().SetLokey(lokey)
	leftImg.Tree().SetHikey(uint64(rightEntries[0].tid))
	leftImg.Tree().SetNext(rblk)
	leftImg.Tree().SetFollowRight(true)

	rightImg.Tree().SetLokey(uint64(rightEntries[0].tid))
	rightImg.Tree().SetHikey(hikey)
	rightImg.Tree().SetNext(next)
	rightImg.Tree().SetFollowRight(followRight)

	copy(p.Bytes(), leftImg.Bytes())
	h.MarkDirty()
	copy(rh.Page().Bytes(), rightImg.Bytes())
	rh.MarkDirty()
	h.Unlock()
	t.pager.Unpin(h)
	rh.Unlock()
	t.pager.Unpin(rh)

	newDownlink := downlinkEntry{tid: rightEntries[0].tid, child: rblk}
	if wasRoot {
		return t.growRoot(attno, level+1, blk, []downlinkEntry{newDownlink})
	}
	return t.insertDownlinks(attno, level+1, lokey, blk, []downlinkEntry{newDownlink})
}

// growRoot demotes the old root (now just the leftmost child) and installs
// a fresh one-level-taller root page pointing at it and its new right
// siblings (spec §4.5.6).
func (t *Tree) growRoot(attno int16, childLevel uint16, leftBlk page.Block, rightEntries []downlinkEntry) error {
	lh, err := t.pager.Pin(leftBlk)
	if err != nil {
		return err
	}
	lh.Lock(page.LockExclusive)
	lokey := lh.Page().Tree().Lokey()
	lh.Page().Tree().SetRoot(false)
	lh.MarkDirty()
	lh.Unlock()
	t.pager.Unpin(lh)

	nh, nblk, err := t.pager.NewPage()
	if err != nil {
		return err
	}
	img := page.NewTree(attno, childLevel+1)
	img.Tree().SetRoot(true)
	img.Append(encodeDownlink(lokey, leftBlk))
	for _, e := range rightEntries {
		img.Append(encodeDownlink(e.tid, e.child))
	}
	copy(nh.Page().Bytes(), img.Bytes())
	nh.MarkDirty()
	nh.Unlock()
	t.pager.Unpin(nh)

	return t.dir.UpdateRoot(t.Attr, nblk)
}
