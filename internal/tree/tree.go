// Package tree implements the per-attribute B+-tree core (spec §4.5):
// lock-coupled descent with right-link-chase/restart-from-root recovery,
// leaf scan, leaf rewrite, recompress-and-rewrite with split, and downlink
// maintenance. Adapted from the teacher's btree/btree.go (descent and
// findChild) and btree/latch.go (lock coupling), generalized from a single
// key/value B-tree to a TID-keyed tree whose leaves hold packed,
// optionally-compressed attribute items instead of raw cells.
package tree

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/item"
	"github.com/zedstore/zedstore/internal/meta"
	"github.com/zedstore/zedstore/internal/page"
	"github.com/zedstore/zedstore/internal/undo"
)

// CompressBudget is the per-leaf-image compression container size budget
// (spec §4.3), sized conservatively below the page so a freshly-started
// image always has room for the container item's own header.
const CompressBudget = page.Size / 2

// Tree is one attribute's B+-tree.
type Tree struct {
	Attr     common.AttrNum
	AttrDesc item.AttrDesc

	// NoPack disables compression and array-batching for this tree's
	// items, keeping every row individually addressable. Set for the
	// meta-attribute tree, whose items' UNDO pointer and status bits are
	// rewritten in place by delete/update/lock/mark-dead (spec §4.5.7).
	NoPack bool

	pager *page.Pager
	dir   *meta.Directory
	undo  *undo.Log
	log   zerolog.Logger
}

// New builds a handle onto attr's tree. dir and pager are shared by every
// attribute's tree in the same table; undoLog is shared by the whole table
// (only the meta-attribute's items reference it).
func New(attr common.AttrNum, desc item.AttrDesc, pager *page.Pager, dir *meta.Directory, undoLog *undo.Log, log zerolog.Logger) *Tree {
	return &Tree{Attr: attr, AttrDesc: desc, pager: pager, dir: dir, undo: undoLog, log: log, NoPack: attr == common.MetaAttrNum}
}

// root returns the attribute's root block, allocating a fresh leaf if the
// tree is still empty and forUpdate is set (spec §4.7).
func (t *Tree) root(forUpdate bool) (page.Block, error) {
	return t.dir.GetRoot(t.Attr, forUpdate)
}

// descend walks from the root to the requested level using lock-coupling:
// the child is locked before the parent is unlocked. Right-link chase and
// restart-from-root recover from an in-progress split whose downlink has
// not yet reached the parent (spec §4.5.1). The returned handle is locked
// in targetMode once the requested level is reached; the levels above it
// are always read with a shared lock since only the final descent step may
// need to write.
func (t *Tree) descend(level int, key common.TID, targetMode page.LockMode) (*page.Handle, error) {
	root, err := t.root(targetMode == page.LockExclusive)
	if err != nil {
		return nil, err
	}
	if root == page.InvalidBlock {
		return nil, nil // empty tree
	}

	deadEnds := make(map[page.Block]bool)
	blk := root

restart:
	var parent *page.Handle
	for {
		h, err := t.pager.Pin(blk)
		if err != nil {
			if parent != nil {
				parent.Unlock()
				t.pager.Unpin(parent)
			}
			return nil, err
		}

		tp := h.Page().Tree()
		if int(tp.Level()) < level {
			// No page exists yet at the requested level (the tree isn't
			// tall enough); the caller must grow the root instead.
			h.Unlock()
			t.pager.Unpin(h)
			if parent != nil {
				parent.Unlock()
				t.pager.Unpin(parent)
			}
			return nil, nil
		}
		atTarget := int(tp.Level()) == level
		mode := page.LockShared
		if atTarget {
			mode = targetMode
		}
		h.Lock(mode)

		if uint64(key) >= tp.Hikey() {
			if tp.FollowRight() {
				next := tp.Next()
				h.Unlock()
				t.pager.Unpin(h)
				if parent != nil {
					parent.Unlock()
					t.pager.Unpin(parent)
					parent = nil
				}
				blk = next
				continue
			}
			// Not flagged follow-right but still past our hikey: either a
			// stale parent pointer or we raced a split. Restart from root.
			h.Unlock()
			t.pager.Unpin(h)
			if parent != nil {
				parent.Unlock()
				t.pager.Unpin(parent)
				parent = nil
			}
			if deadEnds[blk] {
				return nil, common.NewCorruption(uint64(blk), "descent revisited dead-end block")
			}
			deadEnds[blk] = true
			blk = root
			goto restart
		}

		if atTarget {
			if parent != nil {
				parent.Unlock()
				t.pager.Unpin(parent)
			}
			return h, nil
		}

		// Internal page: binary search for the child, couple down.
		idx := searchInternal(h.Page(), key)
		_, child := entryAt(h.Page(), idx)

		if parent != nil {
			parent.Unlock()
			t.pager.Unpin(parent)
		}
		parent = h
		blk = child
	}
}

// Close releases the tree's resources. The Tree itself holds no pages
// pinned between calls, so this is currently a no-op retained for
// interface symmetry with undo.Log/page.Pager.
func (t *Tree) Close() error { return nil }

func (t *Tree) errf(format string, args ...any) error {
	return fmt.Errorf("zedstore: attribute %d: %w", t.Attr, fmt.Errorf(format, args...))
}
