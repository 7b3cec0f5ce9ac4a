// Package zedstore implements the public table API (spec §6): multi_insert,
// delete, update, lock_item, mark_item_dead, undo_item_deletion,
// get_last_tid, and scan_begin/scan_next/scan_end, layered over the
// meta-attribute and per-data-attribute B+-trees in internal/tree, MVCC
// visibility in internal/visibility, and the UNDO log in internal/undo.
package zedstore

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/item"
	"github.com/zedstore/zedstore/internal/meta"
	"github.com/zedstore/zedstore/internal/page"
	"github.com/zedstore/zedstore/internal/tree"
	"github.com/zedstore/zedstore/internal/undo"
	"github.com/zedstore/zedstore/internal/visibility"
)

// metaAttrDesc describes the meta-attribute's (empty) payload: visibility
// state lives entirely in the item's flags and UNDO pointer, not its datum.
var metaAttrDesc = item.AttrDesc{Len: 0, ByVal: true}

// Row is one row's per-attribute datums, in attribute-number order
// (1-based; Datums[0] is attribute 1).
type Row struct {
	Datums [][]byte
	IsNull []bool
}

// Table is one ZedStore table: a meta-attribute tree carrying visibility
// plus one B+-tree per data attribute, sharing a page buffer and UNDO log
// (spec §3).
type Table struct {
	pager    *page.Pager
	dir      *meta.Directory
	undoLog  *undo.Log
	metaTree *tree.Tree
	attrs    []*tree.Tree // 0-based; attrs[i] is attribute number i+1
	log      zerolog.Logger

	// mu serializes structural mutations (insert/delete/update/lock/mark
	// dead/undo) across every attribute's tree. The tree layer itself
	// lock-couples at the page level (spec §4.5.1); this table-level latch
	// additionally keeps a row's per-attribute writes atomic with each
	// other, since spec §5 does not require cross-attribute operations to
	// interleave with each other.
	mu sync.Mutex
}

// Config describes a table's on-disk layout and attribute shapes.
type Config struct {
	DataPath  string
	UndoPath  string
	CacheSize int
	Attrs     []item.AttrDesc
	Log       zerolog.Logger
	PageMetrics *page.Metrics
	UndoMetrics *undo.Metrics
}

// Open opens (creating if necessary) the table described by cfg.
func Open(cfg Config) (*Table, error) {
	if len(cfg.Attrs) == 0 {
		return nil, common.ErrNoAttributes
	}
	pager, err := page.Open(cfg.DataPath, cfg.CacheSize, cfg.Log, cfg.PageMetrics)
	if err != nil {
		return nil, fmt.Errorf("zedstore: open data file: %w", err)
	}

	var dir *meta.Directory
	if pager.NumPages() == 0 {
		dir, err = meta.Init(pager, len(cfg.Attrs))
	} else {
		dir = meta.Open(pager)
	}
	if err != nil {
		pager.Close()
		return nil, err
	}

	undoLog, err := undo.Open(cfg.UndoPath, cfg.Log, cfg.UndoMetrics)
	if err != nil {
		pager.Close()
		return nil, err
	}

	t := &Table{
		pager:   pager,
		dir:     dir,
		undoLog: undoLog,
		log:     cfg.Log,
	}
	t.metaTree = tree.New(common.MetaAttrNum, metaAttrDesc, pager, dir, undoLog, cfg.Log)
	t.attrs = make([]*tree.Tree, len(cfg.Attrs))
	for i, desc := range cfg.Attrs {
		t.attrs[i] = tree.New(common.AttrNum(i+1), desc, pager, dir, undoLog, cfg.Log)
	}
	return t, nil
}

// Close flushes and releases the table's underlying pager and UNDO log.
func (t *Table) Close() error {
	if err := t.undoLog.Close(); err != nil {
		return err
	}
	return t.pager.Close()
}

func (t *Table) fetcher() visibility.Fetcher { return tableFetcher{t.undoLog} }

type tableFetcher struct{ log *undo.Log }

func (f tableFetcher) Fetch(p common.UndoPtr) (*undo.Record, error) { return f.log.Fetch(p) }

// encodeMetaItem builds a meta-attribute item pointing at ptr with the
// given deleted/updated status bits (spec §4.5.7). Meta items carry no
// datum of their own, only the UNDO pointer and status flags.
func encodeMetaItem(tid common.TID, ptr common.UndoPtr, deleted, updated bool) []byte {
	raw := item.EncodeSingle(metaAttrDesc, tid, common.InvalidUndoPtr, nil, true)
	// raw was just encoded above as a Single item with a private backing
	// array, so SetUndoAndStatus can only fail on a KindCompressed item or a
	// buffer too short to hold the common header — neither is possible here.
	_ = item.SetUndoAndStatus(raw, ptr, deleted, updated)
	return raw
}

// GetLastTID returns the highest TID assigned so far, or common.InvalidTID
// for an empty table (spec §6).
func (t *Table) GetLastTID() (common.TID, error) {
	return t.metaTree.GetLastTID()
}

// MultiInsert assigns fresh, consecutive TIDs to rows, inserts a fresh UNDO
// insert record plus a meta item per row (meta items each carry their own
// UNDO pointer, so they are never batched), and inserts each attribute's
// datums as a run of Single/Array items batched across the whole call
// (spec §4.2: "a single item if n = 1, else an array item"; §8 scenario 2
// depends on multi_insert producing array items that a later delete can
// split).
func (t *Table) MultiInsert(xid common.Xid, cid common.Cid, rows []Row) ([]common.TID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, err := t.metaTree.GetLastTID()
	if err != nil {
		return nil, err
	}
	next := last + 1
	if last == common.InvalidTID {
		next = common.MinTID
	}
	firstTID := next

	tids := make([]common.TID, len(rows))
	for i, row := range rows {
		if len(row.Datums) != len(t.attrs) || len(row.IsNull) != len(t.attrs) {
			return nil, fmt.Errorf("zedstore: row %d has %d datums, table has %d attributes", i, len(row.Datums), len(t.attrs))
		}
		tid := next
		next++

		ptr, err := t.undoLog.Insert(undo.Record{Type: undo.RecInsert, Xid: xid, Cid: cid, TID: tid})
		if err != nil {
			return nil, err
		}
		metaItem := item.EncodeSingle(metaAttrDesc, tid, ptr, nil, true)
		if err := t.metaTree.InsertItem(tid, metaItem); err != nil {
			return nil, err
		}
		tids[i] = tid
	}

	for a, attrTree := range t.attrs {
		datums := make([][]byte, len(rows))
		isNull := make([]bool, len(rows))
		for i, row := range rows {
			datums[i] = row.Datums[a]
			isNull[i] = row.IsNull[a]
		}
		chunks, err := item.EncodeRun(attrTree.AttrDesc, firstTID, common.InvalidUndoPtr, datums, isNull)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if err := attrTree.InsertItem(c.TID, c.Raw); err != nil {
				return nil, err
			}
		}
	}
	return tids, nil
}

// chainEntryAt reads tid's current meta-attribute item as a
// visibility.ChainEntry.
func (t *Table) chainEntryAt(tid common.TID) (visibility.ChainEntry, error) {
	it, err := t.metaTree.FindItem(tid)
	if err != nil {
		return visibility.ChainEntry{}, err
	}
	return visibility.ChainEntry{
		TID:     tid,
		Undo:    it.Undo,
		Dead:    it.IsDead(),
		Deleted: it.IsDeleted(),
		Updated: it.IsUpdated(),
	}, nil
}

// Delete marks tid deleted by xid/cid, subject to snapshot-based MVCC
// conflict checking (spec §6, §4.6).
func (t *Table) Delete(xid common.Xid, cid common.Cid, tid common.TID, snapshot common.Snapshot) (common.UpdateResult, *common.Conflict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldestLive, err := t.dir.OldestLive()
	if err != nil {
		return 0, nil, err
	}
	entry, err := t.chainEntryAt(tid)
	if err != nil {
		return 0, nil, err
	}
	res, conflict, err := visibility.SatisfiesUpdate(t.fetcher(), oldestLive, snapshot, entry, common.LockExclusive)
	if err != nil {
		return 0, nil, err
	}
	if res != common.UpdateOk {
		return res, conflict, nil
	}

	ptr, err := t.undoLog.Insert(undo.Record{Type: undo.RecDelete, Xid: xid, Cid: cid, TID: tid, Prev: entry.Undo})
	if err != nil {
		return 0, nil, err
	}
	replacement := encodeMetaItem(tid, ptr, true, entry.Updated)
	if err := t.metaTree.ReplaceItem(tid, replacement); err != nil {
		return 0, nil, err
	}
	return common.UpdateOk, nil, nil
}

// Update replaces oldTID's row with newRow at a freshly assigned TID,
// marking oldTID updated (spec §6, §4.6). Returns the new row's TID.
func (t *Table) Update(xid common.Xid, cid common.Cid, oldTID common.TID, newRow Row, snapshot common.Snapshot) (common.TID, common.UpdateResult, *common.Conflict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldestLive, err := t.dir.OldestLive()
	if err != nil {
		return common.InvalidTID, 0, nil, err
	}
	entry, err := t.chainEntryAt(oldTID)
	if err != nil {
		return common.InvalidTID, 0, nil, err
	}
	res, conflict, err := visibility.SatisfiesUpdate(t.fetcher(), oldestLive, snapshot, entry, common.LockExclusive)
	if err != nil {
		return common.InvalidTID, 0, nil, err
	}
	if res != common.UpdateOk {
		return common.InvalidTID, res, conflict, nil
	}

	last, err := t.metaTree.GetLastTID()
	if err != nil {
		return common.InvalidTID, 0, nil, err
	}
	newTID := last + 1

	updatePtr, err := t.undoLog.Insert(undo.Record{Type: undo.RecUpdate, Xid: xid, Cid: cid, TID: oldTID, NewTID: newTID, Prev: entry.Undo})
	if err != nil {
		return common.InvalidTID, 0, nil, err
	}
	insertPtr, err := t.undoLog.Insert(undo.Record{Type: undo.RecInsert, Xid: xid, Cid: cid, TID: newTID})
	if err != nil {
		return common.InvalidTID, 0, nil, err
	}

	oldReplacement := encodeMetaItem(oldTID, updatePtr, entry.Deleted, true)
	if err := t.metaTree.ReplaceItem(oldTID, oldReplacement); err != nil {
		return common.InvalidTID, 0, nil, err
	}
	newMetaItem := item.EncodeSingle(metaAttrDesc, newTID, insertPtr, nil, true)
	if err := t.metaTree.InsertItem(newTID, newMetaItem); err != nil {
		return common.InvalidTID, 0, nil, err
	}

	for a, attrTree := range t.attrs {
		raw := item.EncodeSingle(attrTree.AttrDesc, newTID, common.InvalidUndoPtr, newRow.Datums[a], newRow.IsNull[a])
		if err := attrTree.InsertItem(newTID, raw); err != nil {
			return common.InvalidTID, 0, nil, err
		}
	}
	return newTID, common.UpdateOk, nil, nil
}

// LockItem records a tuple lock of the given mode against tid, appending a
// lock UNDO record that transparent visibility lookups skip over (spec
// §4.5.7, §4.6).
func (t *Table) LockItem(xid common.Xid, cid common.Cid, tid common.TID, mode common.LockMode, snapshot common.Snapshot) (common.UpdateResult, *common.Conflict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldestLive, err := t.dir.OldestLive()
	if err != nil {
		return 0, nil, err
	}
	entry, err := t.chainEntryAt(tid)
	if err != nil {
		return 0, nil, err
	}
	res, conflict, err := visibility.SatisfiesUpdate(t.fetcher(), oldestLive, snapshot, entry, mode)
	if err != nil {
		return 0, nil, err
	}
	if res != common.UpdateOk {
		return res, conflict, nil
	}

	ptr, err := t.undoLog.Insert(undo.Record{Type: undo.RecLock, Xid: xid, Cid: cid, TID: tid, Prev: entry.Undo, LockMode: mode})
	if err != nil {
		return 0, nil, err
	}
	replacement := encodeMetaItem(tid, ptr, entry.Deleted, entry.Updated)
	if err := t.metaTree.ReplaceItem(tid, replacement); err != nil {
		return 0, nil, err
	}
	return common.UpdateOk, nil, nil
}

// MarkItemDead replaces tid's meta item with a size-zero tombstone once the
// vacuuming caller has established its version is no longer visible to any
// live snapshot (spec §4.5.7).
func (t *Table) MarkItemDead(tid common.TID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tombstone := item.EncodeDeadTombstone(tid)
	return t.metaTree.ReplaceItem(tid, tombstone)
}

// UndoItemDeletion reverses a not-yet-committed delete: the meta item's
// UNDO pointer is rewound past the delete record to whatever it pointed at
// before (spec §6, used by an aborting transaction's rollback path).
func (t *Table) UndoItemDeletion(tid common.TID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, err := t.chainEntryAt(tid)
	if err != nil {
		return err
	}
	if !entry.Deleted {
		return nil
	}
	rec, err := t.undoLog.Fetch(entry.Undo)
	if err != nil {
		return err
	}
	if rec == nil {
		return common.NewCorruption(uint64(tid), "undo_item_deletion: delete record below oldest_live")
	}
	replacement := encodeMetaItem(tid, rec.Prev, false, entry.Updated)
	return t.metaTree.ReplaceItem(tid, replacement)
}

// Stats summarizes the table's current size, for the benchmark harness and
// any caller that wants a cheap progress signal without walking the tree.
func (t *Table) Stats() common.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	numPages := int64(t.pager.NumPages())
	return common.Stats{
		NumPages:     numPages,
		BytesWritten: numPages * int64(page.Size),
	}
}

// Sync flushes the page file and the UNDO log to stable storage.
func (t *Table) Sync() error {
	if err := t.undoLog.Sync(); err != nil {
		return err
	}
	return t.pager.Sync()
}
