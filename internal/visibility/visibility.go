// Package visibility implements MVCC visibility over an item's UNDO chain
// (spec §4.6). It dispatches on undo.Record's xid/cid against a snapshot's
// kind, the way the teacher's sibling packages dispatch on request shape,
// generalized here from etcd's mvcc key-version visibility walk
// (thistonyuncle-etcd/mvcc/kvstore.go) to zedstore's UNDO-chain model.
package visibility

import (
	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/undo"
)

// Fetcher resolves an UNDO pointer to its record, or (nil, nil) if the
// pointer is below oldest_live.
type Fetcher interface {
	Fetch(common.UndoPtr) (*undo.Record, error)
}

// ChainEntry is what the item codec exposes about one item's visibility
// bits: its TID (for conflict reporting), UNDO pointer, and status flags.
type ChainEntry struct {
	TID     common.TID
	Undo    common.UndoPtr
	Dead    bool
	Deleted bool
	Updated bool
}

// SatisfiesVisibility reports whether item is visible under snapshot,
// walking its UNDO chain with the oldest_live shortcut (spec §4.6 step 3).
func SatisfiesVisibility(f Fetcher, oldestLive common.UndoPtr, snapshot common.Snapshot, it ChainEntry) (bool, error) {
	if it.Dead {
		return false, nil
	}
	if it.Undo == common.InvalidUndoPtr {
		return true, nil
	}
	if it.Undo < oldestLive {
		return !it.Deleted && !it.Updated, nil
	}

	rec, err := f.Fetch(it.Undo)
	if err != nil {
		return false, err
	}
	if rec == nil {
		// Below oldest_live after all (race with a concurrent vacuum); the
		// conservative reading is the same as the oldest_live shortcut.
		return !it.Deleted && !it.Updated, nil
	}

	if it.Deleted || it.Updated {
		visible, err := dispatch(snapshot, rec)
		if err != nil {
			return false, err
		}
		if visible {
			// The delete/update itself is visible, so the row is gone (or
			// replaced) as of this snapshot.
			return false, nil
		}
		// The delete/update is not visible (in-progress or aborted); walk
		// through any tuple-lock records to the inserting record and test
		// that instead (spec §4.6 final paragraph).
		insertRec, err := versionRecord(f, rec)
		if err != nil {
			return false, err
		}
		if insertRec == nil {
			return true, nil
		}
		return dispatch(snapshot, insertRec)
	}

	// A lock record never affects the version itself (spec §4.6): walk
	// through it to whatever it chains to before testing visibility.
	cur, err := skipLocks(f, rec)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return true, nil
	}
	return dispatch(snapshot, cur)
}

// skipLocks follows Prev through tuple-lock records to the first
// non-lock record in the chain.
func skipLocks(f Fetcher, rec *undo.Record) (*undo.Record, error) {
	cur := rec
	for cur.Type == undo.RecLock {
		if cur.Prev == common.InvalidUndoPtr {
			return nil, nil
		}
		prev, err := f.Fetch(cur.Prev)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, nil
		}
		cur = prev
	}
	return cur, nil
}

// versionRecord resolves a non-visible delete/update record to the record
// that describes the version itself: skip any tuple-lock records, then if
// still a delete/update, step back once more to the version it replaced.
func versionRecord(f Fetcher, rec *undo.Record) (*undo.Record, error) {
	cur, err := skipLocks(f, rec)
	if err != nil || cur == nil {
		return cur, err
	}
	if cur.Type == undo.RecInsert {
		return cur, nil
	}
	if cur.Prev == common.InvalidUndoPtr {
		return cur, nil
	}
	return f.Fetch(cur.Prev)
}

// dispatch applies the per-snapshot-kind rule set (spec §4.6) to one UNDO
// record's xid/cid.
func dispatch(snap common.Snapshot, rec *undo.Record) (bool, error) {
	currentTxn := rec.Xid == snap.Xid
	switch snap.Kind {
	case common.SnapshotSelf:
		return currentTxn, nil
	case common.SnapshotAny:
		return true, nil
	case common.SnapshotDirty:
		if currentTxn {
			return rec.Cid < snap.Curcid, nil
		}
		if snap.InProgressContains(rec.Xid) {
			return true, nil
		}
		return snap.Committed(rec.Xid), nil
	case common.SnapshotNonVacuumable:
		if currentTxn {
			return rec.Cid < snap.Curcid, nil
		}
		if snap.InProgressContains(rec.Xid) {
			// NonVacuumable treats in-progress as live: never safe to elide.
			return true, nil
		}
		return snap.Committed(rec.Xid), nil
	default: // SnapshotMVCC
		if currentTxn {
			return rec.Cid < snap.Curcid, nil
		}
		if snap.InProgressContains(rec.Xid) {
			return false, nil
		}
		return snap.Committed(rec.Xid), nil
	}
}

// SatisfiesUpdate is the same chain walk as SatisfiesVisibility but used by
// mutating operations: it reports one of the structured UpdateResult
// outcomes plus, for any non-Ok result, a Conflict describing the blocker
// (spec §4.6).
func SatisfiesUpdate(f Fetcher, oldestLive common.UndoPtr, snapshot common.Snapshot, it ChainEntry, requested common.LockMode) (common.UpdateResult, *common.Conflict, error) {
	if it.Dead {
		return common.UpdateInvisible, nil, nil
	}
	if it.Undo == common.InvalidUndoPtr {
		return common.UpdateOk, nil, nil
	}
	if it.Undo < oldestLive {
		if !it.Deleted && !it.Updated {
			return common.UpdateOk, nil, nil
		}
		return common.UpdateDeleted, &common.Conflict{Result: common.UpdateDeleted, ConflictingTID: it.TID, CanDiscard: true}, nil
	}

	rec, err := f.Fetch(it.Undo)
	if err != nil {
		return common.UpdateInvisible, nil, err
	}
	if rec == nil {
		return common.UpdateOk, nil, nil
	}

	if !it.Deleted && !it.Updated {
		if rec.Type == undo.RecInsert && rec.Xid == snapshot.Xid && rec.Cid >= snapshot.Curcid {
			// Inserted by this transaction at or after the snapshot's
			// current command.
			return common.UpdateSelfModified, nil, nil
		}
		versionRec, err := skipLocks(f, rec)
		if err != nil {
			return common.UpdateInvisible, nil, err
		}
		visible := true
		if versionRec != nil {
			visible, err = dispatch(snapshot, versionRec)
			if err != nil {
				return common.UpdateInvisible, nil, err
			}
		}
		if !visible {
			return common.UpdateInvisible, nil, nil
		}
		if rec.Type == undo.RecLock && snapshot.InProgressContains(rec.Xid) && !rec.LockMode.Compatible(requested) {
			conflict := &common.Conflict{Result: common.UpdateBeingModified, ConflictingTID: it.TID, Xmax: rec.Xid, Cmax: rec.Cid}
			return common.UpdateBeingModified, conflict, nil
		}
		return common.UpdateOk, nil, nil
	}

	visible, err := dispatch(snapshot, rec)
	if err != nil {
		return common.UpdateInvisible, nil, err
	}
	if visible {
		result := common.UpdateDeleted
		if it.Updated {
			result = common.UpdateUpdated
		}
		conflict := &common.Conflict{Result: result, ConflictingTID: it.TID, Xmax: rec.Xid, Cmax: rec.Cid}
		return result, conflict, nil
	}
	if snapshot.InProgressContains(rec.Xid) {
		conflict := &common.Conflict{Result: common.UpdateBeingModified, ConflictingTID: it.TID, Xmax: rec.Xid, Cmax: rec.Cid}
		return common.UpdateBeingModified, conflict, nil
	}
	// Aborted: the blocking record is discardable and the row is visible
	// under whatever it chains to.
	return common.UpdateOk, nil, nil
}
