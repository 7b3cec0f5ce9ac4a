package visibility

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/undo"
)

type fakeFetcher map[common.UndoPtr]*undo.Record

func (f fakeFetcher) Fetch(p common.UndoPtr) (*undo.Record, error) {
	return f[p], nil
}

func TestSatisfiesVisibility_NoUndoAlwaysVisible(t *testing.T) {
	ok, err := SatisfiesVisibility(fakeFetcher{}, 1, common.Snapshot{Kind: common.SnapshotMVCC}, ChainEntry{Undo: common.InvalidUndoPtr})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSatisfiesVisibility_DeadIsInvisible(t *testing.T) {
	ok, err := SatisfiesVisibility(fakeFetcher{}, 1, common.Snapshot{Kind: common.SnapshotMVCC}, ChainEntry{Dead: true})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSatisfiesVisibility_BelowOldestLiveNotDeleted(t *testing.T) {
	ok, err := SatisfiesVisibility(fakeFetcher{}, 10, common.Snapshot{Kind: common.SnapshotMVCC}, ChainEntry{Undo: 3})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSatisfiesVisibility_BelowOldestLiveDeleted(t *testing.T) {
	ok, err := SatisfiesVisibility(fakeFetcher{}, 10, common.Snapshot{Kind: common.SnapshotMVCC}, ChainEntry{Undo: 3, Deleted: true})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSatisfiesVisibility_InsertByOtherCommittedTxn(t *testing.T) {
	f := fakeFetcher{1: {Type: undo.RecInsert, Xid: 5}}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9, InProgress: map[common.Xid]struct{}{}}
	ok, err := SatisfiesVisibility(f, 1, snap, ChainEntry{Undo: 1})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSatisfiesVisibility_InsertByInProgressOtherTxn(t *testing.T) {
	f := fakeFetcher{1: {Type: undo.RecInsert, Xid: 5}}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9, InProgress: map[common.Xid]struct{}{5: {}}}
	ok, err := SatisfiesVisibility(f, 1, snap, ChainEntry{Undo: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSatisfiesVisibility_InsertBySelfEarlierCommand(t *testing.T) {
	f := fakeFetcher{1: {Type: undo.RecInsert, Xid: 9, Cid: 2}}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9, Curcid: 5}
	ok, err := SatisfiesVisibility(f, 1, snap, ChainEntry{Undo: 1})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSatisfiesVisibility_DeletedAndVisibleIsGone(t *testing.T) {
	f := fakeFetcher{
		1: {Type: undo.RecInsert, Xid: 5},
		2: {Type: undo.RecDelete, Xid: 7, Prev: 1},
	}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9}
	ok, err := SatisfiesVisibility(f, 1, snap, ChainEntry{Undo: 2, Deleted: true})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSatisfiesVisibility_DeletedByInProgressStillVisible(t *testing.T) {
	f := fakeFetcher{
		1: {Type: undo.RecInsert, Xid: 5},
		2: {Type: undo.RecDelete, Xid: 7, Prev: 1},
	}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9, InProgress: map[common.Xid]struct{}{7: {}}}
	ok, err := SatisfiesVisibility(f, 1, snap, ChainEntry{Undo: 2, Deleted: true})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSatisfiesVisibility_ThroughLockRecord(t *testing.T) {
	f := fakeFetcher{
		1: {Type: undo.RecInsert, Xid: 5},
		2: {Type: undo.RecLock, Xid: 9, Prev: 1, LockMode: common.LockShare},
	}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9}
	ok, err := SatisfiesVisibility(f, 1, snap, ChainEntry{Undo: 2})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSatisfiesUpdate_SelfModified(t *testing.T) {
	f := fakeFetcher{1: {Type: undo.RecInsert, Xid: 9}}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9}
	result, conflict, err := SatisfiesUpdate(f, 1, snap, ChainEntry{Undo: 1, TID: common.NewTID(1, 1)}, common.LockExclusive)
	require.NoError(t, err)
	require.Equal(t, common.UpdateSelfModified, result)
	require.Nil(t, conflict)
}

func TestSatisfiesUpdate_BeingModifiedByInProgressDelete(t *testing.T) {
	f := fakeFetcher{
		1: {Type: undo.RecInsert, Xid: 5},
		2: {Type: undo.RecDelete, Xid: 7, Prev: 1},
	}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9, InProgress: map[common.Xid]struct{}{7: {}}}
	result, conflict, err := SatisfiesUpdate(f, 1, snap, ChainEntry{Undo: 2, Deleted: true, TID: common.NewTID(1, 1)}, common.LockExclusive)
	require.NoError(t, err)
	require.Equal(t, common.UpdateBeingModified, result)
	require.NotNil(t, conflict)
	require.Equal(t, common.Xid(7), conflict.Xmax)
}

func TestSatisfiesUpdate_DeletedByCommittedOther(t *testing.T) {
	f := fakeFetcher{
		1: {Type: undo.RecInsert, Xid: 5},
		2: {Type: undo.RecDelete, Xid: 7, Prev: 1},
	}
	snap := common.Snapshot{Kind: common.SnapshotMVCC, Xid: 9}
	result, conflict, err := SatisfiesUpdate(f, 1, snap, ChainEntry{Undo: 2, Deleted: true, TID: common.NewTID(1, 1)}, common.LockExclusive)
	require.NoError(t, err)
	require.Equal(t, common.UpdateDeleted, result)
	require.NotNil(t, conflict)
	require.False(t, conflict.CanDiscard)
}
