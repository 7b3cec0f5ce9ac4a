package undo

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zedstore/zedstore/common"
)

func open(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "undo.log")
	l, err := Open(path, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l
}

func TestInsertFetchRoundTrip(t *testing.T) {
	l := open(t)
	ptr, err := l.Insert(Record{Type: RecDelete, Xid: 42, Cid: 1, TID: common.NewTID(1, 5)})
	require.NoError(t, err)
	require.Equal(t, common.UndoPtr(1), ptr)

	rec, err := l.Fetch(ptr)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, RecDelete, rec.Type)
	require.Equal(t, common.Xid(42), rec.Xid)
	require.Equal(t, common.NewTID(1, 5), rec.TID)
}

func TestInsertAssignsIncreasingPointers(t *testing.T) {
	l := open(t)
	p1, err := l.Insert(Record{Type: RecInsert, Xid: 1})
	require.NoError(t, err)
	p2, err := l.Insert(Record{Type: RecInsert, Xid: 2})
	require.NoError(t, err)
	require.Less(t, uint64(p1), uint64(p2))
}

func TestFetchBelowOldestLiveReturnsNone(t *testing.T) {
	l := open(t)
	p1, err := l.Insert(Record{Type: RecInsert, Xid: 1})
	require.NoError(t, err)
	_, err = l.Insert(Record{Type: RecInsert, Xid: 2})
	require.NoError(t, err)

	require.NoError(t, l.AdvanceOldestLive(p1+1))

	rec, err := l.Fetch(p1)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestAdvanceOldestLiveIsMonotone(t *testing.T) {
	l := open(t)
	require.NoError(t, l.AdvanceOldestLive(5))
	require.NoError(t, l.AdvanceOldestLive(3))
	require.Equal(t, common.UndoPtr(5), l.OldestLive())
}

func TestUpdateRecordRoundTrip(t *testing.T) {
	l := open(t)
	prevPtr, err := l.Insert(Record{Type: RecInsert, Xid: 1, TID: common.NewTID(1, 1)})
	require.NoError(t, err)

	ptr, err := l.Insert(Record{
		Type:      RecUpdate,
		Xid:       2,
		TID:       common.NewTID(1, 1),
		Prev:      prevPtr,
		NewTID:    common.NewTID(1, 2),
		KeyUpdate: true,
	})
	require.NoError(t, err)

	rec, err := l.Fetch(ptr)
	require.NoError(t, err)
	require.Equal(t, common.NewTID(1, 2), rec.NewTID)
	require.True(t, rec.KeyUpdate)
	require.Equal(t, prevPtr, rec.Prev)
}

func TestRecoveryAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "undo.log")
	l, err := Open(path, zerolog.Nop(), nil)
	require.NoError(t, err)

	var last common.UndoPtr
	for i := 0; i < 5; i++ {
		last, err = l.Insert(Record{Type: RecInsert, Xid: common.Xid(i)})
		require.NoError(t, err)
	}
	require.NoError(t, l.AdvanceOldestLive(2))
	require.NoError(t, l.Close())

	reopened, err := Open(path, zerolog.Nop(), nil)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, common.UndoPtr(2), reopened.OldestLive())

	rec, err := reopened.Fetch(last)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, common.Xid(4), rec.Xid)

	// A new insert after reopen must not collide with recovered pointers.
	next, err := reopened.Insert(Record{Type: RecInsert, Xid: 99})
	require.NoError(t, err)
	require.Greater(t, uint64(next), uint64(last))
}

func TestFetchBeyondCounterIsCorruption(t *testing.T) {
	l := open(t)
	_, err := l.Fetch(common.UndoPtr(999))
	require.Error(t, err)
	_, ok := common.AsCorruption(err)
	require.True(t, ok)
}
