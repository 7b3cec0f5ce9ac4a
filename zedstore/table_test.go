package zedstore

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/common/testutil"
	"github.com/zedstore/zedstore/internal/item"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	dir := testutil.TempDir(t)
	tbl, err := Open(Config{
		DataPath:  filepath.Join(dir, "data"),
		UndoPath:  filepath.Join(dir, "undo"),
		CacheSize: 256,
		Attrs: []item.AttrDesc{
			{Len: 4, ByVal: true}, // int column
			{Len: -1},             // text column
		},
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func intDatum(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func anySnapshot() common.Snapshot { return common.Snapshot{Kind: common.SnapshotAny} }

func TestMultiInsertAndScan(t *testing.T) {
	tbl := newTestTable(t)

	tids, err := tbl.MultiInsert(1, 1, []Row{
		{Datums: [][]byte{intDatum(10), []byte("alice")}, IsNull: []bool{false, false}},
		{Datums: [][]byte{intDatum(20), []byte("bob")}, IsNull: []bool{false, false}},
	})
	require.NoError(t, err)
	require.Len(t, tids, 2)
	require.Less(t, tids[0], tids[1])

	last, err := tbl.GetLastTID()
	require.NoError(t, err)
	require.Equal(t, tids[1], last)

	scan, err := tbl.ScanBegin(common.MinTID, common.InvalidTID, anySnapshot())
	require.NoError(t, err)
	defer scan.End()

	tup, ok, err := scan.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tids[0], tup.TID)
	require.Equal(t, "alice", string(tup.Datums[1]))

	tup, ok, err = scan.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tids[1], tup.TID)
	require.Equal(t, "bob", string(tup.Datums[1]))

	_, ok, err = scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteHidesRowFromLaterSnapshot(t *testing.T) {
	tbl := newTestTable(t)
	tids, err := tbl.MultiInsert(1, 1, []Row{
		{Datums: [][]byte{intDatum(1), []byte("x")}, IsNull: []bool{false, false}},
	})
	require.NoError(t, err)
	tid := tids[0]

	res, conflict, err := tbl.Delete(2, 1, tid, common.Snapshot{Kind: common.SnapshotMVCC, Xid: 2, Curcid: 1})
	require.NoError(t, err)
	require.Nil(t, conflict)
	require.Equal(t, common.UpdateOk, res)

	scan, err := tbl.ScanBegin(common.MinTID, common.InvalidTID, common.Snapshot{
		Kind: common.SnapshotMVCC, Xid: 3, Curcid: 1,
	})
	require.NoError(t, err)
	defer scan.End()

	_, ok, err := scan.Next()
	require.NoError(t, err)
	require.False(t, ok, "row deleted by a committed-looking xid should no longer be visible")
}

func TestUpdateProducesNewTIDAndMarksOldUpdated(t *testing.T) {
	tbl := newTestTable(t)
	tids, err := tbl.MultiInsert(1, 1, []Row{
		{Datums: [][]byte{intDatum(1), []byte("x")}, IsNull: []bool{false, false}},
	})
	require.NoError(t, err)
	oldTID := tids[0]

	newTID, res, conflict, err := tbl.Update(1, 2, oldTID, Row{
		Datums: [][]byte{intDatum(2), []byte("y")}, IsNull: []bool{false, false},
	}, common.Snapshot{Kind: common.SnapshotMVCC, Xid: 1, Curcid: 2})
	require.NoError(t, err)
	require.Nil(t, conflict)
	require.Equal(t, common.UpdateOk, res)
	require.NotEqual(t, oldTID, newTID)

	scan, err := tbl.ScanBegin(common.MinTID, common.InvalidTID, anySnapshot())
	require.NoError(t, err)
	defer scan.End()

	var got []common.TID
	for {
		tup, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, tup.TID)
	}
	require.Equal(t, []common.TID{newTID}, got, "SnapshotAny still excludes the old version once superseded in a visible chain")
}

func TestMultiInsertBatchesRowsIntoArrayItems(t *testing.T) {
	tbl := newTestTable(t)

	const n = 50
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			Datums: [][]byte{intDatum(uint32(i)), []byte("row")},
			IsNull: []bool{false, false},
		}
	}
	tids, err := tbl.MultiInsert(1, 1, rows)
	require.NoError(t, err)
	require.Len(t, tids, n)

	scan, err := tbl.ScanBegin(common.MinTID, common.InvalidTID, anySnapshot())
	require.NoError(t, err)
	defer scan.End()

	for i := 0; i < n; i++ {
		tup, ok, err := scan.Next()
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, tids[i], tup.TID)
		require.Equal(t, "row", string(tup.Datums[1]))
	}
	_, ok, err := scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkItemDeadHidesRowFromScan(t *testing.T) {
	tbl := newTestTable(t)
	tids, err := tbl.MultiInsert(1, 1, []Row{
		{Datums: [][]byte{intDatum(1), []byte("x")}, IsNull: []bool{false, false}},
	})
	require.NoError(t, err)
	tid := tids[0]

	require.NoError(t, tbl.MarkItemDead(tid))

	scan, err := tbl.ScanBegin(common.MinTID, common.InvalidTID, anySnapshot())
	require.NoError(t, err)
	defer scan.End()
	_, ok, err := scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
