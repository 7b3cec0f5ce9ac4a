package tree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/common/testutil"
	"github.com/zedstore/zedstore/internal/item"
	"github.com/zedstore/zedstore/internal/meta"
	"github.com/zedstore/zedstore/internal/page"
	"github.com/zedstore/zedstore/internal/undo"
)

var intAttr = item.AttrDesc{Len: 4, ByVal: true}

func newTestTree(t *testing.T, attr common.AttrNum) *Tree {
	t.Helper()
	dir := testutil.TempDir(t)

	pager, err := page.Open(filepath.Join(dir, "data"), 256, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pager.Close() })

	metaDir, err := meta.Init(pager, 1)
	require.NoError(t, err)

	undoLog, err := undo.Open(filepath.Join(dir, "undo"), zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = undoLog.Close() })

	return New(attr, intAttr, pager, metaDir, undoLog, zerolog.Nop())
}

func encInt(tid common.TID, v uint32) []byte {
	datum := make([]byte, 4)
	datum[0] = byte(v)
	datum[1] = byte(v >> 8)
	datum[2] = byte(v >> 16)
	datum[3] = byte(v >> 24)
	return item.EncodeSingle(intAttr, tid, common.InvalidUndoPtr, datum, false)
}

func TestInsertAndScanSingleItem(t *testing.T) {
	tr := newTestTree(t, 1)
	require.NoError(t, tr.InsertItem(1, encInt(1, 42)))

	scan, err := tr.ScanBegin(1, common.InvalidTID, common.Snapshot{Kind: common.SnapshotAny})
	require.NoError(t, err)

	tup, ok, err := scan.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, common.TID(1), tup.TID)

	_, ok, err = scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertManyForcesSplitAndScanOrdered(t *testing.T) {
	tr := newTestTree(t, 1)
	const n = 500
	for i := 1; i <= n; i++ {
		require.NoError(t, tr.InsertItem(common.TID(i), encInt(common.TID(i), uint32(i))))
	}

	last, err := tr.GetLastTID()
	require.NoError(t, err)
	require.Equal(t, common.TID(n), last)

	scan, err := tr.ScanBegin(1, common.InvalidTID, common.Snapshot{Kind: common.SnapshotAny})
	require.NoError(t, err)

	count := 0
	for i := 1; i <= n; i++ {
		tup, ok, err := scan.Next()
		require.NoError(t, err, fmt.Sprintf("at i=%d", i))
		require.True(t, ok, fmt.Sprintf("at i=%d", i))
		require.Equal(t, common.TID(i), tup.TID)
		count++
	}
	require.Equal(t, n, count)

	_, ok, err := scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplaceItemWithNilElidesItem(t *testing.T) {
	tr := newTestTree(t, 1)
	require.NoError(t, tr.InsertItem(1, encInt(1, 1)))
	require.NoError(t, tr.InsertItem(2, encInt(2, 2)))
	require.NoError(t, tr.InsertItem(3, encInt(3, 3)))

	require.NoError(t, tr.ReplaceItem(2, nil))

	scan, err := tr.ScanBegin(1, common.InvalidTID, common.Snapshot{Kind: common.SnapshotAny})
	require.NoError(t, err)

	var got []common.TID
	for {
		tup, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, tup.TID)
	}
	require.Equal(t, []common.TID{1, 3}, got)
}

func TestScanRespectsEndTID(t *testing.T) {
	tr := newTestTree(t, 1)
	for i := 1; i <= 10; i++ {
		require.NoError(t, tr.InsertItem(common.TID(i), encInt(common.TID(i), uint32(i))))
	}

	scan, err := tr.ScanBegin(1, 5, common.Snapshot{Kind: common.SnapshotAny})
	require.NoError(t, err)

	var got []common.TID
	for {
		tup, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, tup.TID)
	}
	require.Equal(t, []common.TID{1, 2, 3, 4}, got)
}

// TestReplaceItemSplitsArrayItem exercises spec §8 scenario 2 directly: a
// genuine KindArray item, split by ReplaceItem into the surviving pieces on
// either side of the replaced TID.
func TestReplaceItemSplitsArrayItem(t *testing.T) {
	tr := newTestTree(t, 1)

	const n = 1000
	datums := make([][]byte, n)
	isNull := make([]bool, n)
	for i := range datums {
		v := uint32(i + 1)
		d := make([]byte, 4)
		d[0], d[1], d[2], d[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		datums[i] = d
	}
	chunks, err := item.EncodeRun(intAttr, 1, common.InvalidUndoPtr, datums, isNull)
	require.NoError(t, err)
	for _, c := range chunks {
		require.NoError(t, tr.InsertItem(c.TID, c.Raw))
	}

	require.NoError(t, tr.ReplaceItem(500, nil))

	scan, err := tr.ScanBegin(1, common.InvalidTID, common.Snapshot{Kind: common.SnapshotAny})
	require.NoError(t, err)

	count := 0
	for {
		tup, ok, err := scan.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NotEqual(t, common.TID(500), tup.TID)
		count++
	}
	require.Equal(t, n-1, count)
}

func TestScanEmptyTree(t *testing.T) {
	tr := newTestTree(t, 1)
	scan, err := tr.ScanBegin(1, common.InvalidTID, common.Snapshot{Kind: common.SnapshotAny})
	require.NoError(t, err)
	_, ok, err := scan.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
