package item

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zedstore/zedstore/common"
)

var fixedAttr = AttrDesc{Len: 4, ByVal: true}
var varAttr = AttrDesc{Len: -1}

func TestSingleRoundTrip(t *testing.T) {
	raw := EncodeSingle(fixedAttr, 5, 100, []byte{1, 2, 3, 4}, false)
	it, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, KindSingle, it.Kind)
	require.Equal(t, common.TID(5), it.TID)
	require.Equal(t, common.TID(5), it.LastTID)
	require.Equal(t, common.UndoPtr(100), it.Undo)

	els, err := Elements(fixedAttr, it)
	require.NoError(t, err)
	require.Len(t, els, 1)
	require.Equal(t, []byte{1, 2, 3, 4}, els[0].Datum)
}

func TestSingleNull(t *testing.T) {
	raw := EncodeSingle(fixedAttr, 5, 100, nil, true)
	it, err := Decode(raw)
	require.NoError(t, err)
	require.True(t, it.IsNull())
	els, err := Elements(fixedAttr, it)
	require.NoError(t, err)
	require.True(t, els[0].IsNull)
}

func TestArrayRoundTripFixedWidth(t *testing.T) {
	datums := [][]byte{{1, 0, 0, 0}, {2, 0, 0, 0}, {3, 0, 0, 0}}
	raw, err := EncodeArray(fixedAttr, 10, 42, datums, false)
	require.NoError(t, err)

	it, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, KindArray, it.Kind)
	require.Equal(t, uint16(3), it.N)
	require.Equal(t, common.TID(12), it.LastTID)

	els, err := Elements(fixedAttr, it)
	require.NoError(t, err)
	require.Len(t, els, 3)
	require.Equal(t, common.TID(10), els[0].TID)
	require.Equal(t, common.TID(12), els[2].TID)
	require.Equal(t, datums[1], els[1].Datum)
}

func TestArrayRoundTripVariableWidth(t *testing.T) {
	datums := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	raw, err := EncodeArray(varAttr, 100, 7, datums, false)
	require.NoError(t, err)

	it, err := Decode(raw)
	require.NoError(t, err)
	els, err := Elements(varAttr, it)
	require.NoError(t, err)
	require.Equal(t, "bb", string(els[1].Datum))
	require.Equal(t, "ccc", string(els[2].Datum))
}

func TestArrayNullRun(t *testing.T) {
	raw, err := EncodeArray(fixedAttr, 50, 9, nil, true)
	require.NoError(t, err)
	it, err := Decode(raw)
	require.NoError(t, err)
	require.True(t, it.IsNull())
}

func TestArrayPayloadCap(t *testing.T) {
	big := make([][]byte, 0)
	chunk := make([]byte, 100)
	for i := 0; i < MaxArrayPayload/len(chunk)+10; i++ {
		big = append(big, chunk)
	}
	_, err := EncodeArray(AttrDesc{Len: int16(len(chunk))}, 1, 1, big, false)
	require.ErrorIs(t, err, common.ErrDatumTooLarge)
}

func TestCompressedRoundTrip(t *testing.T) {
	blob := []byte("opaque-compressed-bytes")
	raw := EncodeCompressed(1, 50, 999, blob)
	it, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, KindCompressed, it.Kind)
	require.Equal(t, common.TID(1), it.TID)
	require.Equal(t, common.TID(50), it.LastTID)
	require.Equal(t, uint16(999), it.UncompressedSize)
	require.Equal(t, blob, it.Payload)
}

func TestDeadTombstoneRoundTrip(t *testing.T) {
	raw := EncodeDeadTombstone(common.NewTID(2, 3))
	it, err := Decode(raw)
	require.NoError(t, err)
	require.True(t, it.IsDead())
	require.Equal(t, common.NewTID(2, 3), it.TID)
}

func TestSetUndoAndStatusMarksDeleted(t *testing.T) {
	raw := EncodeSingle(fixedAttr, 5, 100, []byte{1, 2, 3, 4}, false)
	require.NoError(t, SetUndoAndStatus(raw, 200, true, false))

	it, err := Decode(raw)
	require.NoError(t, err)
	require.True(t, it.IsDeleted())
	require.False(t, it.IsUpdated())
	require.Equal(t, common.UndoPtr(200), it.Undo)
}

func TestSetUndoAndStatusRejectsCompressed(t *testing.T) {
	raw := EncodeCompressed(1, 50, 999, []byte("blob"))
	err := SetUndoAndStatus(raw, 1, true, false)
	require.ErrorIs(t, err, common.ErrNestedCompressed)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	raw := EncodeSingle(fixedAttr, 5, 100, []byte{1, 2, 3, 4}, false)
	_, err := Decode(raw[:commonHeaderSize+2])
	require.Error(t, err)
}
