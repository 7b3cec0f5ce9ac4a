// Package item packs and unpacks leaf items (spec §3, §4.2): single
// datums, runs of array elements sharing one UNDO pointer, and opaque
// compressed containers. Adapted from the teacher's btree/page.go cell
// codec, generalized from fixed key/value cells to TID-keyed, possibly
// multi-element, possibly-null attribute values.
package item

import (
	"encoding/binary"

	"github.com/zedstore/zedstore/common"
)

// MaxDatumSize bounds a single datum so it plus header always fits a page;
// oversize datums must be externally TOASTed before reaching multi_insert
// (spec §6, non-goal: TOAST chunking itself).
const MaxDatumSize = page8192 - 500

const page8192 = 8192

// MaxArrayPayload caps an array item's total payload to bound rewrite cost
// (spec §4.2).
const MaxArrayPayload = MaxDatumSize / 4

// AttrDesc describes one attribute's storage shape, recorded in the
// metapage root directory (spec §3).
type AttrDesc struct {
	Len    int16 // >=0: fixed width in bytes. <0: variable-width (varlena).
	ByVal  bool
}

// Fixed reports whether the attribute has a fixed on-disk width.
func (d AttrDesc) Fixed() bool { return d.Len >= 0 }

// Flags are per-item bits (spec §3).
type Flags uint16

const (
	FlagCompressed Flags = 1 << 0
	FlagArray      Flags = 1 << 1
	FlagNull       Flags = 1 << 2 // applies to the whole array for array items
	FlagDead       Flags = 1 << 3
	FlagDeleted    Flags = 1 << 4 // meta-attribute only: Undo points at a delete record
	FlagUpdated    Flags = 1 << 5 // meta-attribute only: Undo points at an update record
)

// Kind distinguishes the three leaf item variants (spec §3).
type Kind int

const (
	KindSingle Kind = iota
	KindArray
	KindCompressed
)

// commonHeaderSize is {tid:8, size:2, flags:2} (spec §6).
const commonHeaderSize = 8 + 2 + 2

const (
	hTID   = 0
	hSize  = 8
	hFlags = 10
	hTail  = 12
)

// Item is a decoded view of one leaf item. Payload is a borrowed slice
// into the page (or into caller-owned scratch memory for a decompressed
// item) holding the packed datum(s) for Single/Array, or the opaque
// compressed blob for Compressed.
type Item struct {
	Kind    Kind
	TID     common.TID
	LastTID common.TID
	Size    uint16
	Flags   Flags
	Undo    common.UndoPtr // Single, Array
	N       uint16         // Array only

	UncompressedSize uint16 // Compressed only
	Payload          []byte
}

// IsNull reports whether the item (or, for Array, the whole run) is null.
func (it *Item) IsNull() bool { return it.Flags&FlagNull != 0 }

// IsDead reports whether the item is a tombstone (spec §3).
func (it *Item) IsDead() bool { return it.Flags&FlagDead != 0 }

// IsDeleted reports whether the item's Undo pointer refers to a delete
// record (meta-attribute only, spec §4.6).
func (it *Item) IsDeleted() bool { return it.Flags&FlagDeleted != 0 }

// IsUpdated reports whether the item's Undo pointer refers to an update
// record (meta-attribute only, spec §4.6).
func (it *Item) IsUpdated() bool { return it.Flags&FlagUpdated != 0 }

// EncodeSingle packs one datum at tid, per spec §4.2.
func EncodeSingle(attr AttrDesc, tid common.TID, undo common.UndoPtr, datum []byte, isnull bool) []byte {
	payload := encodeDatum(attr, datum, isnull)
	size := commonHeaderSize + 8 + len(payload)
	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf[hTID:], uint64(tid))
	binary.BigEndian.PutUint16(buf[hSize:], uint16(size))
	flags := Flags(0)
	if isnull {
		flags |= FlagNull
	}
	binary.BigEndian.PutUint16(buf[hFlags:], uint16(flags))
	binary.BigEndian.PutUint64(buf[hTail:], uint64(undo))
	copy(buf[hTail+8:], payload)
	return buf
}

// EncodeArray packs n consecutive-TID elements sharing one UNDO pointer
// and null-flag, starting at tid. It caps total payload at
// MaxArrayPayload; callers must split larger runs across multiple array
// items themselves.
func EncodeArray(attr AttrDesc, tid common.TID, undo common.UndoPtr, datums [][]byte, isnull bool) ([]byte, error) {
	var payload []byte
	if isnull {
		payload = nil
	} else {
		payload = encodeDatums(attr, datums)
	}
	if len(payload) > MaxArrayPayload {
		return nil, common.ErrDatumTooLarge
	}
	const arrHeader = 2 + 8
	size := commonHeaderSize + arrHeader + len(payload)
	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf[hTID:], uint64(tid))
	binary.BigEndian.PutUint16(buf[hSize:], uint16(size))
	flags := FlagArray
	if isnull {
		flags |= FlagNull
	}
	binary.BigEndian.PutUint16(buf[hFlags:], uint16(flags))
	binary.BigEndian.PutUint16(buf[hTail:], uint16(len(datums)))
	binary.BigEndian.PutUint64(buf[hTail+2:], uint64(undo))
	copy(buf[hTail+arrHeader:], payload)
	return buf, nil
}

// EncodeCompressed wraps an opaque compressed blob covering
// [firstTID, lastTID] inclusive.
func EncodeCompressed(firstTID, lastTID common.TID, uncompressedSize uint16, blob []byte) []byte {
	const cHeader = 2 + 8
	size := commonHeaderSize + cHeader + len(blob)
	buf := make([]byte, size)
	binary.BigEndian.PutUint64(buf[hTID:], uint64(firstTID))
	binary.BigEndian.PutUint16(buf[hSize:], uint16(size))
	binary.BigEndian.PutUint16(buf[hFlags:], uint16(FlagCompressed))
	binary.BigEndian.PutUint16(buf[hTail:], uncompressedSize)
	binary.BigEndian.PutUint64(buf[hTail+2:], uint64(lastTID))
	copy(buf[hTail+cHeader:], blob)
	return buf
}

// Chunk is one item produced by EncodeRun: a Single or Array item together
// with the TID it starts at.
type Chunk struct {
	TID common.TID
	Raw []byte
}

// EncodeRun batches n consecutive-TID datums sharing one UNDO pointer into
// the minimal sequence of Single/Array items. The run is cut into chunks
// wherever a null/non-null boundary is crossed or the next element would
// push the chunk's payload past MaxArrayPayload; a chunk of one element
// becomes a single item, a longer chunk an array item (spec §4.2).
func EncodeRun(attr AttrDesc, tid common.TID, undo common.UndoPtr, datums [][]byte, isNull []bool) ([]Chunk, error) {
	var out []Chunk
	i := 0
	n := len(datums)
	for i < n {
		isnull := isNull[i]
		end := i + 1
		for end < n && isNull[end] == isnull {
			if isnull {
				end++
				continue
			}
			if _, err := EncodeArray(attr, tid+common.TID(i), undo, datums[i:end+1], false); err != nil {
				break
			}
			end++
		}

		chunkTID := tid + common.TID(i)
		var raw []byte
		if end-i == 1 {
			raw = EncodeSingle(attr, chunkTID, undo, datums[i], isnull)
		} else {
			var err error
			raw, err = EncodeArray(attr, chunkTID, undo, datums[i:end], isnull)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, Chunk{TID: chunkTID, Raw: raw})
		i = end
	}
	return out, nil
}

// EncodeDeadTombstone packs a size-zero tombstone at tid (spec §4.5.7
// mark-dead). The tombstone carries no UNDO pointer, so the leaf rewrite's
// horizon-based elision, which only drops dead items whose UNDO pointer is
// below oldest_live, never removes it.
func EncodeDeadTombstone(tid common.TID) []byte {
	buf := make([]byte, commonHeaderSize)
	binary.BigEndian.PutUint64(buf[hTID:], uint64(tid))
	binary.BigEndian.PutUint16(buf[hSize:], uint16(commonHeaderSize))
	binary.BigEndian.PutUint16(buf[hFlags:], uint16(FlagDead))
	return buf
}

// SetUndoAndStatus overwrites a Single or Array item's UNDO pointer and
// deleted/updated status bits in place. Used by the meta-attribute's leaf
// rewrite to re-point an item at a fresh UNDO record without re-encoding
// its payload (spec §4.5.7). raw must be a private copy, not a page-backed
// slice still under a shared lock.
func SetUndoAndStatus(raw []byte, undo common.UndoPtr, deleted, updated bool) error {
	it, err := Decode(raw)
	if err != nil {
		return err
	}
	if it.Kind == KindCompressed {
		return common.ErrNestedCompressed
	}
	flags := (it.Flags &^ (FlagDeleted | FlagUpdated))
	if deleted {
		flags |= FlagDeleted
	}
	if updated {
		flags |= FlagUpdated
	}
	binary.BigEndian.PutUint16(raw[hFlags:], uint16(flags))
	switch it.Kind {
	case KindArray:
		binary.BigEndian.PutUint64(raw[hTail+2:], uint64(undo))
	default:
		binary.BigEndian.PutUint64(raw[hTail:], uint64(undo))
	}
	return nil
}

// Decode parses one item from the head of raw. raw may be longer than the
// item (e.g. the rest of a page); use Decode's returned Size to advance.
func Decode(raw []byte) (*Item, error) {
	if len(raw) < commonHeaderSize {
		return nil, common.NewCorruption(0, "item shorter than common header")
	}
	tid := common.TID(binary.BigEndian.Uint64(raw[hTID:]))
	size := binary.BigEndian.Uint16(raw[hSize:])
	flags := Flags(binary.BigEndian.Uint16(raw[hFlags:]))
	if int(size) > len(raw) {
		return nil, common.NewCorruption(0, "item size exceeds buffer")
	}
	body := raw[:size]

	it := &Item{TID: tid, Size: size, Flags: flags}

	switch {
	case flags&FlagCompressed != 0:
		if len(body) < hTail+10 {
			return nil, common.NewCorruption(0, "truncated compressed item")
		}
		it.Kind = KindCompressed
		it.UncompressedSize = binary.BigEndian.Uint16(body[hTail:])
		it.LastTID = common.TID(binary.BigEndian.Uint64(body[hTail+2:]))
		it.Payload = body[hTail+10:]
	case flags&FlagArray != 0:
		if len(body) < hTail+10 {
			return nil, common.NewCorruption(0, "truncated array item")
		}
		it.Kind = KindArray
		it.N = binary.BigEndian.Uint16(body[hTail:])
		it.Undo = common.UndoPtr(binary.BigEndian.Uint64(body[hTail+2:]))
		it.Payload = body[hTail+10:]
		if it.N > 0 {
			it.LastTID = tid + common.TID(it.N-1)
		} else {
			it.LastTID = tid
		}
	case flags&FlagDead != 0 && size == commonHeaderSize:
		// A mark-dead tombstone carries no payload or undo pointer (spec
		// §4.5.7).
		it.Kind = KindSingle
		it.LastTID = tid
		it.Undo = common.InvalidUndoPtr
	default:
		if len(body) < hTail+8 {
			return nil, common.NewCorruption(0, "truncated single item")
		}
		it.Kind = KindSingle
		it.Undo = common.UndoPtr(binary.BigEndian.Uint64(body[hTail:]))
		it.Payload = body[hTail+8:]
		it.LastTID = tid
	}
	return it, nil
}

// Element is one decoded (tid, datum, isnull) triple.
type Element struct {
	TID    common.TID
	Datum  []byte
	IsNull bool
}

// Elements expands a decoded Single or Array item into its per-TID
// elements. Restartable: callers may call it repeatedly on the same *Item
// (e.g. once per retry of a compressed container's payload).
func Elements(attr AttrDesc, it *Item) ([]Element, error) {
	switch it.Kind {
	case KindSingle:
		return []Element{{TID: it.TID, Datum: it.Payload, IsNull: it.IsNull()}}, nil
	case KindArray:
		if it.IsNull() {
			out := make([]Element, it.N)
			for i := range out {
				out[i] = Element{TID: it.TID + common.TID(i), IsNull: true}
			}
			return out, nil
		}
		datums, err := decodeDatums(attr, it.Payload, int(it.N))
		if err != nil {
			return nil, err
		}
		out := make([]Element, len(datums))
		for i, d := range datums {
			out[i] = Element{TID: it.TID + common.TID(i), Datum: d}
		}
		return out, nil
	default:
		return nil, common.NewCorruption(0, "Elements called on compressed item")
	}
}

func encodeDatum(attr AttrDesc, datum []byte, isnull bool) []byte {
	if isnull {
		return nil
	}
	if attr.Fixed() {
		out := make([]byte, attr.Len)
		copy(out, datum)
		return out
	}
	hdr := make([]byte, 4)
	n := putUvarint(hdr, uint64(len(datum)))
	out := make([]byte, n+len(datum))
	copy(out, hdr[:n])
	copy(out[n:], datum)
	return out
}

func encodeDatums(attr AttrDesc, datums [][]byte) []byte {
	var out []byte
	for _, d := range datums {
		out = append(out, encodeDatum(attr, d, false)...)
	}
	return out
}

func decodeDatums(attr AttrDesc, payload []byte, n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	if attr.Fixed() {
		w := int(attr.Len)
		if len(payload) != w*n {
			return nil, common.NewCorruption(0, "fixed-width array payload size mismatch")
		}
		for i := 0; i < n; i++ {
			out = append(out, payload[i*w:(i+1)*w])
		}
		return out, nil
	}
	off := 0
	for i := 0; i < n; i++ {
		l, sz := uvarint(payload[off:])
		if sz <= 0 {
			return nil, common.NewCorruption(0, "bad varlena length prefix")
		}
		off += sz
		if off+int(l) > len(payload) {
			return nil, common.NewCorruption(0, "varlena datum overruns array payload")
		}
		out = append(out, payload[off:off+int(l)])
		off += int(l)
	}
	return out, nil
}
