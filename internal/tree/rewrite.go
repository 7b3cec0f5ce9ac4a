package tree

import (
	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/compress"
	"github.com/zedstore/zedstore/internal/item"
	"github.com/zedstore/zedstore/internal/page"
)

// buildLogicalItems applies the leaf-rewrite replace/elide rules (spec
// §4.5.4) to the items currently on h's page, given a target oldTID (or
// common.InvalidTID for a pure insert) and its replacement (nil to elide).
// It returns the resulting ordered list of raw item byte slices (private
// copies, safe to mutate and to hold across the page's unlock).
func (t *Tree) buildLogicalItems(items [][]byte, oldTID common.TID, replacement []byte, oldestLive common.UndoPtr) ([][]byte, error) {
	var out [][]byte
	found := oldTID == common.InvalidTID

	for _, raw := range items {
		it, err := item.Decode(raw)
		if err != nil {
			return nil, err
		}

		switch it.Kind {
		case item.KindCompressed:
			if oldTID != common.InvalidTID && it.TID <= oldTID && oldTID <= it.LastTID {
				decoded, err := t.expandCompressed(it)
				if err != nil {
					return nil, err
				}
				pieces, ok, err := applyRulesToRun(decoded, t.AttrDesc, oldTID, replacement, oldestLive)
				if err != nil {
					return nil, err
				}
				found = found || ok
				out = append(out, pieces...)
				continue
			}
			out = append(out, raw)

		case item.KindArray:
			if oldTID != common.InvalidTID && it.TID <= oldTID && oldTID <= it.LastTID {
				els, err := item.Elements(t.AttrDesc, it)
				if err != nil {
					return nil, err
				}
				pieces, err := splitArrayElements(t.AttrDesc, els, it.Undo, oldTID, replacement)
				if err != nil {
					return nil, err
				}
				found = true
				out = append(out, pieces...)
				continue
			}
			out = append(out, raw)

		default: // Single
			if it.IsDead() && it.Undo != common.InvalidUndoPtr && it.Undo < oldestLive {
				continue // elide: dead item older than the UNDO horizon
			}
			if oldTID != common.InvalidTID && it.TID == oldTID {
				found = true
				if replacement != nil {
					out = append(out, replacement)
				}
				continue
			}
			out = append(out, raw)
		}
	}

	if !found {
		return nil, common.ErrMissingOldItem
	}
	return out, nil
}

// expandCompressed decompresses a container item into its constituent raw
// item byte slices (at most two decompressors may be active during one
// rewrite per spec §4.5.4; this implementation only ever holds one at a
// time since it fully materializes before moving on).
func (t *Tree) expandCompressed(it *item.Item) ([][]byte, error) {
	raw, err := compress.Decompress(it.Payload, int(it.UncompressedSize))
	if err != nil {
		return nil, err
	}
	var out [][]byte
	off := 0
	for off < len(raw) {
		sub, err := item.Decode(raw[off:])
		if err != nil {
			return nil, err
		}
		if sub.Kind == item.KindCompressed {
			return nil, common.ErrNestedCompressed
		}
		out = append(out, append([]byte(nil), raw[off:off+int(sub.Size)]...))
		off += int(sub.Size)
	}
	return out, nil
}

// applyRulesToRun applies the Single/Array replace/elide rule to whichever
// decoded item in a (formerly compressed) run covers oldTID.
func applyRulesToRun(items [][]byte, attr item.AttrDesc, oldTID common.TID, replacement []byte, oldestLive common.UndoPtr) ([][]byte, bool, error) {
	var out [][]byte
	found := false
	for _, raw := range items {
		it, err := item.Decode(raw)
		if err != nil {
			return nil, false, err
		}
		if it.Kind == item.KindArray && it.TID <= oldTID && oldTID <= it.LastTID {
			els, err := item.Elements(attr, it)
			if err != nil {
				return nil, false, err
			}
			pieces, err := splitArrayElements(attr, els, it.Undo, oldTID, replacement)
			if err != nil {
				return nil, false, err
			}
			out = append(out, pieces...)
			found = true
			continue
		}
		if it.Kind != item.KindArray && it.TID == oldTID {
			found = true
			if replacement != nil {
				out = append(out, replacement)
			}
			continue
		}
		out = append(out, raw)
	}
	return out, found, nil
}

// splitArrayElements splits an array run into [tid,oldTID), {oldTID}, and
// (oldTID,lastTID], re-encoding the non-empty pieces as fresh array (or
// single, for one-element) items (spec §4.5.4).
func splitArrayElements(attr item.AttrDesc, els []item.Element, undo common.UndoPtr, oldTID common.TID, replacement []byte) ([][]byte, error) {
	var out [][]byte
	var left, right []item.Element
	for _, el := range els {
		switch {
		case el.TID < oldTID:
			left = append(left, el)
		case el.TID > oldTID:
			right = append(right, el)
		}
	}
	if len(left) > 0 {
		raw, err := encodeRun(attr, left, undo)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	if replacement != nil {
		out = append(out, replacement)
	}
	if len(right) > 0 {
		raw, err := encodeRun(attr, right, undo)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	return out, nil
}

func encodeRun(attr item.AttrDesc, els []item.Element, undo common.UndoPtr) ([][]byte, error) {
	if len(els) == 1 {
		return [][]byte{item.EncodeSingle(attr, els[0].TID, undo, els[0].Datum, els[0].IsNull)}, nil
	}
	datums := make([][]byte, len(els))
	isnull := els[0].IsNull
	for i, el := range els {
		datums[i] = el.Datum
	}
	raw, err := item.EncodeArray(attr, els[0].TID, undo, datums, isnull)
	if err != nil {
		return nil, err
	}
	return [][]byte{raw}, nil
}

// repack packs an ordered list of raw items onto one or more page images,
// feeding non-compressed items through the compression codec and flushing
// through already-compressed items as-is (spec §4.5.5). When noPack is set
// (the meta-attribute tree, whose items must stay individually addressable
// for in-place delete/update/lock status changes) every item is stored
// uncompressed and untouched by array-batching.
func repack(attno int16, level uint16, items [][]byte, noPack bool) ([]*page.Page, error) {
	var images []*page.Page
	cur := page.NewTree(attno, level)

	var codec *compress.Codec
	var pendingRaw [][]byte

	appendOrNewImage := func(raw []byte, tid common.TID) error {
		if cur.Append(raw) {
			return nil
		}
		cur.Tree().SetHikey(uint64(tid))
		images = append(images, cur)
		cur = page.NewTree(attno, level)
		cur.Tree().SetLokey(uint64(tid))
		if !cur.Append(raw) {
			return common.NewCorruption(0, "single item does not fit a fresh page image")
		}
		return nil
	}

	flushPending := func() error {
		if codec == nil || len(pendingRaw) == 0 {
			codec = nil
			pendingRaw = nil
			return nil
		}
		blob, first, last, uncompSize, ok := codec.Finish()
		codec = nil
		if ok {
			encoded := item.EncodeCompressed(first, last, uint16(uncompSize), blob)
			if err := appendOrNewImage(encoded, first); err != nil {
				return err
			}
		} else {
			for _, raw := range pendingRaw {
				it, err := item.Decode(raw)
				if err != nil {
					return err
				}
				if err := appendOrNewImage(raw, it.TID); err != nil {
					return err
				}
			}
		}
		pendingRaw = nil
		return nil
	}

	for _, raw := range items {
		it, err := item.Decode(raw)
		if err != nil {
			return nil, err
		}
		if noPack {
			if err := appendOrNewImage(raw, it.TID); err != nil {
				return nil, err
			}
			continue
		}
		if it.Kind == item.KindCompressed {
			if err := flushPending(); err != nil {
				return nil, err
			}
			if err := appendOrNewImage(raw, it.TID); err != nil {
				return nil, err
			}
			continue
		}

		if codec == nil {
			codec = compress.Begin(CompressBudget)
		}
		if codec.Add(it.TID, it.LastTID, raw) == compress.Full {
			if err := flushPending(); err != nil {
				return nil, err
			}
			codec = compress.Begin(CompressBudget)
			if codec.Add(it.TID, it.LastTID, raw) == compress.Full {
				// Doesn't compress at all on its own; store uncompressed.
				codec = nil
				if err := appendOrNewImage(raw, it.TID); err != nil {
					return nil, err
				}
				continue
			}
		}
		pendingRaw = append(pendingRaw, raw)
	}
	if err := flushPending(); err != nil {
		return nil, err
	}
	images = append(images, cur)
	return images, nil
}
