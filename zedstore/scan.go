package zedstore

import (
	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/tree"
)

// Tuple is one row as returned by TableScan.Next: the row's TID plus its
// per-attribute datums in table-attribute order.
type Tuple struct {
	TID    common.TID
	Datums [][]byte
	IsNull []bool
}

// TableScan iterates a table's visible rows over a TID range (spec §6
// scan_begin/scan_next/scan_end). Visibility is decided once, on the
// meta-attribute tree; each attribute's datum is then fetched by point
// lookup at the same TID (spec's Open Question on scan join strategy is
// resolved this way — see DESIGN.md).
type TableScan struct {
	table    *Table
	metaScan *tree.Scan
}

// ScanBegin starts a scan over [startTID, endTID) (endTID == common.InvalidTID
// means "no upper bound") under the given snapshot (spec §6).
func (t *Table) ScanBegin(startTID, endTID common.TID, snapshot common.Snapshot) (*TableScan, error) {
	ms, err := t.metaTree.ScanBegin(startTID, endTID, snapshot)
	if err != nil {
		return nil, err
	}
	return &TableScan{table: t, metaScan: ms}, nil
}

// Next returns the next visible row, or ok=false once the scan is
// exhausted (spec §6 scan_next).
func (s *TableScan) Next() (Tuple, bool, error) {
	metaTup, ok, err := s.metaScan.Next()
	if err != nil || !ok {
		return Tuple{}, false, err
	}

	tup := Tuple{
		TID:    metaTup.TID,
		Datums: make([][]byte, len(s.table.attrs)),
		IsNull: make([]bool, len(s.table.attrs)),
	}
	for i, attrTree := range s.table.attrs {
		el, found, err := attrTree.PointLookup(metaTup.TID)
		if err != nil {
			return Tuple{}, false, err
		}
		if !found {
			return Tuple{}, false, common.NewCorruption(uint64(metaTup.TID), "visible row missing attribute datum")
		}
		tup.Datums[i] = el.Datum
		tup.IsNull[i] = el.IsNull
	}
	return tup, true, nil
}

// End releases the scan's resources.
func (s *TableScan) End() {
	s.metaScan.End()
}
