package tree

import (
	"encoding/binary"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/internal/page"
)

// downlinkSize is one internal-page entry: {tid:8, child:4} (spec §4.5.2).
const downlinkSize = 8 + 4

func encodeDownlink(tid common.TID, child page.Block) []byte {
	buf := make([]byte, downlinkSize)
	binary.BigEndian.PutUint64(buf, uint64(tid))
	binary.BigEndian.PutUint32(buf[8:], uint32(child))
	return buf
}

func decodeDownlink(raw []byte) (common.TID, page.Block) {
	return common.TID(binary.BigEndian.Uint64(raw)), page.Block(binary.BigEndian.Uint32(raw[8:]))
}

// searchInternal returns the index of the largest entry whose tid <= key,
// in [0, n-1] (spec §4.5.2). The page is assumed non-empty.
func searchInternal(p *page.Page, key common.TID) int {
	lo, hi := 0, p.NumItems()-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		tid, _ := decodeDownlink(p.ItemAt(mid))
		if tid <= key {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// entryAt returns the (tid, child) pair at index i.
func entryAt(p *page.Page, i int) (common.TID, page.Block) {
	return decodeDownlink(p.ItemAt(i))
}
