// Package compress implements the bounded-output block compressor used to
// pack several leaf items into one compressed container (spec §4.3). It
// wraps github.com/klauspost/compress/zstd, grounded in the three pack
// repos that pull that library in for this exact job (Felmond13-novusdb,
// cuemby-warren, transparency-dev-trillian-tessera).
package compress

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/zedstore/zedstore/common"
)

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decOnce sync.Once
	decoder *zstd.Decoder
)

// sharedEncoder/sharedDecoder lazily build package-level codec instances.
// zstd.Encoder/Decoder created without an attached io.Writer/Reader are
// safe for concurrent EncodeAll/DecodeAll calls, so one pair is shared by
// every Codec in the process.
func sharedEncoder() *zstd.Encoder {
	encOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(err) // only fails on invalid options, which are fixed above
		}
		encoder = enc
	})
	return encoder
}

func sharedDecoder() *zstd.Decoder {
	decOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		decoder = dec
	})
	return decoder
}

// Result is the per-item outcome of Codec.Add (spec §4.3).
type Result int

const (
	Fit Result = iota
	Full
)

// Codec packs a run of leaf items into one bounded-size compressed
// container. Add is monotone: once Full is returned, every subsequent Add
// also returns Full. Finish is idempotent.
type Codec struct {
	budget int

	raw      []byte // concatenated raw item bytes added so far
	nItems   int
	full     bool
	firstTID common.TID
	lastTID  common.TID

	finished   bool
	finishItem []byte
	finishOK   bool
}

// Begin starts a new bounded compression batch with the given output
// budget in bytes.
func Begin(budget int) *Codec {
	return &Codec{budget: budget}
}

// Add appends one raw item's encoded bytes to the batch and reports
// whether the batch (speculatively recompressed) still fits the budget.
// tid is the item's TID, used to track the container's covered range.
func (c *Codec) Add(tid, lastTID common.TID, rawItem []byte) Result {
	if c.full {
		return Full
	}
	candidate := append(append([]byte(nil), c.raw...), rawItem...)
	compressed := sharedEncoder().EncodeAll(candidate, nil)
	if len(compressed) > c.budget {
		c.full = true
		return Full
	}
	c.raw = candidate
	c.nItems++
	if c.nItems == 1 {
		c.firstTID = tid
	}
	c.lastTID = lastTID
	return Fit
}

// Finish compresses the accumulated batch and returns the container's
// opaque blob plus whether compression actually helped. If only one item
// was added and compressing it does not shrink it, ok is false and the
// caller should store that item uncompressed instead (spec §4.3).
func (c *Codec) Finish() (blob []byte, firstTID, lastTID common.TID, uncompressedSize int, ok bool) {
	if c.finished {
		return c.finishItem, c.firstTID, c.lastTID, len(c.raw), c.finishOK
	}
	c.finished = true
	if c.nItems == 0 {
		return nil, 0, 0, 0, false
	}
	compressed := sharedEncoder().EncodeAll(c.raw, nil)
	if c.nItems == 1 && len(compressed) >= len(c.raw) {
		c.finishOK = false
		return nil, c.firstTID, c.lastTID, len(c.raw), false
	}
	c.finishItem = compressed
	c.finishOK = true
	return compressed, c.firstTID, c.lastTID, len(c.raw), true
}

// Decompress expands a container's opaque blob back into the concatenated
// raw item bytes produced by Add, for the tree to decode item-by-item
// (spec §4.5.3 step 4).
func Decompress(blob []byte, uncompressedSizeHint int) ([]byte, error) {
	out, err := sharedDecoder().DecodeAll(blob, make([]byte, 0, uncompressedSizeHint))
	if err != nil {
		return nil, err
	}
	return out, nil
}
