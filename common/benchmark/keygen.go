// Package benchmark runs configurable read/write workloads against a
// zedstore table and reports throughput, latency, and size metrics,
// generalized from the teacher's multi-engine comparison harness down to
// the one engine this module implements (spec's Supplemented features).
package benchmark

import (
	"fmt"
	"math"
	mrand "math/rand"
	"sync/atomic"
)

// RowDistribution defines how previously-inserted rows are revisited by
// the read side of a workload.
type RowDistribution string

const (
	DistUniform    RowDistribution = "uniform"
	DistZipfian    RowDistribution = "zipfian"
	DistSequential RowDistribution = "sequential"
	DistLatest     RowDistribution = "latest"
)

// RowPicker chooses an index into the set of rows inserted so far,
// according to a RowDistribution. Indices are later mapped to TIDs by the
// caller (zedstore assigns TIDs itself; the picker only knows insertion
// order).
type RowPicker struct {
	distribution RowDistribution
	rng          *mrand.Rand
	zipf         *mrand.Zipf
	seqCounter   atomic.Int64
}

// NewRowPicker builds a picker over a population that will grow to at most
// maxRows entries.
func NewRowPicker(distribution RowDistribution, maxRows int, seed int64) *RowPicker {
	rng := mrand.New(mrand.NewSource(seed))
	rp := &RowPicker{distribution: distribution, rng: rng}
	if distribution == DistZipfian && maxRows > 1 {
		rp.zipf = mrand.NewZipf(rng, 1.1, 1, uint64(maxRows-1))
	}
	return rp
}

// Next returns an index in [0, populationSize) biased by distribution.
// populationSize must be > 0.
func (rp *RowPicker) Next(populationSize int) int {
	switch rp.distribution {
	case DistZipfian:
		if rp.zipf == nil {
			return rp.rng.Intn(populationSize)
		}
		n := int(rp.zipf.Uint64())
		if n >= populationSize {
			n = populationSize - 1
		}
		return n
	case DistSequential:
		return int(rp.seqCounter.Add(1)-1) % populationSize
	case DistLatest:
		window := populationSize / 10
		if window < 1 {
			window = 1
		}
		offset := int(math.Abs(rp.rng.NormFloat64()) * float64(window))
		idx := populationSize - 1 - offset
		if idx < 0 {
			idx = 0
		}
		return idx
	default: // DistUniform
		return rp.rng.Intn(populationSize)
	}
}

// RandomText returns a deterministic pseudo-random string of length n,
// used to fill the text attribute in generated rows.
func RandomText(rng *mrand.Rand, n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}

// FormatSeqText renders a deterministic, index-derived string, used so
// sequential/preload workloads produce reproducible row contents.
func FormatSeqText(n int) string {
	return fmt.Sprintf("row-%010d", n)
}
