package zedstore

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zedstore/zedstore/common"
)

// SplitRange hands the TID space [start, end) out to an errgroup of workers,
// each scanning its own disjoint sub-range under snapshot. It satisfies the
// range-handoff contract a parallel-scan coordinator expects from the core
// (spec §1, §5): the core exposes independent, restartable range scans and
// leaves scheduling to the caller rather than scheduling workers itself.
//
// end == common.InvalidTID means "scan to the end of the table": end is
// taken as GetLastTID()+1 at the time of the call, so rows inserted later
// are not visited. numWorkers <= 1 runs the whole range in a single
// errgroup worker.
func (t *Table) SplitRange(ctx context.Context, start, end common.TID, numWorkers int, snapshot common.Snapshot, visit func(Tuple) error) error {
	if numWorkers < 1 {
		numWorkers = 1
	}

	if end == common.InvalidTID {
		last, err := t.GetLastTID()
		if err != nil {
			return err
		}
		if last == common.InvalidTID {
			return nil
		}
		end = last + 1
	}
	if start >= end {
		return nil
	}

	span := uint64(end-start+common.TID(numWorkers)-1) / uint64(numWorkers)
	if span == 0 {
		span = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < numWorkers; w++ {
		wStart := start + common.TID(uint64(w)*span)
		if wStart >= end {
			break
		}
		wEnd := wStart + common.TID(span)
		if wEnd > end {
			wEnd = end
		}

		g.Go(func() error {
			scan, err := t.ScanBegin(wStart, wEnd, snapshot)
			if err != nil {
				return err
			}
			defer scan.End()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				tup, ok, err := scan.Next()
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
				if err := visit(tup); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
