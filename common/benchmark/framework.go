package benchmark

import (
	"fmt"
	mrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zedstore/zedstore/common"
	"github.com/zedstore/zedstore/common/testutil"
	"github.com/zedstore/zedstore/zedstore"
)

// WorkloadType defines the read/write mix a Benchmark drives.
type WorkloadType string

const (
	WorkloadWriteHeavy WorkloadType = "write-heavy" // 95% writes
	WorkloadReadHeavy  WorkloadType = "read-heavy"  // 95% reads
	WorkloadBalanced   WorkloadType = "balanced"    // 50/50
	WorkloadReadOnly   WorkloadType = "read-only"   // 100% reads
	WorkloadWriteOnly  WorkloadType = "write-only"  // 100% writes
)

// Config describes one benchmark scenario against a zedstore table with an
// int column and a text column.
type Config struct {
	Name string

	WorkloadType    WorkloadType
	RowDistribution RowDistribution

	TextSize int // bytes of the text attribute

	Duration    time.Duration
	Concurrency int

	PreloadRows int // rows to insert before the measured phase

	// MaxDiskBytes caps the workload's estimated cumulative row bytes; 0
	// means unbounded. Lets a long write-heavy run be capped without tying
	// it to a fixed row count.
	MaxDiskBytes int64

	Seed int64
}

// Result is one Config's measured outcome.
type Result struct {
	Config Config

	TotalOps  int64
	WriteOps  int64
	ReadOps   int64
	Duration  time.Duration
	OpsPerSec float64

	WriteLatency LatencyStats
	ReadLatency  LatencyStats

	TableStats common.Stats
}

// Benchmark drives Config's workload against one open table.
type Benchmark struct {
	table  *zedstore.Table
	config Config

	writeLatencies *LatencyHistogram
	readLatencies  *LatencyHistogram

	writeCount atomic.Int64
	readCount  atomic.Int64
	errorCount atomic.Int64

	rowsInserted atomic.Int64
	xidCounter   atomic.Uint32

	picker  *RowPicker
	limiter *testutil.ResourceLimiter
}

// NewBenchmark builds a Benchmark against an already-open table. The table
// must have exactly two attributes: an int column (attribute 1) and a text
// column (attribute 2).
func NewBenchmark(table *zedstore.Table, config Config) *Benchmark {
	maxDisk := config.MaxDiskBytes
	if maxDisk <= 0 {
		maxDisk = 1 << 62 // effectively unbounded
	}
	return &Benchmark{
		table:          table,
		config:         config,
		writeLatencies: NewLatencyHistogram(),
		readLatencies:  NewLatencyHistogram(),
		picker:         NewRowPicker(config.RowDistribution, config.PreloadRows+1, config.Seed),
		limiter:        testutil.NewResourceLimiter(maxDisk, 1<<62),
	}
}

// Run preloads, warms up, then measures the workload for config.Duration.
func (b *Benchmark) Run() (*Result, error) {
	if b.config.PreloadRows > 0 {
		if err := b.preload(); err != nil {
			return nil, err
		}
	}

	b.runWorkload(2 * time.Second)

	b.writeLatencies = NewLatencyHistogram()
	b.readLatencies = NewLatencyHistogram()
	b.writeCount.Store(0)
	b.readCount.Store(0)
	b.errorCount.Store(0)

	start := time.Now()
	b.runWorkload(b.config.Duration)
	duration := time.Since(start)

	return b.calculateResults(duration), nil
}

func (b *Benchmark) preload() error {
	rng := mrand.New(mrand.NewSource(b.config.Seed))
	for i := 0; i < b.config.PreloadRows; i++ {
		if err := b.insertRow(i, rng); err != nil {
			return fmt.Errorf("preload row %d: %w", i, err)
		}
	}
	return b.table.Sync()
}

func (b *Benchmark) insertRow(n int, rng *mrand.Rand) error {
	text := FormatSeqText(n)
	if b.config.TextSize > len(text) {
		text += RandomText(rng, b.config.TextSize-len(text))
	}
	rowBytes := int64(4 + len(text))
	if err := b.limiter.AllocDisk(rowBytes); err != nil {
		return err
	}

	xid := common.Xid(b.xidCounter.Add(1))
	row := zedstore.Row{
		Datums: [][]byte{intDatum(uint32(n)), []byte(text)},
		IsNull: []bool{false, false},
	}
	_, err := b.table.MultiInsert(xid, 1, []zedstore.Row{row})
	if err != nil {
		b.limiter.FreeDisk(rowBytes)
		return err
	}
	b.rowsInserted.Add(1)
	return nil
}

func intDatum(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (b *Benchmark) runWorkload(duration time.Duration) {
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < b.config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			b.worker(workerID, stop)
		}(i)
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()
}

func (b *Benchmark) worker(id int, stop <-chan struct{}) {
	rng := mrand.New(mrand.NewSource(b.config.Seed + int64(id) + 1))
	for {
		select {
		case <-stop:
			return
		default:
			if b.shouldWrite() {
				b.doWrite(rng)
			} else {
				b.doRead()
			}
		}
	}
}

func (b *Benchmark) shouldWrite() bool {
	switch b.config.WorkloadType {
	case WorkloadWriteOnly:
		return true
	case WorkloadReadOnly:
		return false
	case WorkloadWriteHeavy:
		return mrand.Float64() < 0.95
	case WorkloadReadHeavy:
		return mrand.Float64() < 0.05
	default:
		return mrand.Float64() < 0.50
	}
}

func (b *Benchmark) doWrite(rng *mrand.Rand) {
	n := int(b.rowsInserted.Load())
	start := time.Now()
	err := b.insertRow(n, rng)
	latency := time.Since(start)
	if err != nil {
		b.errorCount.Add(1)
		return
	}
	b.writeLatencies.Record(latency)
	b.writeCount.Add(1)
}

func (b *Benchmark) doRead() {
	population := int(b.rowsInserted.Load())
	if population == 0 {
		return
	}
	idx := b.picker.Next(population)
	tid := common.MinTID + common.TID(idx)

	start := time.Now()
	scan, err := b.table.ScanBegin(tid, tid+1, common.Snapshot{Kind: common.SnapshotAny})
	if err != nil {
		b.errorCount.Add(1)
		return
	}
	_, _, err = scan.Next()
	scan.End()
	latency := time.Since(start)
	if err != nil {
		b.errorCount.Add(1)
		return
	}
	b.readLatencies.Record(latency)
	b.readCount.Add(1)
}

func (b *Benchmark) calculateResults(duration time.Duration) *Result {
	writeOps := b.writeCount.Load()
	readOps := b.readCount.Load()
	totalOps := writeOps + readOps

	return &Result{
		Config:    b.config,
		TotalOps:  totalOps,
		WriteOps:  writeOps,
		ReadOps:   readOps,
		Duration:  duration,
		OpsPerSec: float64(totalOps) / duration.Seconds(),

		WriteLatency: b.writeLatencies.Stats(),
		ReadLatency:  b.readLatencies.Stats(),
		TableStats:   b.table.Stats(),
	}
}
