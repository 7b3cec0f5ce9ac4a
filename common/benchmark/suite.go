package benchmark

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/zedstore/zedstore/zedstore"
)

// StandardWorkloads returns the default set of scenarios run by
// `zedstore-benchmark` (without --quick).
func StandardWorkloads() []Config {
	return []Config{
		{Name: "write-heavy-uniform", WorkloadType: WorkloadWriteHeavy, RowDistribution: DistUniform, TextSize: 100, Duration: 20 * time.Second, Concurrency: 8, PreloadRows: 20000, Seed: 12345},
		{Name: "read-heavy-zipfian", WorkloadType: WorkloadReadHeavy, RowDistribution: DistZipfian, TextSize: 100, Duration: 20 * time.Second, Concurrency: 8, PreloadRows: 50000, Seed: 12345},
		{Name: "balanced-uniform", WorkloadType: WorkloadBalanced, RowDistribution: DistUniform, TextSize: 100, Duration: 20 * time.Second, Concurrency: 8, PreloadRows: 20000, Seed: 12345},
		{Name: "write-only-sequential", WorkloadType: WorkloadWriteOnly, RowDistribution: DistSequential, TextSize: 1000, Duration: 10 * time.Second, Concurrency: 1, PreloadRows: 0, Seed: 12345},
	}
}

// QuickWorkloads is a faster variant of StandardWorkloads for interactive use.
func QuickWorkloads() []Config {
	out := StandardWorkloads()
	for i := range out {
		out[i].Duration = 3 * time.Second
		out[i].PreloadRows /= 10
	}
	return out
}

// RunSuite runs every config in configs against table, in sequence, and
// returns the per-workload results.
func RunSuite(table *zedstore.Table, configs []Config) []*Result {
	results := make([]*Result, 0, len(configs))
	for _, cfg := range configs {
		fmt.Printf("\n=== Running: %s ===\n", cfg.Name)
		bench := NewBenchmark(table, cfg)
		result, err := bench.Run()
		if err != nil {
			fmt.Printf("benchmark %q failed: %v\n", cfg.Name, err)
			continue
		}
		results = append(results, result)
		printResult(result)
	}
	return results
}

func printResult(r *Result) {
	fmt.Printf("Throughput: %.0f ops/sec (writes: %d, reads: %d)\n", r.OpsPerSec, r.WriteOps, r.ReadOps)
	if r.WriteOps > 0 {
		fmt.Printf("  write p50=%s p99=%s\n", r.WriteLatency.P50, r.WriteLatency.P99)
	}
	if r.ReadOps > 0 {
		fmt.Printf("  read  p50=%s p99=%s\n", r.ReadLatency.P50, r.ReadLatency.P99)
	}
	fmt.Printf("  table pages: %d\n", r.TableStats.NumPages)
}

// PrintSummaryTable renders a tab-aligned overview of results, one row per
// workload.
func PrintSummaryTable(results []*Result) {
	if len(results) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nWorkload\tThroughput\tWrite P99\tRead P99\tPages")
	for _, r := range results {
		writeP99, readP99 := "N/A", "N/A"
		if r.WriteOps > 0 {
			writeP99 = r.WriteLatency.P99.String()
		}
		if r.ReadOps > 0 {
			readP99 = r.ReadLatency.P99.String()
		}
		fmt.Fprintf(w, "%s\t%.0f/s\t%s\t%s\t%d\n", r.Config.Name, r.OpsPerSec, writeP99, readP99, r.TableStats.NumPages)
	}
	w.Flush()
}
