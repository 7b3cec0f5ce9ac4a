// Command zedstore-benchmark drives read/write workloads against a
// throwaway zedstore table and reports throughput and latency.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zedstore/zedstore/common/benchmark"
	"github.com/zedstore/zedstore/internal/item"
	"github.com/zedstore/zedstore/zedstore"
)

func main() {
	var quick bool
	var workload string
	var duration time.Duration
	var concurrency int

	root := &cobra.Command{
		Use:   "zedstore-benchmark",
		Short: "Run throughput/latency workloads against a zedstore table",
		RunE: func(cmd *cobra.Command, args []string) error {
			configs := benchmark.StandardWorkloads()
			if quick {
				configs = benchmark.QuickWorkloads()
			}
			if cmd.Flags().Changed("duration") {
				for i := range configs {
					configs[i].Duration = duration
				}
			}
			if cmd.Flags().Changed("concurrency") {
				for i := range configs {
					configs[i].Concurrency = concurrency
				}
			}
			if workload != "all" {
				filtered := make([]benchmark.Config, 0, len(configs))
				for _, c := range configs {
					if c.Name == workload {
						filtered = append(filtered, c)
					}
				}
				if len(filtered) == 0 {
					return fmt.Errorf("unknown workload %q", workload)
				}
				configs = filtered
			}
			return runBenchmarks(configs)
		},
	}
	root.Flags().BoolVar(&quick, "quick", false, "run shorter workloads")
	root.Flags().StringVar(&workload, "workload", "all", "workload name, or \"all\"")
	root.Flags().DurationVar(&duration, "duration", 20*time.Second, "override each workload's duration")
	root.Flags().IntVar(&concurrency, "concurrency", 8, "override each workload's concurrency")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runBenchmarks(configs []benchmark.Config) error {
	dir, err := os.MkdirTemp("", "zedstore-benchmark-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	tbl, err := zedstore.Open(zedstore.Config{
		DataPath:  dir + "/data",
		UndoPath:  dir + "/undo",
		CacheSize: 4096,
		Attrs: []item.AttrDesc{
			{Len: 4, ByVal: true},
			{Len: -1},
		},
		Log: zerolog.Nop(),
	})
	if err != nil {
		return fmt.Errorf("open table: %w", err)
	}
	defer tbl.Close()

	results := benchmark.RunSuite(tbl, configs)
	benchmark.PrintSummaryTable(results)
	return nil
}
