package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/marcbinz/hlkv/engine"
	"github.com/marcbinz/hlkv/kv/fixed"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "benchmark Upsert/Read/RMW/Delete against an in-memory engine",
		PreRunE: bindEngineFlags,
		RunE:    runBench,
	}
	benchSkip = make([]string, 0)
)

func init() {
	benchCmd.Flags().Int("threads", 10, "number of goroutines driving the benchmark in parallel")
	benchCmd.Flags().Int("keys", 1000, "number of distinct keys to cycle through")
	benchCmd.Flags().String("skip", "", "comma-separated benchmarks to skip (upsert,read,rmw,delete,mixed)")
	benchCmd.Flags().String("csv", "", "optional path to save benchmark results as CSV")
}

func runBench(cmd *cobra.Command, args []string) error {
	threads := viper.GetInt("threads")
	numKeys := uint64(viper.GetInt("keys"))
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	geo := geometryFromFlags()
	e, err := engine.Open(engine.Options[fixed.Key, *fixed.Value]{
		HashBucketCount: geo.buckets,
		LogByteCapacity: geo.logCapacity,
		PageSize:        geo.pageSize,
		MutableFraction: geo.mutableFraction,
		DecodeKey:       fixed.DecodeKey,
		DecodeValue:     fixed.DecodeValue,
	})
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Println("hlkvd bench")
	fmt.Printf("buckets=%d logCapacity=%d pageSize=%d threads=%d keys=%d\n\n", geo.buckets, geo.logCapacity, geo.pageSize, threads, numKeys)

	results := make(map[string]testing.BenchmarkResult)

	results["upsert"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkipBench("upsert") {
			return
		}
		b.SetParallelism(threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			s := e.OpenSession()
			defer e.CloseSession(s)
			var counter uint64
			for pb.Next() {
				k := fixed.Key(counter % numKeys)
				if _, err := e.Upsert(s, &upsertCtx{key: k, value: valueOf(int64(counter))}, 0); err != nil {
					fmt.Fprintf(os.Stderr, "(upsert) error: %v\n", err)
				}
				counter++
			}
		})
	})
	printBenchResult("upsert", results["upsert"])

	results["read"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkipBench("read") {
			return
		}
		seedKeys(e, numKeys)
		b.SetParallelism(threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			s := e.OpenSession()
			defer e.CloseSession(s)
			var counter uint64
			for pb.Next() {
				ctx := &readCtx{key: fixed.Key(counter % numKeys)}
				if _, err := e.Read(s, ctx, 0); err != nil {
					fmt.Fprintf(os.Stderr, "(read) error: %v\n", err)
				}
				counter++
			}
		})
	})
	printBenchResult("read", results["read"])

	results["rmw"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkipBench("rmw") {
			return
		}
		seedKeys(e, numKeys)
		b.SetParallelism(threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			s := e.OpenSession()
			defer e.CloseSession(s)
			var counter uint64
			for pb.Next() {
				ctx := &rmwCtx{key: fixed.Key(counter % numKeys), delta: 1}
				if _, err := e.RMW(s, ctx, 0); err != nil {
					fmt.Fprintf(os.Stderr, "(rmw) error: %v\n", err)
				}
				counter++
			}
		})
	})
	printBenchResult("rmw", results["rmw"])

	results["delete"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkipBench("delete") {
			return
		}
		seedKeys(e, numKeys)
		b.SetParallelism(threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			s := e.OpenSession()
			defer e.CloseSession(s)
			var counter uint64
			for pb.Next() {
				ctx := &deleteCtx{key: fixed.Key(counter % numKeys)}
				if _, err := e.Delete(s, ctx, 0); err != nil {
					fmt.Fprintf(os.Stderr, "(delete) error: %v\n", err)
				}
				counter++
			}
		})
	})
	printBenchResult("delete", results["delete"])

	results["mixed"] = testing.Benchmark(func(b *testing.B) {
		if shouldSkipBench("mixed") {
			return
		}
		seedKeys(e, numKeys)
		b.SetParallelism(threads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			s := e.OpenSession()
			defer e.CloseSession(s)
			var counter uint64
			for pb.Next() {
				k := fixed.Key(counter % numKeys)
				var err error
				switch counter % 3 {
				case 0:
					_, err = e.Upsert(s, &upsertCtx{key: k, value: valueOf(int64(counter))}, 0)
				case 1:
					_, err = e.Read(s, &readCtx{key: k}, 0)
				case 2:
					_, err = e.RMW(s, &rmwCtx{key: k, delta: 1}, 0)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "(mixed) error: %v\n", err)
				}
				counter++
			}
		})
	})
	printBenchResult("mixed", results["mixed"])

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nexporting results to CSV: %s\n", csvPath)
		if err := writeBenchCSV(csvPath, results, threads, numKeys); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("export complete")
	}

	return nil
}

func seedKeys(e *engine.Engine[fixed.Key, *fixed.Value], numKeys uint64) {
	s := e.OpenSession()
	defer e.CloseSession(s)
	for i := uint64(0); i < numKeys; i++ {
		_, _ = e.Upsert(s, &upsertCtx{key: fixed.Key(i), value: valueOf(int64(i))}, 0)
	}
}

func shouldSkipBench(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func printBenchResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-10sskipped\n", test)
		return
	}
	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	fmt.Printf("%-10s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

func writeBenchCSV(path string, results map[string]testing.BenchmarkResult, threads int, numKeys uint64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write([]string{"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped", "Threads", "Keys"}); err != nil {
		return err
	}
	for test, result := range results {
		skipped := "false"
		nsPerOp, opsPerSec := math.Max(float64(result.NsPerOp()), 1), 0.0
		if result.NsPerOp() == 0 {
			skipped, nsPerOp = "true", 0
		} else {
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.Itoa(threads),
			strconv.FormatUint(numKeys, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
