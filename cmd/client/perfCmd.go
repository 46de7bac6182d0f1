package client

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cmdUtil "github.com/wireline-io/wireline/cmd/util"
	"github.com/wireline-io/wireline/common"
	"github.com/wireline-io/wireline/pool"
)

var (
	perfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for wireline servers",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargePayloadKB = 100
	perfNumThreads     = 10
	perfSkip           = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfCmd.Flags().String(key, "", cmdUtil.WrapString("Benchmarks to skip (comma separated - e.g. roundtrip,ping)"))
	key = "threads"
	perfCmd.Flags().Int(key, 10, cmdUtil.WrapString("Number of threads to use for the benchmark"))
	key = "large-payload-size"
	perfCmd.Flags().Int(key, 100, cmdUtil.WrapString("How large the payload for the roundtrip-large test should be (in KB)"))
	key = "csv"
	perfCmd.Flags().String(key, "", cmdUtil.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargePayloadKB = viper.GetInt("large-payload-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for wireline servers")

	conf := cmdUtil.GetClientConfig()
	common.InitLoggers(conf.LogLevel)

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	connector, err := cmdUtil.GetConnector()
	if err != nil {
		return err
	}
	dial := cmdUtil.NewDialFunc(connector, conf.Endpoint, conf.Pool.Conn)
	p := pool.New(dial, conf.Pool)
	defer p.Close()

	fmt.Println("starting tests...")

	// Throughput meters, one per benchmark
	registry := gometrics.NewRegistry()
	results := make(map[string]testing.BenchmarkResult)

	// roundtrip performs one borrow-send-receive-release cycle against the
	// echo server.
	roundtrip := func(name string, payload []byte) error {
		h, err := p.Acquire()
		if err != nil {
			return fmt.Errorf("acquire: %v", err)
		}
		defer p.Release(h)

		if err := h.Send(payload); err != nil {
			return fmt.Errorf("send: %v", err)
		}
		if _, err := h.Receive(); err != nil {
			return fmt.Errorf("receive: %v", err)
		}
		gometrics.GetOrRegisterMeter(name, registry).Mark(1)
		return nil
	}

	roundtripResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("roundtrip") {
			return
		}

		payload := []byte("benchmark")

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := roundtrip("roundtrip", payload); err != nil {
					log.Printf("(roundtrip) - %v\n", err)
				}
			}
		})
	})

	results["roundtrip"] = roundtripResult
	printResult("roundtrip", roundtripResult, registry)

	roundtripLargeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("roundtrip-large") {
			return
		}

		payload := make([]byte, perfLargePayloadKB*1024)

		b.SetParallelism(perfNumThreads)
		b.SetBytes(int64(len(payload)))
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if err := roundtrip("roundtrip-large", payload); err != nil {
					log.Printf("(roundtrip-large) - %v\n", err)
				}
			}
		})
	})

	results["roundtrip-large"] = roundtripLargeResult
	printResult("roundtrip-large", roundtripLargeResult, registry)

	pingResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("ping") {
			return
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				h, err := p.Acquire()
				if err != nil {
					log.Printf("(ping) - acquire: %v\n", err)
					continue
				}
				if err := h.Ping(5 * time.Second); err != nil {
					log.Printf("(ping) - %v\n", err)
				} else {
					gometrics.GetOrRegisterMeter("ping", registry).Mark(1)
				}
				p.Release(h)
			}
		})
	})

	results["ping"] = pingResult
	printResult("ping", pingResult, registry)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func printResult(name string, result testing.BenchmarkResult, registry gometrics.Registry) {
	if result.N == 0 {
		fmt.Printf("%-16s: skipped\n", name)
		return
	}

	opsPerSec := float64(result.N) / result.T.Seconds()
	fmt.Printf("%-16s: %d ops in %s (%.0f ops/s, %s/op)",
		name, result.N, result.T.Round(time.Millisecond), opsPerSec, time.Duration(result.NsPerOp()))

	if meter := registry.Get(name); meter != nil {
		if m, ok := meter.(gometrics.Meter); ok {
			fmt.Printf(" mean rate %.0f/s", m.RateMean())
		}
	}
	fmt.Println()
}

func writeResultsToCSV(path string, results map[string]testing.BenchmarkResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"benchmark", "ops", "duration_ns", "ns_per_op", "ops_per_sec"}); err != nil {
		return err
	}

	for name, result := range results {
		opsPerSec := 0.0
		if result.T > 0 {
			opsPerSec = float64(result.N) / result.T.Seconds()
		}
		record := []string{
			name,
			strconv.Itoa(result.N),
			strconv.FormatInt(result.T.Nanoseconds(), 10),
			strconv.FormatInt(result.NsPerOp(), 10),
			strconv.FormatFloat(opsPerSec, 'f', 2, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	return nil
}
