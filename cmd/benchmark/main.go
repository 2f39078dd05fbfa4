// Command benchmark drives the engine through configurable write/read
// workloads and reports throughput, latency, and segment counts.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dataplane-kv/lsmtree/common"
	"github.com/dataplane-kv/lsmtree/common/benchmark"
	"github.com/dataplane-kv/lsmtree/lsm"
	"go.uber.org/zap"
)

func main() {
	quick := flag.Bool("quick", false, "Run quick benchmarks (shorter duration)")
	workload := flag.String("workload", "all", "Workload to run (all, or a specific workload name)")
	duration := flag.Duration("duration", 60*time.Second, "Duration for each benchmark")
	concurrency := flag.Int("concurrency", 8, "Number of concurrent workers")
	flag.Parse()

	fmt.Println("LSM Storage Engine Benchmark")
	fmt.Println("============================")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n\n", *concurrency)

	var configs []benchmark.Config
	if *quick {
		configs = benchmark.QuickWorkloads()
	} else {
		configs = benchmark.StandardWorkloads()
	}

	if flag.Lookup("duration").Value.String() != flag.Lookup("duration").DefValue {
		for i := range configs {
			configs[i].Duration = *duration
		}
	}
	if flag.Lookup("concurrency").Value.String() != flag.Lookup("concurrency").DefValue {
		for i := range configs {
			configs[i].Concurrency = *concurrency
		}
	}

	if *workload != "all" {
		filtered := make([]benchmark.Config, 0)
		for _, config := range configs {
			if config.Name == *workload {
				filtered = append(filtered, config)
			}
		}
		if len(filtered) == 0 {
			fmt.Printf("Unknown workload: %s\n", *workload)
			os.Exit(1)
		}
		configs = filtered
	}

	dir, err := os.MkdirTemp("", "lsmtree-benchmark-*")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	engineConfig := lsm.DefaultConfig()
	engineConfig.Dir = dir
	engineConfig.MemtableCapacity = 4096
	engineConfig.Logger = zap.NewNop()

	engine, err := lsm.New(engineConfig)
	if err != nil {
		fmt.Printf("Failed to create engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	adapter := common.NewAdapter(engine)

	suite := benchmark.NewSuite()
	suite.SetWorkloads(configs)
	results := suite.Run(adapter)

	benchmark.PrintSummaryTable(results)
}
