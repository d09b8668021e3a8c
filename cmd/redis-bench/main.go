package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coralkv/redis"
	"github.com/coralkv/redis/resp"
)

type operation string

const (
	opSet      operation = "set"
	opGet      operation = "get"
	opIncr     operation = "incr"
	opDelete   operation = "delete"
	opPipeline operation = "pipeline"
	opAll      operation = "all"
)

type result struct {
	Operation    operation
	Duration     time.Duration
	TotalOps     int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
}

func main() {
	var (
		op          = flag.String("operation", "all", "operation: set, get, incr, delete, pipeline, or all")
		duration    = flag.Duration("duration", 5*time.Second, "duration per benchmark")
		concurrency = flag.Int("concurrency", 8, "number of concurrent workers")
		addr        = flag.String("addr", "localhost:6379", "server address")
		configPath  = flag.String("config", "", "optional TOML config file, overrides -addr")
	)
	flag.Parse()

	cfg := redis.DefaultConfig(*addr)
	if *configPath != "" {
		var err error
		cfg, err = redis.ConfigFromFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	cfg.MaxSize = int32(*concurrency)

	client, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Do(ctx, "PING"); err != nil {
		log.Fatalf("Server not reachable at %s: %v", cfg.Addr, err)
	}

	fmt.Printf("Benchmarking %s, %d workers, %v per operation\n\n", cfg.Addr, *concurrency, *duration)

	ops := []operation{operation(*op)}
	if operation(*op) == opAll {
		ops = []operation{opSet, opGet, opIncr, opDelete, opPipeline}
	}

	for _, o := range ops {
		printResult(run(client, o, *duration, *concurrency))
	}

	ps := client.PoolStats()
	fmt.Printf("Pool: created=%d destroyed=%d acquires=%d waits=%d\n",
		ps.CreatedConns, ps.DestroyedConns, ps.AcquireCount, ps.AcquireWaitCount)
}

func run(client *redis.Client, op operation, duration time.Duration, concurrency int) *result {
	ctx := context.Background()

	if op == opGet {
		if _, err := client.Do(ctx, "SET", "bench:get", "value"); err != nil {
			log.Fatalf("Failed to seed key: %v", err)
		}
	}

	var totalOps, failures, totalLatency int64
	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			n := 0
			for time.Since(start) < duration {
				opStart := time.Now()
				err := runOne(ctx, client, op, workerID, n)
				latency := time.Since(opStart)

				atomic.AddInt64(&totalOps, 1)
				atomic.AddInt64(&totalLatency, int64(latency))
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				n++
			}
		}(i)
	}
	wg.Wait()

	res := &result{
		Operation: op,
		Duration:  time.Since(start),
		TotalOps:  totalOps,
		Failures:  failures,
	}
	if totalOps > 0 {
		res.AvgLatency = time.Duration(totalLatency / totalOps)
		res.OpsPerSecond = float64(totalOps) / res.Duration.Seconds()
	}
	return res
}

func runOne(ctx context.Context, client *redis.Client, op operation, workerID, n int) error {
	switch op {
	case opSet:
		_, err := client.Do(ctx, "SET", fmt.Sprintf("bench:set:%d:%d", workerID, n), "value")
		return err
	case opGet:
		_, err := client.Do(ctx, "GET", "bench:get")
		return err
	case opIncr:
		_, err := client.Do(ctx, "INCR", fmt.Sprintf("bench:incr:%d", workerID))
		return err
	case opDelete:
		key := fmt.Sprintf("bench:del:%d:%d", workerID, n)
		if _, err := client.Do(ctx, "SET", key, "value"); err != nil {
			return err
		}
		_, err := client.Do(ctx, "DEL", key)
		return err
	case opPipeline:
		key := fmt.Sprintf("bench:pipe:%d:%d", workerID, n)
		_, err := client.Pipeline(ctx, []resp.Command{
			{Name: "SET", Args: []any{key, "value"}},
			{Name: "GET", Args: []any{key}},
			{Name: "DEL", Args: []any{key}},
		})
		return err
	default:
		return fmt.Errorf("unknown operation: %s", op)
	}
}

func printResult(res *result) {
	fmt.Printf("--- %s ---\n", res.Operation)
	fmt.Printf("Total: %d ops in %v\n", res.TotalOps, res.Duration.Round(time.Millisecond))
	fmt.Printf("Failures: %d\n", res.Failures)
	fmt.Printf("Throughput: %.0f ops/sec\n", res.OpsPerSecond)
	fmt.Printf("Avg latency: %v\n", res.AvgLatency)
	fmt.Println()
}
