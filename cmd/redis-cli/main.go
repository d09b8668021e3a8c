package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coralkv/redis"
	"github.com/coralkv/redis/resp"
)

func main() {
	var (
		addr       = flag.String("addr", "localhost:6379", "server address (host:port or unix socket path)")
		configPath = flag.String("config", "", "optional TOML config file, overrides -addr")
	)
	flag.Parse()

	cfg := redis.DefaultConfig(*addr)
	if *configPath != "" {
		var err error
		cfg, err = redis.ConfigFromFile(*configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	client, err := redis.NewClient(cfg)
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Printf("Connected to %s. Type a command, 'stats', or 'quit'.\n", cfg.Addr)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(parts) == 0 {
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "quit", "exit":
			return
		case "stats":
			printStats(client)
			continue
		}

		args := make([]any, len(parts)-1)
		for i, p := range parts[1:] {
			args[i] = p
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		v, err := client.Do(ctx, parts[0], args...)
		duration := time.Since(start)
		cancel()

		if err != nil {
			fmt.Printf("(error) %v (took %v)\n", err, duration)
			continue
		}
		printValue(v, 0)
		fmt.Printf("(took %v)\n", duration)
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func printValue(v resp.Value, indent int) {
	pad := strings.Repeat("  ", indent)

	switch {
	case v.Null:
		fmt.Printf("%s(nil)\n", pad)
	case v.Type == resp.TypeInteger:
		fmt.Printf("%s(integer) %d\n", pad, v.Int)
	case v.Type == resp.TypeDouble:
		fmt.Printf("%s(double) %v\n", pad, v.Float)
	case v.Type == resp.TypeBoolean:
		fmt.Printf("%s(boolean) %t\n", pad, v.Bool)
	case v.Type == resp.TypeBigNumber:
		fmt.Printf("%s(big number) %s\n", pad, v.BigInt().String())
	case v.Type == resp.TypeMap:
		for _, pair := range v.Pairs {
			fmt.Printf("%s%s =>\n", pad, pair.Key.Text())
			printValue(pair.Value, indent+1)
		}
	case len(v.Elems) > 0 || v.Type == resp.TypeArray || v.Type == resp.TypeSet:
		for i, e := range v.Elems {
			fmt.Printf("%s%d)\n", pad, i+1)
			printValue(e, indent+1)
		}
	default:
		fmt.Printf("%s%q\n", pad, v.Text())
	}
}

func printStats(client *redis.Client) {
	cs := client.Stats()
	ps := client.PoolStats()

	fmt.Println("Client:")
	fmt.Printf("  Calls: %d\n", cs.Calls)
	fmt.Printf("  Pipelines: %d\n", cs.Pipelines)
	fmt.Printf("  Cache Hits: %d\n", cs.CacheHits)
	fmt.Printf("  Cache Misses: %d\n", cs.CacheMisses)
	fmt.Printf("  Errors: %d\n", cs.Errors)
	fmt.Println("Pool:")
	fmt.Printf("  Active: %d\n", ps.ActiveConns)
	fmt.Printf("  Idle: %d\n", ps.IdleConns)
	fmt.Printf("  Created: %d\n", ps.CreatedConns)
	fmt.Printf("  Destroyed: %d\n", ps.DestroyedConns)
	fmt.Printf("  Breaker: %s\n", client.BreakerState())
}
