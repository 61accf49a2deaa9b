// Benchmark tool for load testing a running Mediary server.
//
// Usage:
//
//	go run cmd/benchmark/main.go -url http://localhost:8080 -entity Contact -count 10000
//
// This tool:
//  1. Creates records through POST /entities/{type}
//  2. Mixes in reads, partial updates and deletes at configurable ratios
//  3. Reports throughput, error counts and latency percentiles per operation
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// opStats accumulates per-operation results.
type opStats struct {
	count     atomic.Int64
	errors    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (s *opStats) record(d time.Duration, ok bool) {
	s.count.Add(1)
	if !ok {
		s.errors.Add(1)
		return
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *opStats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Mediary base URL")
	entity := flag.String("entity", "Contact", "Entity type to exercise")
	count := flag.Int("count", 10000, "Number of records to create")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	readRatio := flag.Int("reads", 3, "Reads issued per created record")
	updateRatio := flag.Int("updates", 1, "Partial updates issued per created record")
	deletePct := flag.Int("delete-pct", 20, "Percentage of created records deleted at the end")
	userID := flag.String("user", "benchmark", "Value for the X-User-ID header")
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	stats := map[string]*opStats{
		"create": {},
		"get":    {},
		"update": {},
		"delete": {},
	}

	fmt.Printf("Benchmarking %s at %s: %d records, %d workers\n\n", *entity, *baseURL, *count, *workers)

	ids := make([]string, *count)
	for i := range ids {
		ids[i] = uuid.New().String()
	}

	start := time.Now()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for i := range jobs {
				id := ids[i]

				body := map[string]any{
					"ID":    id,
					"Name":  fmt.Sprintf("Load Subject %d", i),
					"Email": fmt.Sprintf("subject-%d@bench.local", i),
					"Age":   18 + rng.Intn(60),
				}
				do(client, stats["create"], http.MethodPost,
					fmt.Sprintf("%s/entities/%s/", *baseURL, *entity), *userID, body)

				for r := 0; r < *readRatio; r++ {
					do(client, stats["get"], http.MethodGet,
						fmt.Sprintf("%s/entities/%s/%s", *baseURL, *entity, id), *userID, nil)
				}

				for u := 0; u < *updateRatio; u++ {
					do(client, stats["update"], http.MethodPatch,
						fmt.Sprintf("%s/entities/%s/%s", *baseURL, *entity, id), *userID,
						map[string]any{"Age": 18 + rng.Intn(60)})
				}

				if rng.Intn(100) < *deletePct {
					do(client, stats["delete"], http.MethodDelete,
						fmt.Sprintf("%s/entities/%s/%s", *baseURL, *entity, id), *userID, nil)
				}
			}
		}()
	}

	for i := 0; i < *count; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)

	var total, failed int64
	for _, s := range stats {
		total += s.count.Load()
		failed += s.errors.Load()
	}

	fmt.Printf("Finished in %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Requests:   %d (%.0f/s)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("Errors:     %d\n\n", failed)

	fmt.Printf("%-8s %10s %10s %12s %12s %12s\n", "op", "count", "errors", "p50", "p95", "p99")
	for _, name := range []string{"create", "get", "update", "delete"} {
		s := stats[name]
		fmt.Printf("%-8s %10d %10d %12s %12s %12s\n",
			name, s.count.Load(), s.errors.Load(),
			s.percentile(0.50).Round(time.Microsecond),
			s.percentile(0.95).Round(time.Microsecond),
			s.percentile(0.99).Round(time.Microsecond),
		)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func do(client *http.Client, stats *opStats, method, url, userID string, body any) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			stats.record(0, false)
			return
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		stats.record(0, false)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		stats.record(0, false)
		return
	}
	resp.Body.Close()

	stats.record(time.Since(start), resp.StatusCode < 400)
}
