package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
)

type BenchmarkResult struct {
	Name          string
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	P99Latency    time.Duration
	MaxLatency    time.Duration
}

// client issues bucket API calls against one daemon.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func main() {
	app := &cli.App{
		Name:  "bucketbench",
		Usage: "load generator for the bucketdb HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "daemon base URL"},
			&cli.IntFlag{Name: "ops", Value: 1000, Usage: "operations per test"},
			&cli.IntFlag{Name: "concurrency", Value: 10, Usage: "parallel workers"},
			&cli.UintFlag{Name: "bits", Value: 16, Usage: "depth of generated buckets"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "per request timeout"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bucketbench:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	bits := c.Uint("bits")
	if bits > bucket.MaxUsedBits {
		return fmt.Errorf("bits %d exceeds %d", bits, bucket.MaxUsedBits)
	}
	ops, concurrency := c.Int("ops"), c.Int("concurrency")
	if ops <= 0 || concurrency <= 0 {
		return errors.New("ops and concurrency must be positive")
	}

	cl := newClient(c.String("url"), c.Duration("timeout"))
	if err := cl.health(); err != nil {
		return fmt.Errorf("%s is not available: %w", cl.baseURL, err)
	}

	ids := make([]bucket.ID, ops)
	for i := range ids {
		ids[i] = bucket.New(uint8(bits), rand.Uint64())
	}

	results := runSuite(cl, ids, concurrency)
	printResults(os.Stdout, results)
	return nil
}

// runSuite writes ids sequentially and in parallel, then reads and queries
// them back.
func runSuite(cl *client, ids []bucket.ID, concurrency int) []BenchmarkResult {
	put := func(b bucket.ID) error {
		return cl.put(b, bucketdb.ReplicaInfo{Node: uint16(b.RawID() % 16), Trusted: true, Active: true, Ready: true})
	}
	return []BenchmarkResult{
		benchmark("sequential put", ids, 1, put),
		benchmark("concurrent put", ids, concurrency, put),
		benchmark("concurrent get", ids, concurrency, cl.get),
		benchmark("concurrent parents", ids, concurrency, cl.parents),
		benchmark("concurrent appropriate", ids, concurrency, cl.appropriate),
	}
}

// benchmark spreads ids over concurrency workers and calls op once per id.
func benchmark(name string, ids []bucket.ID, concurrency int, op func(bucket.ID) error) BenchmarkResult {
	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex

	successful := 0
	failed := 0
	latencies := make([]time.Duration, 0, len(ids))

	next := make(chan bucket.ID)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range next {
				opStart := time.Now()
				err := op(b)
				latency := time.Since(opStart)

				mu.Lock()
				if err == nil {
					successful++
				} else {
					failed++
				}
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}()
	}
	for _, b := range ids {
		next <- b
	}
	close(next)
	wg.Wait()

	return summarize(name, latencies, successful, time.Since(start))
}

func summarize(name string, latencies []time.Duration, successful int, duration time.Duration) BenchmarkResult {
	res := BenchmarkResult{
		Name:          name,
		TotalOps:      len(latencies),
		SuccessfulOps: successful,
		FailedOps:     len(latencies) - successful,
		Duration:      duration,
	}
	if duration > 0 {
		res.OpsPerSec = float64(successful) / duration.Seconds()
	}
	if len(latencies) == 0 {
		return res
	}

	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum time.Duration
	for _, lat := range sorted {
		sum += lat
	}
	res.AvgLatency = sum / time.Duration(len(sorted))
	res.MinLatency = sorted[0]
	res.MaxLatency = sorted[len(sorted)-1]
	res.P99Latency = sorted[(len(sorted)-1)*99/100]
	return res
}

func printResults(w io.Writer, results []BenchmarkResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"TEST", "OPS", "FAILED", "DURATION", "OPS/SEC", "AVG", "MIN", "P99", "MAX"})
	for _, r := range results {
		table.Append([]string{
			r.Name,
			strconv.Itoa(r.TotalOps),
			strconv.Itoa(r.FailedOps),
			r.Duration.Round(time.Millisecond).String(),
			strconv.FormatFloat(r.OpsPerSec, 'f', 2, 64),
			r.AvgLatency.String(),
			r.MinLatency.String(),
			r.P99Latency.String(),
			r.MaxLatency.String(),
		})
	}
	table.Render()
}

func (cl *client) health() error {
	return cl.do(http.MethodGet, "/health", nil)
}

func (cl *client) put(b bucket.ID, replicas ...bucketdb.ReplicaInfo) error {
	body, err := json.Marshal(bucketdb.BucketInfo{Replicas: replicas})
	if err != nil {
		return err
	}
	return cl.do(http.MethodPut, bucketPath(b), body)
}

func (cl *client) get(b bucket.ID) error {
	return cl.do(http.MethodGet, bucketPath(b), nil)
}

func (cl *client) parents(b bucket.ID) error {
	return cl.do(http.MethodGet, bucketPath(b)+"/parents", nil)
}

func (cl *client) appropriate(b bucket.ID) error {
	body, err := json.Marshal(map[string]any{"id": b})
	if err != nil {
		return err
	}
	return cl.do(http.MethodPost, "/api/buckets/appropriate", body)
}

func bucketPath(b bucket.ID) string {
	return fmt.Sprintf("/api/buckets/%d:0x%x", b.UsedBits(), b.RawID())
}

func (cl *client) do(method, path string, body []byte) error {
	req, err := http.NewRequest(method, cl.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cl.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Читаем тело ответа для очистки
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status: %d", method, path, resp.StatusCode)
	}
	return nil
}
