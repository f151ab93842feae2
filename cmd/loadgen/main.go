// Load generator for exercising a running Kestrel instance.
//
// Usage:
//
//	go run cmd/loadgen/main.go -url http://localhost:8080 -n 5000 -workers 10
//
// Generates synthetic payout submissions across a pool of customers and
// devices, then reports outcome counts (queued/held/rejected), error rates
// and throughput. A small pool with many submissions drives entities into
// velocity violations, which is the interesting regime to observe.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Submission mirrors the POST /payouts request body.
type Submission struct {
	Amount      float64     `json:"amount"`
	Currency    string      `json:"currency"`
	Priority    string      `json:"priority"`
	Destination Destination `json:"destination"`
	Facets      Facets      `json:"facets"`
}

type Destination struct {
	Method  string `json:"method"`
	Account string `json:"account"`
}

type Facets struct {
	CustomerID        string `json:"customerId,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	NetworkAddress    string `json:"networkAddress,omitempty"`
}

// Result mirrors the response fields the generator cares about.
type Result struct {
	PayoutID string `json:"payoutId"`
	Status   string `json:"status"`
	Risk     struct {
		Score float64 `json:"score"`
		Tier  string  `json:"tier"`
	} `json:"risk"`
}

// Tally accumulates outcome counts across workers.
type Tally struct {
	Queued   int64
	Held     int64
	Rejected int64
	Errors   int64

	TotalLatencyMs int64
	ScoreSum       uint64 // score * 100, accumulated atomically
}

var priorities = []string{"low", "medium", "medium", "high", "urgent"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	total := flag.Int("n", 1000, "Number of submissions")
	workers := flag.Int("workers", 10, "Concurrent workers")
	customers := flag.Int("customers", 50, "Customer pool size")
	devices := flag.Int("devices", 30, "Device pool size")
	maxAmount := flag.Float64("max-amount", 200, "Maximum submission amount")
	seed := flag.Int64("seed", 0, "Random seed (0 = time-based)")
	verbose := flag.Bool("verbose", false, "Print each result")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}

	fmt.Printf("Kestrel URL:   %s\n", *baseURL)
	fmt.Printf("Submissions:   %d\n", *total)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Customer pool: %d\n", *customers)
	fmt.Printf("Device pool:   %d\n", *devices)
	fmt.Printf("Seed:          %d\n", *seed)
	fmt.Println()

	tally := &Tally{}
	work := make(chan Submission, 100)
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			for sub := range work {
				submit(client, *baseURL, sub, tally, *verbose)
			}
		}()
	}

	rng := rand.New(rand.NewSource(*seed))
	for i := 0; i < *total; i++ {
		work <- Submission{
			Amount:   1 + rng.Float64()*(*maxAmount-1),
			Currency: "USD",
			Priority: priorities[rng.Intn(len(priorities))],
			Destination: Destination{
				Method:  "wallet",
				Account: fmt.Sprintf("acct-%d", rng.Intn(*customers)),
			},
			Facets: Facets{
				CustomerID:        fmt.Sprintf("cust-%d", rng.Intn(*customers)),
				DeviceFingerprint: fmt.Sprintf("dev-%d", rng.Intn(*devices)),
				NetworkAddress:    fmt.Sprintf("10.0.%d.%d", rng.Intn(8), rng.Intn(256)),
			},
		}
	}
	close(work)
	wg.Wait()

	printResults(tally, *total, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func submit(client *http.Client, baseURL string, sub Submission, tally *Tally, verbose bool) {
	body, err := json.Marshal(sub)
	if err != nil {
		atomic.AddInt64(&tally.Errors, 1)
		return
	}

	start := time.Now()
	resp, err := client.Post(baseURL+"/payouts", "application/json", bytes.NewReader(body))
	atomic.AddInt64(&tally.TotalLatencyMs, time.Since(start).Milliseconds())
	if err != nil {
		atomic.AddInt64(&tally.Errors, 1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&tally.Errors, 1)
		return
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		atomic.AddInt64(&tally.Errors, 1)
		return
	}

	switch result.Status {
	case "queued":
		atomic.AddInt64(&tally.Queued, 1)
	case "held":
		atomic.AddInt64(&tally.Held, 1)
	case "rejected":
		atomic.AddInt64(&tally.Rejected, 1)
	default:
		atomic.AddInt64(&tally.Errors, 1)
	}
	atomic.AddUint64(&tally.ScoreSum, uint64(result.Risk.Score*100))

	if verbose {
		fmt.Printf("%-8s | %-36s | amount $%7.2f | score %5.1f (%s)\n",
			result.Status,
			result.PayoutID,
			sub.Amount,
			result.Risk.Score,
			result.Risk.Tier,
		)
	}
}

func printResults(t *Tally, total int, duration time.Duration) {
	processed := t.Queued + t.Held + t.Rejected

	fmt.Println("\nRESULTS")
	fmt.Printf("  Queued:    %d\n", t.Queued)
	fmt.Printf("  Held:      %d\n", t.Held)
	fmt.Printf("  Rejected:  %d\n", t.Rejected)
	fmt.Printf("  Errors:    %d\n", t.Errors)

	if processed > 0 {
		fmt.Printf("\n  Rejection rate: %.2f%%\n", 100*float64(t.Rejected)/float64(processed))
		fmt.Printf("  Avg risk score: %.1f\n", float64(t.ScoreSum)/100/float64(processed))
		fmt.Printf("  Avg latency:    %.2f ms\n", float64(t.TotalLatencyMs)/float64(processed))
	}
	fmt.Printf("\n  Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Throughput: %.1f req/sec\n", float64(total)/duration.Seconds())
	fmt.Println()
}
