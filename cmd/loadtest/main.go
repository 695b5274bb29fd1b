// Command loadtest drives sustained pain.001 traffic at a running payment
// engine and reports latency percentiles and outcome counts. Submissions go
// through the Go SDK in SYNC mode, so each measured round trip covers the
// whole pipeline: parse, policy, fraud, mapping, clearing and the client
// acknowledgement.
//
// Usage:
//
//	PE_API_KEY=pe_tenant-1.xxx go run ./cmd/loadtest -txns 1000 -concurrency 32
//
// The target engine must have a clearing scheme registered under the name
// passed via -scheme (CLEARING_SCHEMES=RTP=... for the default).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kranthikarthan/PE-sub004/pkg/sdk"
)

// RunConfig holds the load shape.
type RunConfig struct {
	Payments       int
	Concurrency    int
	Scheme         string
	ReportInterval time.Duration
}

// RunStats accumulates outcome counts and latencies across workers.
type RunStats struct {
	Submitted atomic.Uint64
	Emitted   atomic.Uint64
	Fallbacks atomic.Uint64
	Rejected  atomic.Uint64
	Pending   atomic.Uint64
	Errors    atomic.Uint64

	mu         sync.Mutex
	latencies  []time.Duration
	minLatency time.Duration
	maxLatency time.Duration

	TotalDuration       time.Duration
	ThroughputPerSecond float64
}

func (s *RunStats) observe(latency time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	if s.minLatency == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	s.mu.Unlock()
}

func main() {
	payments := flag.Int("txns", 500, "Number of payments to submit")
	concurrency := flag.Int("concurrency", 16, "Number of concurrent workers")
	scheme := flag.String("scheme", "RTP", "Clearing system name to route through")
	reportInterval := flag.Duration("report", 5*time.Second, "Progress reporting interval")
	gateway := flag.String("url", "", "Engine base URL (default PE_GATEWAY_URL or http://localhost:8080)")
	flag.Parse()

	baseURL := *gateway
	if baseURL == "" {
		baseURL = os.Getenv("PE_GATEWAY_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	apiKey := os.Getenv("PE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "❌ PE_API_KEY is required")
		os.Exit(1)
	}

	config := RunConfig{
		Payments:       *payments,
		Concurrency:    *concurrency,
		Scheme:         *scheme,
		ReportInterval: *reportInterval,
	}

	slog.Info("🚀 Starting payment load test", "target", baseURL)
	slog.Info("Load shape", "payments", config.Payments, "concurrency", config.Concurrency, "scheme", config.Scheme)

	client := sdk.NewClient(sdk.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: 90 * time.Second,
	})

	stats := runLoadTest(client, config)
	printResults(stats)
}

func runLoadTest(client *sdk.Client, config RunConfig) *RunStats {
	stats := &RunStats{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportProgress(ctx, stats, config.ReportInterval)

	txnChan := make(chan int, config.Payments)
	var wg sync.WaitGroup

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for txnID := range txnChan {
				submitPayment(ctx, client, config.Scheme, workerID, txnID, stats)
			}
		}(i)
	}

	for i := 0; i < config.Payments; i++ {
		txnChan <- i
	}
	close(txnChan)

	wg.Wait()
	stats.TotalDuration = time.Since(startTime)
	stats.ThroughputPerSecond = float64(stats.Submitted.Load()) / stats.TotalDuration.Seconds()
	return stats
}

func submitPayment(ctx context.Context, client *sdk.Client, scheme string, workerID, txnID int, stats *RunStats) {
	msgID := fmt.Sprintf("LT-%d-%d-%d", workerID, txnID, time.Now().UnixNano())

	start := time.Now()
	outcome, err := client.SubmitPayment(ctx, sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: scheme,
		ResponseMode:   sdk.ModeSync,
		Message:        loadPain001(msgID, workerID, txnID),
	})
	stats.observe(time.Since(start))
	stats.Submitted.Add(1)

	if err != nil {
		stats.Errors.Add(1)
		return
	}
	switch outcome.State {
	case sdk.StateEmitted:
		stats.Emitted.Add(1)
	case sdk.StateFallbackEmitted:
		stats.Fallbacks.Add(1)
	case sdk.StateFlowPending:
		stats.Pending.Add(1)
	default:
		stats.Rejected.Add(1)
	}
}

// loadPain001 builds a minimal credit transfer initiation. The message id
// varies per submission so the in-flight duplicate guard never trips.
func loadPain001(msgID string, workerID, txnID int) sdk.Message {
	amount := fmt.Sprintf("%d.%02d", 50+txnID%900, txnID%100)
	return sdk.Message{
		"CstmrCdtTrfInitn": map[string]interface{}{
			"GrpHdr": map[string]interface{}{
				"MsgId":    msgID,
				"CreDtTm":  time.Now().UTC().Format(time.RFC3339),
				"NbOfTxs":  "1",
				"InitgPty": map[string]interface{}{"Nm": fmt.Sprintf("Load Worker %d", workerID)},
			},
			"PmtInf": []interface{}{
				map[string]interface{}{
					"PmtInfId": msgID,
					"Dbtr":     map[string]interface{}{"Nm": "Load Test Debtor"},
					"CdtTrfTxInf": []interface{}{
						map[string]interface{}{
							"PmtId": map[string]interface{}{
								"InstrId":    msgID,
								"EndToEndId": fmt.Sprintf("E2E-%s", msgID),
							},
							"Amt":  map[string]interface{}{"InstdAmt": map[string]interface{}{"Ccy": "EUR", "value": amount}},
							"Cdtr": map[string]interface{}{"Nm": "Load Test Creditor"},
						},
					},
				},
			},
		},
	}
}

func reportProgress(ctx context.Context, stats *RunStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("Progress",
				"submitted", stats.Submitted.Load(),
				"emitted", stats.Emitted.Load(),
				"fallbacks", stats.Fallbacks.Load(),
				"rejected", stats.Rejected.Load(),
				"errors", stats.Errors.Load())
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *RunStats) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"

	total := stats.Submitted.Load()
	if total == 0 {
		fmt.Println("No payments submitted")
		return
	}
	emitted := stats.Emitted.Load()

	stats.mu.Lock()
	avg := calculateAverage(stats.latencies)
	p95 := calculatePercentile(stats.latencies, 95)
	p99 := calculatePercentile(stats.latencies, 99)
	minL, maxL := stats.minLatency, stats.maxLatency
	stats.mu.Unlock()

	fmt.Println("\n" + separator)
	fmt.Println("📊 PAYMENT LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Payments Submitted:     %d\n", total)
	fmt.Printf("Emitted (cleared):      %d (%.2f%%)\n", emitted, pct(emitted, total))
	fmt.Printf("Fallback Emitted:       %d (%.2f%%)\n", stats.Fallbacks.Load(), pct(stats.Fallbacks.Load(), total))
	fmt.Printf("Rejected:               %d (%.2f%%)\n", stats.Rejected.Load(), pct(stats.Rejected.Load(), total))
	fmt.Printf("Pending (review):       %d (%.2f%%)\n", stats.Pending.Load(), pct(stats.Pending.Load(), total))
	fmt.Printf("Transport Errors:       %d (%.2f%%)\n", stats.Errors.Load(), pct(stats.Errors.Load(), total))
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f payments/sec\n", stats.ThroughputPerSecond)
	fmt.Println(divider)
	fmt.Printf("Latency (min):          %v\n", minL)
	fmt.Printf("Latency (avg):          %v\n", avg)
	fmt.Printf("Latency (p95):          %v\n", p95)
	fmt.Printf("Latency (p99):          %v\n", p99)
	fmt.Printf("Latency (max):          %v\n", maxL)
	fmt.Println(separator)

	if rate := pct(emitted, total); rate >= 99 {
		fmt.Println("✅ PASS: Clear rate meets target (>99%)")
	} else {
		fmt.Println("❌ FAIL: Clear rate below target (<99%)")
	}
	if p95 < 2*time.Second {
		fmt.Println("✅ PASS: P95 latency meets target (<2s)")
	} else {
		fmt.Println("⚠️  WARN: P95 latency above target (>2s)")
	}
	if stats.Errors.Load() == 0 {
		fmt.Println("✅ PASS: No transport errors")
	} else {
		fmt.Println("❌ FAIL: Transport errors occurred")
	}
	fmt.Println(separator + "\n")
}

func pct(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func calculateAverage(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func calculatePercentile(latencies []time.Duration, percentile int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * float64(percentile) / 100.0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
