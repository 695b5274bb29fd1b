// Command preflight verifies a deployment environment before the payment
// engine boots: it parses the process configuration, lints the policy seed,
// queries each configuration table, assembles a full policy snapshot, and
// pings Redis, the audit store and every clearing-scheme endpoint. Run it
// from the same environment (and .env file) the server will use.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/kranthikarthan/PE-sub004/internal/audit"
	"github.com/kranthikarthan/PE-sub004/internal/config"
	"github.com/kranthikarthan/PE-sub004/internal/database"
	"github.com/kranthikarthan/PE-sub004/internal/infra"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
)

// CheckResult stores the outcome of one verification.
type CheckResult struct {
	Check   string
	Status  string
	Details string
}

const (
	statusPass = "✅ PASS"
	statusFail = "❌ FAIL"
	statusSkip = "⚠️ SKIP"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         Payment Engine - Boot Pre-flight Verification        ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	results := []CheckResult{}
	record := func(r CheckResult) {
		results = append(results, r)
		printResult(r)
	}

	fmt.Println("Checking configuration...")
	fmt.Println()

	cfg, result := checkConfig()
	record(result)
	if cfg == nil {
		summarize(results)
		os.Exit(1)
	}

	record(checkSeed(cfg))

	fmt.Println()
	fmt.Println("Checking configuration database...")
	fmt.Println()
	for _, r := range checkDatabase(ctx, cfg) {
		record(r)
	}

	fmt.Println()
	fmt.Println("Checking runtime stores...")
	fmt.Println()
	record(checkRedis(ctx, cfg))
	record(checkAuditStore(ctx, cfg))

	fmt.Println()
	fmt.Println("Checking clearing endpoints...")
	fmt.Println()
	if len(cfg.Clearing.Schemes) == 0 {
		record(CheckResult{"clearing schemes", statusSkip, "CLEARING_SCHEMES not set"})
	}
	for name, endpoint := range cfg.Clearing.Schemes {
		record(checkClearingEndpoint(ctx, name, endpoint))
	}

	failed := summarize(results)
	if failed > 0 {
		os.Exit(1)
	}
}

func printResult(r CheckResult) {
	fmt.Printf("  %-25s %s  %s\n", r.Check, r.Status, r.Details)
}

func summarize(results []CheckResult) int {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	passed, failed, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			passed++
		case statusFail:
			failed++
		default:
			skipped++
		}
	}
	fmt.Printf("Results: %d PASSED, %d FAILED, %d SKIPPED\n", passed, failed, skipped)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	return failed
}

func checkConfig() (*config.Config, CheckResult) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, CheckResult{"process config", statusFail, err.Error()}
	}
	return cfg, CheckResult{"process config", statusPass,
		fmt.Sprintf("port=%s env=%s audit=%s", cfg.Server.Port, cfg.Server.Env, cfg.Audit.Backend)}
}

func checkSeed(cfg *config.Config) CheckResult {
	if cfg.Policy.SeedPath == "" {
		return CheckResult{"policy seed", statusSkip, "POLICY_SEED_PATH not set"}
	}
	raw, err := os.ReadFile(cfg.Policy.SeedPath)
	if err != nil {
		return CheckResult{"policy seed", statusFail, err.Error()}
	}
	snap, err := policy.ParseSnapshot(raw)
	if err != nil {
		return CheckResult{"policy seed", statusFail, err.Error()}
	}
	return CheckResult{"policy seed", statusPass,
		fmt.Sprintf("%d auth, %d mapping, %d fraud, %d webhook", len(snap.AuthConfigs),
			len(snap.MappingDocuments), len(snap.FraudConfigs), len(snap.WebhookTargets))}
}

// checkDatabase queries every configuration table and then assembles a full
// snapshot, which also exercises the JSONB decoding and validation the
// server performs on reload.
func checkDatabase(ctx context.Context, cfg *config.Config) []CheckResult {
	if cfg.Policy.SupabaseURL == "" || cfg.Policy.SupabaseKey == "" {
		return []CheckResult{{"config database", statusSkip, "SUPABASE_URL not set"}}
	}
	client, err := database.NewSupabaseClient(cfg.Policy.SupabaseURL, cfg.Policy.SupabaseKey)
	if err != nil {
		return []CheckResult{{"config database", statusFail, err.Error()}}
	}

	results := []CheckResult{}
	if err := client.HealthCheck(ctx); err != nil {
		return append(results, CheckResult{"tenants", statusFail, err.Error()})
	}
	results = append(results, CheckResult{"tenants", statusPass, "Query OK"})

	count := func(name string, n int, err error) CheckResult {
		if err != nil {
			return CheckResult{name, statusFail, err.Error()}
		}
		return CheckResult{name, statusPass, fmt.Sprintf("Found %d rows", n)}
	}

	authRows, err := client.ListAuthConfigs(ctx)
	results = append(results, count("auth_configs", len(authRows), err))
	docRows, err := client.ListMappingDocuments(ctx)
	results = append(results, count("mapping_documents", len(docRows), err))
	policyRows, err := client.ListServicePolicies(ctx)
	results = append(results, count("service_policies", len(policyRows), err))
	fraudRows, err := client.ListFraudAPIConfigs(ctx)
	results = append(results, count("fraud_api_configs", len(fraudRows), err))
	hookRows, err := client.ListWebhookTargets(ctx)
	results = append(results, count("tenant_webhook_configs", len(hookRows), err))

	snap, err := policy.NewSupabaseProvider(client).Load(ctx)
	if err != nil {
		results = append(results, CheckResult{"snapshot assembly", statusFail, err.Error()})
	} else {
		results = append(results, CheckResult{"snapshot assembly", statusPass,
			fmt.Sprintf("version %d validated", snap.Version)})
	}
	return results
}

func checkRedis(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg.Redis.Addr == "" {
		return CheckResult{"redis", statusSkip, "REDIS_ADDR not set (memory guard/sequences)"}
	}
	adapter, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return CheckResult{"redis", statusFail, err.Error()}
	}
	defer adapter.Close()
	if err := adapter.HealthCheck(ctx); err != nil {
		return CheckResult{"redis", statusFail, err.Error()}
	}
	return CheckResult{"redis", statusPass, fmt.Sprintf("Ping OK (%s)", cfg.Redis.Addr)}
}

func checkAuditStore(ctx context.Context, cfg *config.Config) CheckResult {
	switch cfg.Audit.Backend {
	case config.AuditPostgres:
		store, err := audit.NewPostgresStore(cfg.Audit.PostgresDSN)
		if err != nil {
			return CheckResult{"audit store", statusFail, err.Error()}
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return CheckResult{"audit store", statusFail, err.Error()}
		}
		return CheckResult{"audit store", statusPass, "postgres ping + schema OK"}
	case config.AuditSpanner:
		store, err := audit.NewSpannerStore(ctx, cfg.Audit.SpannerProject,
			cfg.Audit.SpannerInstance, cfg.Audit.SpannerDatabase)
		if err != nil {
			return CheckResult{"audit store", statusFail, err.Error()}
		}
		store.Close()
		return CheckResult{"audit store", statusPass, "spanner client created"}
	default:
		return CheckResult{"audit store", statusSkip, "in-memory (non-durable)"}
	}
}

// checkClearingEndpoint mirrors the dispatcher's health probe: HEAD the
// endpoint and treat anything below 500 as reachable.
func checkClearingEndpoint(ctx context.Context, name, endpoint string) CheckResult {
	check := "clearing:" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return CheckResult{check, statusFail, err.Error()}
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{check, statusFail, err.Error()}
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return CheckResult{check, statusFail, fmt.Sprintf("endpoint returned %d", resp.StatusCode)}
	}
	return CheckResult{check, statusPass, fmt.Sprintf("HEAD %d", resp.StatusCode)}
}
