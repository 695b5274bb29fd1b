// The server command wires the whole payment engine: policy sources and
// tenant directory, the flow orchestrator with its fraud, mapping and
// clearing collaborators, audit and metrics observers, webhook delivery,
// and the HTTP/websocket surface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kranthikarthan/PE-sub004/internal/api"
	"github.com/kranthikarthan/PE-sub004/internal/audit"
	"github.com/kranthikarthan/PE-sub004/internal/auth"
	"github.com/kranthikarthan/PE-sub004/internal/clearing"
	"github.com/kranthikarthan/PE-sub004/internal/config"
	"github.com/kranthikarthan/PE-sub004/internal/database"
	"github.com/kranthikarthan/PE-sub004/internal/events"
	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/fraud"
	"github.com/kranthikarthan/PE-sub004/internal/infra"
	"github.com/kranthikarthan/PE-sub004/internal/mapping"
	"github.com/kranthikarthan/PE-sub004/internal/metrics"
	"github.com/kranthikarthan/PE-sub004/internal/middleware"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
	"github.com/kranthikarthan/PE-sub004/internal/tenant"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fatal("Configuration invalid", err)
	}
	setupLogging(cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tenant policy and directory.
	provider, tenants := buildPolicySource(cfg)
	snapshot, err := provider.Load(ctx)
	if err != nil {
		fatal("Policy snapshot load failed", err)
	}
	resolver := policy.NewResolver(snapshot)
	manager := tenant.NewManager(tenants)

	// Resilience and metrics.
	registry := resilience.NewRegistry(resolver.ServicePolicy)
	health := resilience.NewHealthMonitor(registry)
	m := metrics.NewMetrics()
	prometheus.MustRegister(metrics.NewBreakerCollector(registry))

	// Event fan-out: always the in-process bus, plus Pub/Sub export when a
	// project is configured.
	var bus *events.Bus
	var emitter events.Emitter
	if cfg.Events.PubSubProject != "" {
		pb, err := events.NewPubSubBus(ctx, cfg.Events.PubSubProject, cfg.Events.PubSubTopic)
		if err != nil {
			fatal("Pub/Sub bus init failed", err)
		}
		defer pb.Close()
		bus, emitter = pb.Bus, pb
	} else {
		bus = events.NewBus()
		emitter = bus
	}

	// Audit trail.
	trail, closeTrail := buildAuditStore(ctx, cfg)
	defer closeTrail()

	// Sequences, duplicate guard and delivery status: in-memory by default,
	// Redis-backed when an address is configured so multiple instances
	// share state.
	var sequences mapping.SequenceStore = mapping.NewMemorySequences()
	var guard flow.Guard = flow.NewMemoryGuard()
	var statusStore webhook.StatusStore = webhook.NewMemoryStatusStore()
	if cfg.Redis.Addr != "" {
		rds, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			fatal("Redis connection failed", err)
		}
		defer rds.Close()
		sequences = rds.Sequences()
		guard = rds.Guard(infra.DefaultGuardTTL)
		statusStore = rds.DeliveryStore()
		slog.Info("Redis plumbing enabled", "addr", cfg.Redis.Addr)
	}

	// Webhook delivery. Every status write feeds the audit trail and the
	// delivery metrics on its way to the store.
	statusStore = audit.TeeDeliveries(metrics.ObserveDeliveries(statusStore, m), trail)
	engine := webhook.NewEngine(statusStore).
		WithWorkers(cfg.Webhook.Workers).
		WithTimeout(cfg.Webhook.Timeout)
	engine.Start()
	defer engine.Stop()

	var deliverer webhook.Deliverer = engine
	if cfg.Webhook.TasksProject != "" && cfg.Webhook.TasksLocation != "" && cfg.Webhook.TasksQueue != "" {
		tasks, err := webhook.NewCloudTasksDispatcher(ctx,
			cfg.Webhook.TasksProject, cfg.Webhook.TasksLocation, cfg.Webhook.TasksQueue,
			statusStore, engine)
		if err != nil {
			fatal("Cloud Tasks dispatcher init failed", err)
		}
		deliverer = tasks
		slog.Info("Webhook attempts scheduled through Cloud Tasks",
			"queue", cfg.Webhook.TasksQueue)
	}
	sink := webhook.NewFanout(resolver, deliverer)

	// The flow machine and its collaborators.
	headers := auth.NewBuilder()
	gate, err := fraud.NewGate(resolver, registry, headers, trail)
	if err != nil {
		fatal("Fraud gate init failed", err)
	}
	dispatcher := clearing.NewDispatcher(clearingDirectory(cfg.Clearing), registry, headers)

	orch := flow.NewOrchestrator(resolver, gate, dispatcher, guard, sequences, trail).
		WithDeadline(cfg.Flow.Deadline).
		WithTenantDeadlines(cfg.Flow.TenantDeadlines).
		WithResponseSink(sink).
		WithPublisher(flow.Publishers{
			events.NewTransitionStream(emitter),
			metrics.NewFlowObserver(m),
		})

	server := api.NewServer(orch, trail, manager).
		WithDeliveryStore(statusStore).
		WithPolicy(resolver, provider).
		WithResilience(registry, health).
		WithTokenCache(headers).
		WithScreener(gate).
		WithStream(bus).
		WithRateLimit(middleware.RateLimitConfig{
			PerMinute: cfg.Limits.PerMinute,
			Burst:     cfg.Limits.Burst,
		}).
		WithTrustedTenantHeader(cfg.Server.TrustTenantHeader)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Handler(),
		// Write timeout must outlive the flow deadline so SYNC responses
		// are never cut off mid-flow.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Flow.Deadline + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Payment engine listening",
		"port", cfg.Server.Port,
		"env", cfg.Server.Env,
		"auditBackend", cfg.Audit.Backend,
		"schemes", len(cfg.Clearing.Schemes))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("Server failed", err)
	}
	slog.Info("Server stopped")
}

// buildPolicySource picks the configuration backend: Supabase when a URL
// is configured (it also serves as the tenant directory), otherwise the
// static YAML seed with an in-memory directory for development.
func buildPolicySource(cfg *config.Config) (policy.Provider, tenant.Directory) {
	if cfg.Policy.SupabaseURL != "" {
		client, err := database.NewSupabaseClient(cfg.Policy.SupabaseURL, cfg.Policy.SupabaseKey)
		if err != nil {
			fatal("Supabase client init failed", err)
		}
		return policy.NewSupabaseProvider(client), client
	}
	if cfg.Policy.SeedPath == "" {
		fatal("No policy source configured",
			errors.New("set SUPABASE_URL or POLICY_SEED_PATH"))
	}

	dir := tenant.NewMemoryDirectory()
	for _, id := range cfg.Server.DevTenants {
		dir.Seed(tenant.Record{TenantID: id, Name: id, Status: tenant.StatusActive})
	}
	if len(cfg.Server.DevTenants) > 0 && !cfg.Server.TrustTenantHeader {
		slog.Warn("DEV_TENANTS have no API keys; set TRUST_TENANT_HEADER=true to authenticate them")
	}
	return policy.NewStaticProvider(cfg.Policy.SeedPath), dir
}

func buildAuditStore(ctx context.Context, cfg *config.Config) (audit.Store, func()) {
	switch cfg.Audit.Backend {
	case config.AuditPostgres:
		store, err := audit.NewPostgresStore(cfg.Audit.PostgresDSN)
		if err != nil {
			fatal("Postgres audit store init failed", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			fatal("Audit schema migration failed", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("Audit store close failed", "error", err)
			}
		}
	case config.AuditSpanner:
		store, err := audit.NewSpannerStore(ctx,
			cfg.Audit.SpannerProject, cfg.Audit.SpannerInstance, cfg.Audit.SpannerDatabase)
		if err != nil {
			fatal("Spanner audit store init failed", err)
		}
		return store, store.Close
	default:
		return audit.NewMemoryStore(), func() {}
	}
}

func clearingDirectory(cfg config.ClearingConfig) *clearing.Directory {
	xml := make(map[string]bool, len(cfg.XMLSchemes))
	for _, name := range cfg.XMLSchemes {
		xml[strings.ToUpper(name)] = true
	}

	dir := clearing.NewDirectory()
	for name, endpoint := range cfg.Schemes {
		format := clearing.FormatJSON
		if xml[strings.ToUpper(name)] {
			format = clearing.FormatXML
		}
		dir.Register(clearing.Scheme{Name: name, Endpoint: endpoint, Format: format})
	}
	return dir
}

func setupLogging(env string) {
	if env == "production" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
