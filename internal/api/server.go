// Package api exposes the payment engine over HTTP: envelope submission,
// flow and webhook delivery queries, operational health, cache
// administration and the live event stream. Handlers run behind the
// tenant-auth and rate-limit middleware, so every request below /api/v1
// carries an authenticated tenant in its context.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kranthikarthan/PE-sub004/internal/audit"
	"github.com/kranthikarthan/PE-sub004/internal/events"
	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/middleware"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

// Processor runs one ingress envelope through the flow machine.
type Processor interface {
	Process(ctx context.Context, env flow.Envelope) (*flow.Outcome, error)
	InvalidatePlans()
}

// Invalidator is a cache that can be dropped wholesale by an admin
// invalidation: the auth token cache and the fraud rule cache both
// qualify.
type Invalidator interface {
	Invalidate()
}

// Server wires the HTTP surface to the engine. Construct with NewServer,
// attach optional collaborators with the With setters, then serve Handler.
type Server struct {
	processor  Processor
	trail      audit.Store
	tenants    middleware.Authenticator
	deliveries webhook.StatusStore
	resolver   *policy.Resolver
	provider   policy.Provider
	registry   *resilience.Registry
	health     *resilience.HealthMonitor
	tokens     Invalidator
	screener   Invalidator
	streamer   *Streamer

	limiter     *middleware.RateLimiter
	limits      middleware.RateLimitConfig
	trustHeader bool
	validate    *validator.Validate
}

func NewServer(processor Processor, trail audit.Store, tenants middleware.Authenticator) *Server {
	return &Server{
		processor: processor,
		trail:     trail,
		tenants:   tenants,
		validate:  validator.New(),
	}
}

// WithDeliveryStore enables the webhook delivery query endpoints.
func (s *Server) WithDeliveryStore(store webhook.StatusStore) *Server {
	s.deliveries = store
	return s
}

// WithPolicy attaches the resolver behind cache invalidation and, when a
// provider is given, snapshot reloads.
func (s *Server) WithPolicy(resolver *policy.Resolver, provider policy.Provider) *Server {
	s.resolver = resolver
	s.provider = provider
	return s
}

// WithResilience attaches the executor registry and health monitor behind
// the services-health endpoint.
func (s *Server) WithResilience(registry *resilience.Registry, health *resilience.HealthMonitor) *Server {
	s.registry = registry
	s.health = health
	return s
}

// WithTokenCache registers the auth token cache for invalidation.
func (s *Server) WithTokenCache(tc Invalidator) *Server {
	s.tokens = tc
	return s
}

// WithScreener registers the fraud rule cache for invalidation.
func (s *Server) WithScreener(sc Invalidator) *Server {
	s.screener = sc
	return s
}

// WithStream enables the websocket event stream backed by the given bus.
func (s *Server) WithStream(bus *events.Bus) *Server {
	s.streamer = NewStreamer(bus)
	return s
}

// WithRateLimit overrides the default per-tenant rate limit.
func (s *Server) WithRateLimit(cfg middleware.RateLimitConfig) *Server {
	s.limits = cfg
	return s
}

// WithTrustedTenantHeader allows X-Tenant-ID authentication for deployments
// behind a gateway that already verified the caller.
func (s *Server) WithTrustedTenantHeader(trust bool) *Server {
	s.trustHeader = trust
	return s
}

// Handler builds the routing tree. Liveness and metrics stay public; the
// /api/v1 subtree runs behind tenant auth and per-tenant rate limiting.
// CORS and request logging wrap the whole router so preflight requests are
// answered even for unmatched routes.
func (s *Server) Handler() http.Handler {
	s.limiter = middleware.NewRateLimiter(s.limits)

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.TenantAuth(s.tenants, s.trustHeader))
	api.Use(s.limiter.Middleware)

	api.HandleFunc("/payments", s.handleSubmitPayment).Methods("POST")
	api.HandleFunc("/flows/{id}", s.handleFlowStatus).Methods("GET")
	api.HandleFunc("/flows/{id}/transitions", s.handleFlowTransitions).Methods("GET")
	api.HandleFunc("/webhooks/deliveries/{id}", s.handleWebhookDeliveries).Methods("GET")
	api.HandleFunc("/webhooks/history", s.handleWebhookHistory).Methods("GET")
	api.HandleFunc("/services/health", s.handleServicesHealth).Methods("GET")
	api.HandleFunc("/admin/cache/invalidate", s.handleCacheInvalidate).Methods("POST")
	if s.streamer != nil {
		api.HandleFunc("/stream", s.streamer.HandleStream).Methods("GET")
	}

	return middleware.CORS(middleware.Logging(r))
}

// Start serves the API on the given port and blocks until the listener
// fails. Callers that need graceful shutdown wrap Handler in their own
// http.Server instead.
func (s *Server) Start(port string) error {
	slog.Info("API server listening", "port", port)
	return http.ListenAndServe(":"+port, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func respond(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respond(w, code, map[string]string{"error": msg})
}
