package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kranthikarthan/PE-sub004/internal/audit"
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
	"github.com/kranthikarthan/PE-sub004/internal/tenant"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

// handleSubmitPayment accepts one ingress envelope. The authenticated
// tenant stamps the coordinate; an envelope naming a different tenant is
// refused rather than silently rewritten.
func (s *Server) handleSubmitPayment(w http.ResponseWriter, r *http.Request) {
	rec, ok := tenant.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	var env flow.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "malformed envelope: "+err.Error())
		return
	}
	if env.TenantID != "" && env.TenantID != rec.TenantID {
		respondError(w, http.StatusForbidden, "envelope tenant does not match API key")
		return
	}
	env.TenantID = rec.TenantID

	if err := s.validate.Struct(env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid envelope: "+err.Error())
		return
	}

	outcome, err := s.processor.Process(r.Context(), env)
	if err != nil {
		if core.KindOf(err) == core.KindValidation {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Payment submission failed",
			"tenant_id", rec.TenantID,
			"error", err)
		respondError(w, http.StatusInternalServerError, "payment processing failed")
		return
	}
	respond(w, paymentStatusCode(outcome), outcome)
}

// paymentStatusCode maps a flow outcome to HTTP: settled flows answer 200
// and carry the business verdict inside the acknowledgement, rejections
// answer 422, everything still in motion answers 202.
func paymentStatusCode(out *flow.Outcome) int {
	switch out.State {
	case flow.StateEmitted, flow.StateFallbackEmitted:
		return http.StatusOK
	case flow.StateFlowRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusAccepted
	}
}

// FlowStatus summarizes a trail: the machine's current state is the stage
// of the newest transition entry.
type FlowStatus struct {
	CorrelationID string     `json:"correlationId"`
	TenantID      string     `json:"tenantId,omitempty"`
	State         flow.State `json:"state"`
	Status        string     `json:"status"`
	Terminal      bool       `json:"terminal"`
	StartedAt     time.Time  `json:"startedAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Transitions   int        `json:"transitions"`
}

func (s *Server) handleFlowStatus(w http.ResponseWriter, r *http.Request) {
	entries, id, ok := s.loadTrail(w, r)
	if !ok {
		return
	}

	st := FlowStatus{CorrelationID: id}
	for _, e := range entries {
		if e.Kind != audit.KindTransition {
			continue
		}
		if st.Transitions == 0 {
			st.StartedAt = e.At
		}
		st.Transitions++
		st.TenantID = e.TenantID
		st.State = flow.State(e.Stage)
		st.Status = e.Status
		st.UpdatedAt = e.At
	}
	st.Terminal = st.State.Terminal()
	respond(w, http.StatusOK, st)
}

func (s *Server) handleFlowTransitions(w http.ResponseWriter, r *http.Request) {
	entries, id, ok := s.loadTrail(w, r)
	if !ok {
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"correlationId": id,
		"entries":       entries,
	})
}

// loadTrail fetches the audit trail for the path's correlation id, scoped
// to the authenticated tenant. A trail owned by another tenant reads as
// unknown.
func (s *Server) loadTrail(w http.ResponseWriter, r *http.Request) ([]audit.Entry, string, bool) {
	id := mux.Vars(r)["id"]
	entries, err := s.trail.Trail(r.Context(), id)
	if err != nil {
		slog.Error("Trail query failed", "correlation_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "trail query failed")
		return nil, id, false
	}

	tenantID := tenant.IDFromContext(r.Context())
	visible := make([]audit.Entry, 0, len(entries))
	for _, e := range entries {
		if e.TenantID == "" || e.TenantID == tenantID {
			visible = append(visible, e)
		}
	}
	if len(visible) == 0 {
		respondError(w, http.StatusNotFound, "unknown correlation id")
		return nil, id, false
	}
	return visible, id, true
}

func (s *Server) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deliveries == nil {
		respondError(w, http.StatusNotFound, "webhook delivery tracking not configured")
		return
	}
	id := mux.Vars(r)["id"]
	all, err := s.deliveries.ByCorrelation(r.Context(), id)
	if err != nil {
		slog.Error("Delivery query failed", "correlation_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "delivery query failed")
		return
	}

	tenantID := tenant.IDFromContext(r.Context())
	mine := make([]*webhook.Delivery, 0, len(all))
	for _, d := range all {
		if d.TenantID == tenantID {
			mine = append(mine, d)
		}
	}
	if len(mine) == 0 {
		respondError(w, http.StatusNotFound, "no deliveries for correlation id")
		return
	}
	respond(w, http.StatusOK, mine)
}

func (s *Server) handleWebhookHistory(w http.ResponseWriter, r *http.Request) {
	if s.deliveries == nil {
		respondError(w, http.StatusNotFound, "webhook delivery tracking not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	tenantID := tenant.IDFromContext(r.Context())
	hist, err := s.deliveries.History(r.Context(), tenantID, r.URL.Query().Get("messageType"), limit)
	if err != nil {
		slog.Error("History query failed", "tenant_id", tenantID, "error", err)
		respondError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	respond(w, http.StatusOK, hist)
}

type servicesHealth struct {
	Status        string                     `json:"status"`
	Services      []resilience.ServiceHealth `json:"services,omitempty"`
	Breakers      []resilience.ExecutorStats `json:"breakers,omitempty"`
	StreamClients int                        `json:"streamClients"`
}

// handleServicesHealth reports downstream health as seen by the caller's
// tenant: probe results, breaker states and live executor windows.
func (s *Server) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	tenantID := tenant.IDFromContext(r.Context())
	resp := servicesHealth{Status: "UP"}
	if s.health != nil {
		resp.Services = s.health.Status(r.Context(), tenantID)
		for _, sh := range resp.Services {
			if !sh.Healthy {
				resp.Status = "DEGRADED"
				break
			}
		}
	}
	if s.registry != nil {
		resp.Breakers = s.registry.Stats(tenantID)
	}
	if s.streamer != nil {
		resp.StreamClients = s.streamer.Connections()
	}
	respond(w, http.StatusOK, resp)
}

type invalidateRequest struct {
	Scope    string `json:"scope,omitempty" validate:"omitempty,oneof=tenant all"`
	TenantID string `json:"tenantId,omitempty"`
}

// handleCacheInvalidate drops cached policy state. Scope "tenant" (the
// default) clears the caller's coordinate memos and executors; scope "all"
// clears every soft cache and, when a provider is attached, publishes a
// freshly loaded snapshot. All caches rebuild on demand, so the worst a
// spurious call costs is recomputation.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	rec, ok := tenant.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if req.TenantID != "" && req.TenantID != rec.TenantID {
		respondError(w, http.StatusForbidden, "cannot invalidate another tenant's caches")
		return
	}
	if req.Scope == "" {
		req.Scope = "tenant"
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, `scope must be "tenant" or "all"`)
		return
	}

	if req.Scope == "tenant" {
		if s.resolver != nil {
			s.resolver.Invalidate(rec.TenantID)
		}
		if s.registry != nil {
			s.registry.InvalidateTenant(rec.TenantID)
		}
		respond(w, http.StatusOK, map[string]string{
			"invalidated": "tenant",
			"tenantId":    rec.TenantID,
		})
		return
	}

	if s.resolver != nil {
		s.resolver.InvalidateAll()
	}
	s.processor.InvalidatePlans()
	if s.tokens != nil {
		s.tokens.Invalidate()
	}
	if s.screener != nil {
		s.screener.Invalidate()
	}
	if s.registry != nil {
		s.registry.InvalidateAll()
	}

	result := map[string]interface{}{"invalidated": "all"}
	if s.provider != nil && s.resolver != nil {
		if snap, err := s.provider.Load(r.Context()); err != nil {
			slog.Error("Snapshot reload failed", "error", err)
			result["reloaded"] = false
			result["reloadError"] = err.Error()
		} else {
			s.resolver.Reload(snap)
			result["reloaded"] = true
		}
	}
	respond(w, http.StatusOK, result)
}
