package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kranthikarthan/PE-sub004/internal/audit"
	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/iso20022"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
	"github.com/kranthikarthan/PE-sub004/internal/tenant"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

type stubProcessor struct {
	mu          sync.Mutex
	lastEnv     flow.Envelope
	outcome     *flow.Outcome
	err         error
	invalidated int
}

func (p *stubProcessor) Process(ctx context.Context, env flow.Envelope) (*flow.Outcome, error) {
	p.mu.Lock()
	p.lastEnv = env
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.outcome != nil {
		return p.outcome, nil
	}
	return &flow.Outcome{
		CorrelationID: "corr-1",
		State:         flow.StateEmitted,
		Status:        iso20022.StatusACSC,
	}, nil
}

func (p *stubProcessor) InvalidatePlans() {
	p.mu.Lock()
	p.invalidated++
	p.mu.Unlock()
}

func (p *stubProcessor) last() flow.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastEnv
}

type cacheSpy struct {
	mu sync.Mutex
	n  int
}

func (c *cacheSpy) Invalidate() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

type providerStub struct {
	snap *policy.Snapshot
	err  error
}

func (p *providerStub) Load(ctx context.Context) (*policy.Snapshot, error) {
	return p.snap, p.err
}

type harness struct {
	server  *Server
	proc    *stubProcessor
	trail   *audit.MemoryStore
	store   *webhook.MemoryStatusStore
	handler http.Handler
	key     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := tenant.NewMemoryDirectory()
	dir.Seed(tenant.Record{TenantID: "tenant-1", Name: "One", Status: tenant.StatusActive})
	dir.Seed(tenant.Record{TenantID: "tenant-2", Name: "Two", Status: tenant.StatusActive})
	manager := tenant.NewManager(dir)
	_, key, err := manager.CreateKey(context.Background(), "tenant-1", "test", nil)
	require.NoError(t, err)

	h := &harness{
		proc:  &stubProcessor{},
		trail: audit.NewMemoryStore(),
		store: webhook.NewMemoryStatusStore(),
		key:   key,
	}
	h.server = NewServer(h.proc, h.trail, manager).WithDeliveryStore(h.store)
	h.handler = h.server.Handler()
	return h
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+h.key)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func paymentBody() map[string]interface{} {
	return map[string]interface{}{
		"paymentType":  "RTP",
		"responseMode": "SYNC",
		"message": map[string]interface{}{
			"CstmrCdtTrfInitn": map[string]interface{}{
				"GrpHdr": map[string]interface{}{"MsgId": "M1"},
			},
		},
	}
}

func TestSubmitPaymentStampsAuthenticatedTenant(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, "POST", "/api/v1/payments", paymentBody())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out flow.Outcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "corr-1", out.CorrelationID)
	assert.Equal(t, flow.StateEmitted, out.State)

	env := h.proc.last()
	assert.Equal(t, "tenant-1", env.TenantID)
	assert.Equal(t, "RTP", env.PaymentType)
}

func TestSubmitPaymentRejectsForeignTenant(t *testing.T) {
	h := newHarness(t)
	body := paymentBody()
	body["tenantId"] = "tenant-2"

	rr := h.do(t, "POST", "/api/v1/payments", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSubmitPaymentRejectsMalformedJSON(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest("POST", "/api/v1/payments", bytes.NewBufferString("{nope"))
	req.Header.Set("Authorization", "Bearer "+h.key)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitPaymentRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t)
	body := paymentBody()
	delete(body, "message")

	rr := h.do(t, "POST", "/api/v1/payments", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid envelope")
}

func TestSubmitPaymentRejectsUnknownResponseMode(t *testing.T) {
	h := newHarness(t)
	body := paymentBody()
	body["responseMode"] = "CARRIER_PIGEON"

	rr := h.do(t, "POST", "/api/v1/payments", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitPaymentStatusCodes(t *testing.T) {
	cases := []struct {
		state flow.State
		code  int
	}{
		{flow.StateEmitted, http.StatusOK},
		{flow.StateFallbackEmitted, http.StatusOK},
		{flow.StateFlowRejected, http.StatusUnprocessableEntity},
		{flow.StateFlowPending, http.StatusAccepted},
		{flow.StateParsed, http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			h := newHarness(t)
			h.proc.outcome = &flow.Outcome{CorrelationID: "c", State: tc.state}
			rr := h.do(t, "POST", "/api/v1/payments", paymentBody())
			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestSubmitPaymentRequiresAuth(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest("POST", "/api/v1/payments", bytes.NewBufferString("{}"))
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func seedTrail(t *testing.T, store *audit.MemoryStore, corr, tenantID string) {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stages := []flow.State{flow.StateIngress, flow.StateParsed, flow.StateEmitted}
	for i, st := range stages {
		tr := flow.Transition{
			CorrelationID: corr,
			TenantID:      tenantID,
			Stage:         st,
			Status:        flow.StatusOK,
			At:            base.Add(time.Duration(i) * time.Second),
		}
		if i > 0 {
			tr.From = stages[i-1]
		}
		require.NoError(t, store.RecordTransition(context.Background(), tr))
	}
}

func TestFlowStatusSummarizesTrail(t *testing.T) {
	h := newHarness(t)
	seedTrail(t, h.trail, "corr-9", "tenant-1")

	rr := h.do(t, "GET", "/api/v1/flows/corr-9", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var st FlowStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "corr-9", st.CorrelationID)
	assert.Equal(t, "tenant-1", st.TenantID)
	assert.Equal(t, flow.StateEmitted, st.State)
	assert.Equal(t, flow.StatusOK, st.Status)
	assert.True(t, st.Terminal)
	assert.Equal(t, 3, st.Transitions)
	assert.True(t, st.UpdatedAt.After(st.StartedAt))
}

func TestFlowStatusHidesForeignTenant(t *testing.T) {
	h := newHarness(t)
	seedTrail(t, h.trail, "corr-9", "tenant-2")

	rr := h.do(t, "GET", "/api/v1/flows/corr-9", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFlowStatusUnknownCorrelation(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, "GET", "/api/v1/flows/corr-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFlowTransitionsReturnsTrail(t *testing.T) {
	h := newHarness(t)
	seedTrail(t, h.trail, "corr-9", "tenant-1")

	rr := h.do(t, "GET", "/api/v1/flows/corr-9/transitions", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		CorrelationID string        `json:"correlationId"`
		Entries       []audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "corr-9", resp.CorrelationID)
	require.Len(t, resp.Entries, 3)
	assert.Equal(t, string(flow.StateIngress), resp.Entries[0].Stage)
	assert.Equal(t, string(flow.StateEmitted), resp.Entries[2].Stage)
}

func TestWebhookDeliveriesScopedToTenant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Save(ctx, &webhook.Delivery{
		DeliveryID: "d-1", CorrelationID: "corr-7", TenantID: "tenant-1",
		MessageType: "pain.002", State: webhook.StateDelivered,
	}))
	require.NoError(t, h.store.Save(ctx, &webhook.Delivery{
		DeliveryID: "d-2", CorrelationID: "corr-7", TenantID: "tenant-2",
		MessageType: "pain.002", State: webhook.StateDelivered,
	}))

	rr := h.do(t, "GET", "/api/v1/webhooks/deliveries/corr-7", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var list []webhook.Delivery
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "d-1", list[0].DeliveryID)
}

func TestWebhookDeliveriesUnknownCorrelation(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, "GET", "/api/v1/webhooks/deliveries/corr-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookHistoryFiltersAndLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, corr := range []string{"c-1", "c-2", "c-3"} {
		require.NoError(t, h.store.Save(ctx, &webhook.Delivery{
			DeliveryID: "d-" + corr, CorrelationID: corr, TenantID: "tenant-1",
			MessageType: "pain.002", State: webhook.StateDelivered, Attempt: i + 1,
		}))
	}

	rr := h.do(t, "GET", "/api/v1/webhooks/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []webhook.Delivery
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rr = h.do(t, "GET", "/api/v1/webhooks/history?messageType=pacs.002", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Empty(t, list)

	rr = h.do(t, "GET", "/api/v1/webhooks/history?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServicesHealthReportsExecutors(t *testing.T) {
	h := newHarness(t)
	registry := resilience.NewRegistry(func(service, tenantID string) resilience.Policy {
		return resilience.DefaultPolicy(service)
	})
	h.server.WithResilience(registry, resilience.NewHealthMonitor(registry))
	h.handler = h.server.Handler()

	_, err := registry.Execute(context.Background(), "clearing-rtp", "tenant-1",
		func(ctx context.Context) (interface{}, error) { return "ok", nil })
	require.NoError(t, err)

	rr := h.do(t, "GET", "/api/v1/services/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp servicesHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "UP", resp.Status)
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "clearing-rtp", resp.Services[0].Service)
	assert.True(t, resp.Services[0].Healthy)
	require.Len(t, resp.Breakers, 1)
	assert.Equal(t, "CLOSED", resp.Breakers[0].BreakerState)
}

func TestCacheInvalidateTenantScope(t *testing.T) {
	h := newHarness(t)
	resolver := policy.NewResolver(&policy.Snapshot{})
	h.server.WithPolicy(resolver, nil)
	h.handler = h.server.Handler()

	before := resolver.Version()
	rr := h.do(t, "POST", "/api/v1/admin/cache/invalidate", map[string]string{"scope": "tenant"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"tenant-1"`)
	assert.Greater(t, resolver.Version(), before)
	assert.Equal(t, 0, h.proc.invalidated)
}

func TestCacheInvalidateAllReloadsSnapshot(t *testing.T) {
	h := newHarness(t)
	resolver := policy.NewResolver(&policy.Snapshot{Version: 1})
	tokens := &cacheSpy{}
	screener := &cacheSpy{}
	h.server.WithPolicy(resolver, &providerStub{snap: &policy.Snapshot{Version: 2}}).
		WithTokenCache(tokens).
		WithScreener(screener)
	h.handler = h.server.Handler()

	rr := h.do(t, "POST", "/api/v1/admin/cache/invalidate", map[string]string{"scope": "all"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"reloaded":true`)
	assert.Equal(t, int64(2), resolver.Snapshot().Version)
	assert.Equal(t, 1, h.proc.invalidated)
	assert.Equal(t, 1, tokens.n)
	assert.Equal(t, 1, screener.n)
}

func TestCacheInvalidateDefaultsToTenantScope(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, "POST", "/api/v1/admin/cache/invalidate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"invalidated":"tenant"`)
}

func TestCacheInvalidateRejectsForeignTenant(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, "POST", "/api/v1/admin/cache/invalidate", map[string]string{"tenantId": "tenant-2"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCacheInvalidateRejectsUnknownScope(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, "POST", "/api/v1/admin/cache/invalidate", map[string]string{"scope": "everything"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "# HELP")
}

func TestPreflightAnsweredWithoutAuth(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest("OPTIONS", "/api/v1/payments", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
