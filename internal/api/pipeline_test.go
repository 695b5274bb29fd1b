package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kranthikarthan/PE-sub004/internal/audit"
	"github.com/kranthikarthan/PE-sub004/internal/auth"
	"github.com/kranthikarthan/PE-sub004/internal/clearing"
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/fraud"
	"github.com/kranthikarthan/PE-sub004/internal/mapping"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
	"github.com/kranthikarthan/PE-sub004/internal/tenant"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
	"github.com/kranthikarthan/PE-sub004/pkg/sdk"
)

// pipeline wires the full stack behind a real HTTP server: resolver from a
// snapshot, fraud gate against a stub engine, clearing dispatcher against a
// stub scheme, webhook engine against a stub tenant endpoint. Tests drive it
// through the public SDK only.
type pipeline struct {
	ts     *httptest.Server
	client *sdk.Client
	key    string
	trail  *audit.MemoryStore
	store  *webhook.MemoryStatusStore

	clearingDown  atomic.Bool
	clearingHold  atomic.Int64 // per-call pause in ms
	clearingCalls atomic.Int32
	fraudCalls    atomic.Int32
	received      chan sdk.Notification

	mu            sync.Mutex
	lastSchemeKey string
	lastCorrID    string
	lastBody      []byte
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{received: make(chan sdk.Notification, 4)}

	clearingTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.clearingCalls.Add(1)
		if hold := p.clearingHold.Load(); hold > 0 {
			time.Sleep(time.Duration(hold) * time.Millisecond)
		}
		if p.clearingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "maintenance"})
			return
		}
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.lastSchemeKey = r.Header.Get("X-Scheme-Key")
		p.lastCorrID = r.Header.Get("X-Correlation-ID")
		p.lastBody = body
		p.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ACSP"})
	}))
	t.Cleanup(clearingTS.Close)

	fraudTS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.fraudCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"decision":  "APPROVE",
			"riskLevel": "LOW",
			"riskScore": 0.05,
		})
	}))
	t.Cleanup(fraudTS.Close)

	hookTS := httptest.NewServer(sdk.Receiver(func(ctx context.Context, n sdk.Notification) error {
		p.received <- n
		return nil
	}))
	t.Cleanup(hookTS.Close)

	snap := &policy.Snapshot{
		Version: 1,
		AuthConfigs: []policy.AuthRecord{{
			Name:       "tenant-1-scheme-key",
			Level:      policy.LevelTenant,
			Coordinate: core.PolicyCoordinate{TenantID: "tenant-1"},
			Priority:   10,
			Active:     true,
			Auth: policy.AuthConfig{
				Method:     policy.AuthAPIKey,
				Key:        "scheme-secret",
				HeaderName: "X-Scheme-Key",
			},
		}},
		FraudConfigs: []policy.FraudAPIConfig{{
			TenantID: "tenant-1",
			Endpoint: fraudTS.URL,
			Active:   true,
			PreScreenRules: []policy.PreScreenRule{{
				Name:       "amount-ceiling",
				Expression: "amount > 100000.0",
				Decision:   "REJECT",
				Reason:     "amount exceeds pre-screen ceiling",
			}},
		}},
		WebhookTargets: []policy.WebhookTarget{{
			TenantID:    "tenant-1",
			MessageType: "pain.002",
			URL:         hookTS.URL,
			MaxAttempts: 3,
			Active:      true,
		}},
	}

	resolver := policy.NewResolver(snap)
	registry := resilience.NewRegistry(resolver.ServicePolicy)
	headers := auth.NewBuilder()

	trail := audit.NewMemoryStore()
	gate, err := fraud.NewGate(resolver, registry, headers, trail)
	require.NoError(t, err)

	schemes := clearing.NewDirectory(clearing.Scheme{Name: "RTP", Endpoint: clearingTS.URL})
	dispatcher := clearing.NewDispatcher(schemes, registry, headers)

	store := webhook.NewMemoryStatusStore()
	engine := webhook.NewEngine(store).WithWorkers(2).WithTimeout(2 * time.Second)
	engine.Start()
	t.Cleanup(engine.Stop)
	sink := webhook.NewFanout(resolver, engine)

	orch := flow.NewOrchestrator(resolver, gate, dispatcher,
		flow.NewMemoryGuard(), mapping.NewMemorySequences(), trail).
		WithDeadline(8 * time.Second).
		WithResponseSink(sink)

	dir := tenant.NewMemoryDirectory()
	dir.Seed(tenant.Record{TenantID: "tenant-1", Name: "Pipeline Test", Status: tenant.StatusActive})
	manager := tenant.NewManager(dir)
	_, key, err := manager.CreateKey(context.Background(), "tenant-1", "pipeline", nil)
	require.NoError(t, err)

	server := NewServer(orch, trail, manager).WithDeliveryStore(store)
	p.ts = httptest.NewServer(server.Handler())
	t.Cleanup(p.ts.Close)

	p.trail = trail
	p.store = store
	p.key = key
	p.client = sdk.NewClient(sdk.Config{BaseURL: p.ts.URL, APIKey: key})
	return p
}

func pipelinePain001(msgID string, amount float64) sdk.Message {
	return sdk.Message{
		"CstmrCdtTrfInitn": sdk.Message{
			"GrpHdr": sdk.Message{
				"MsgId":    msgID,
				"CreDtTm":  "2026-02-01T10:00:00.000Z",
				"NbOfTxs":  "1",
				"InitgPty": sdk.Message{"Nm": "Acme Treasury"},
			},
			"PmtInf": []interface{}{
				sdk.Message{
					"PmtInfId": "PMT-" + msgID,
					"Dbtr":     sdk.Message{"Nm": "Acme GmbH"},
					"CdtTrfTxInf": []interface{}{
						sdk.Message{
							"PmtId": sdk.Message{"InstrId": "I-" + msgID, "EndToEndId": "E2E-" + msgID},
							"Amt":   sdk.Message{"InstdAmt": sdk.Message{"Ccy": "EUR", "value": amount}},
							"Cdtr":  sdk.Message{"Nm": "Globex Ltd"},
						},
					},
				},
			},
		},
	}
}

func TestPipelineSyncPaymentClears(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	outcome, err := p.client.SubmitPayment(ctx, sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: "RTP",
		ResponseMode:   sdk.ModeSync,
		Message:        pipelinePain001("PIPE-1", 512.50),
	})
	require.NoError(t, err)

	assert.Equal(t, sdk.StateEmitted, outcome.State)
	assert.Equal(t, "ACSP", outcome.Status)
	assert.NotEmpty(t, outcome.CorrelationID)
	require.NotNil(t, outcome.Assessment)
	assert.Equal(t, "APPROVE", outcome.Assessment.Decision)
	assert.Contains(t, outcome.ClientAck, "CstmrPmtStsRpt")

	assert.Equal(t, int32(1), p.fraudCalls.Load())
	assert.Equal(t, int32(1), p.clearingCalls.Load())

	p.mu.Lock()
	assert.Equal(t, "scheme-secret", p.lastSchemeKey)
	assert.Equal(t, outcome.CorrelationID, p.lastCorrID)
	assert.Contains(t, string(p.lastBody), "FIToFICstmrCdtTrf")
	p.mu.Unlock()

	status, err := p.client.Flow(ctx, outcome.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, sdk.StateEmitted, status.State)
	assert.True(t, status.Terminal)
	assert.GreaterOrEqual(t, status.Transitions, 7)

	entries, err := p.client.Transitions(ctx, outcome.CorrelationID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "INGRESS", entries[0].Stage)
	assert.Equal(t, "EMITTED", entries[len(entries)-1].Stage)
}

func TestPipelinePreScreenRejectsWithoutIO(t *testing.T) {
	p := newPipeline(t)

	var rejected *sdk.Outcome
	p.client = sdk.NewClient(sdk.Config{
		BaseURL:    p.ts.URL,
		APIKey:     p.key,
		OnRejected: func(o *sdk.Outcome) { rejected = o },
	})

	outcome, err := p.client.SubmitPayment(context.Background(), sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: "RTP",
		ResponseMode:   sdk.ModeSync,
		Message:        pipelinePain001("PIPE-2", 250000),
	})
	require.NoError(t, err)

	assert.Equal(t, sdk.StateFlowRejected, outcome.State)
	assert.Equal(t, "RJCT", outcome.Status)
	require.NotNil(t, outcome.Assessment)
	assert.Equal(t, "REJECT", outcome.Assessment.Decision)
	assert.Contains(t, outcome.Assessment.Reason, "ceiling")
	require.NotNil(t, rejected)
	assert.Equal(t, outcome.CorrelationID, rejected.CorrelationID)

	// The local rule decided; neither remote service was touched.
	assert.Equal(t, int32(0), p.fraudCalls.Load())
	assert.Equal(t, int32(0), p.clearingCalls.Load())
}

func TestPipelineWebhookDelivery(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	receipt, err := p.client.SubmitPayment(ctx, sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: "RTP",
		ResponseMode:   sdk.ModeWebhook,
		Message:        pipelinePain001("PIPE-3", 99.95),
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.StateParsed, receipt.State)
	require.NotEmpty(t, receipt.CorrelationID)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	status, err := p.client.WaitForFlow(waitCtx, receipt.CorrelationID, 25*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, sdk.StateEmitted, status.State)

	select {
	case n := <-p.received:
		assert.Equal(t, receipt.CorrelationID, n.CorrelationID)
		assert.Equal(t, "tenant-1", n.TenantID)
		assert.Equal(t, "pain.002", n.MessageType)
		assert.Contains(t, n.Message, "CstmrPmtStsRpt")
	case <-time.After(5 * time.Second):
		t.Fatal("webhook notification never arrived")
	}

	require.Eventually(t, func() bool {
		deliveries, err := p.client.Deliveries(ctx, receipt.CorrelationID)
		return err == nil && len(deliveries) == 1 && deliveries[0].State == sdk.DeliveryDelivered
	}, 5*time.Second, 50*time.Millisecond)
}

func TestPipelineClearingOutageFallsBack(t *testing.T) {
	p := newPipeline(t)
	p.clearingDown.Store(true)

	outcome, err := p.client.SubmitPayment(context.Background(), sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: "RTP",
		ResponseMode:   sdk.ModeSync,
		Message:        pipelinePain001("PIPE-4", 42.00),
	})
	require.NoError(t, err)

	assert.Equal(t, sdk.StateFallbackEmitted, outcome.State)
	assert.Equal(t, "RJCT", outcome.Status)
	assert.Contains(t, outcome.Detail, "503")
	assert.Contains(t, outcome.ClientAck, "CstmrPmtStsRpt")

	// The retry budget was spent before the fallback answered.
	assert.Equal(t, int32(3), p.clearingCalls.Load())
}

func TestPipelineDuplicateInFlightRejected(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Hold the clearing call open so the first flow stays in flight while
	// the duplicate arrives.
	p.clearingHold.Store(500)

	receipt, err := p.client.SubmitPayment(ctx, sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: "RTP",
		ResponseMode:   sdk.ModeAsync,
		Message:        pipelinePain001("PIPE-5", 10.00),
	})
	require.NoError(t, err)
	require.Equal(t, sdk.StateParsed, receipt.State)

	second, err := p.client.SubmitPayment(ctx, sdk.PaymentRequest{
		PaymentType:    "RTP",
		ClearingSystem: "RTP",
		ResponseMode:   sdk.ModeSync,
		Message:        pipelinePain001("PIPE-5", 10.00),
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.StateFlowRejected, second.State)
	assert.Equal(t, "RJCT", second.Status)
	assert.Contains(t, second.Detail, "already in flight")

	// Let the first flow finish before the harness tears down.
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	status, err := p.client.WaitForFlow(waitCtx, receipt.CorrelationID, 25*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, sdk.StateEmitted, status.State)
}
