package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWith(prometheus.NewRegistry())
}

func transitionAt(corr string, stage flow.State, at time.Time, meta map[string]interface{}) flow.Transition {
	return flow.Transition{
		CorrelationID: corr,
		TenantID:      "tenant-1",
		Stage:         stage,
		Status:        flow.StatusOK,
		At:            at,
		Metadata:      meta,
	}
}

func TestFlowObserverCountsTerminalFlows(t *testing.T) {
	m := testMetrics(t)
	o := NewFlowObserver(m)
	base := time.Now()

	o.PublishTransition(transitionAt("corr-1", flow.StateIngress, base, nil))
	o.PublishTransition(transitionAt("corr-1", flow.StateParsed, base.Add(5*time.Millisecond), nil))
	o.PublishTransition(transitionAt("corr-1", flow.StateEmitted, base.Add(20*time.Millisecond), nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlowsTotal.WithLabelValues("tenant-1", "EMITTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("INGRESS", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("EMITTED", "OK")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FlowDuration, "payment_flow_duration_seconds"))
	assert.Equal(t, 0, o.Tracking(), "terminal state should release the timing entry")
}

func TestFlowObserverCountsRejectedFlows(t *testing.T) {
	m := testMetrics(t)
	o := NewFlowObserver(m)
	base := time.Now()

	o.PublishTransition(transitionAt("corr-1", flow.StateIngress, base, nil))
	tr := transitionAt("corr-1", flow.StateFlowRejected, base.Add(time.Millisecond), nil)
	tr.Status = "FRAUD_REJECTED"
	o.PublishTransition(tr)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlowsTotal.WithLabelValues("tenant-1", "FLOW_REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("FLOW_REJECTED", "FRAUD_REJECTED")))
}

func TestFlowObserverMeasuresStageLatency(t *testing.T) {
	m := testMetrics(t)
	o := NewFlowObserver(m)
	base := time.Now()

	o.PublishTransition(transitionAt("corr-1", flow.StateIngress, base, nil))
	assert.Equal(t, 0, testutil.CollectAndCount(m.StageLatency, "payment_flow_stage_seconds"),
		"the first transition has no predecessor")

	o.PublishTransition(transitionAt("corr-1", flow.StateParsed, base.Add(10*time.Millisecond), nil))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageLatency, "payment_flow_stage_seconds"))
	assert.Equal(t, 1, o.Tracking())
}

func TestFlowObserverRecordsFraudDecisions(t *testing.T) {
	m := testMetrics(t)
	o := NewFlowObserver(m)
	base := time.Now()

	o.PublishTransition(transitionAt("corr-1", flow.StateFraudChecked, base, map[string]interface{}{
		"decision":  "APPROVE",
		"riskLevel": "LOW",
		"riskScore": 0.1,
	}))
	o.PublishTransition(transitionAt("corr-2", flow.StateFraudChecked, base, map[string]interface{}{
		"decision": "MANUAL_REVIEW",
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FraudDecisions.WithLabelValues("tenant-1", "APPROVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FraudDecisions.WithLabelValues("tenant-1", "MANUAL_REVIEW")))
}

func TestFlowObserverRecordsDispatchAndAck(t *testing.T) {
	m := testMetrics(t)
	o := NewFlowObserver(m)
	base := time.Now()

	o.PublishTransition(transitionAt("corr-1", flow.StateDispatched, base, map[string]interface{}{
		"clearingSystem": "RTP",
	}))
	o.PublishTransition(transitionAt("corr-1", flow.StateClearingAck, base.Add(time.Millisecond), map[string]interface{}{
		"clearingSystem":   "RTP",
		"status":           "SUCCESS",
		"responseCode":     "ACSC",
		"processingTimeMs": int64(250),
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("RTP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClearingAcks.WithLabelValues("RTP", "ACSC")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ClearingLatency, "payment_clearing_latency_seconds"))
}

func TestFlowObserverRecordsMappingClauses(t *testing.T) {
	m := testMetrics(t)
	o := NewFlowObserver(m)
	base := time.Now()

	o.PublishTransition(transitionAt("corr-1", flow.StateMapped, base, map[string]interface{}{
		"mappingDocument": "pain001-to-pacs008",
		"clausesApplied":  7,
		"clausesSkipped":  2,
	}))
	// Transitions replayed from a JSON store carry float64 counts.
	o.PublishTransition(transitionAt("corr-1", flow.StateResponseMapped, base, map[string]interface{}{
		"mappingDocument": "pacs002-to-pain002",
		"clausesApplied":  float64(3),
	}))

	assert.Equal(t, 7.0, testutil.ToFloat64(m.MappingClauses.WithLabelValues("pain001-to-pacs008", "applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MappingClauses.WithLabelValues("pain001-to-pacs008", "skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MappingClauses.WithLabelValues("pacs002-to-pain002", "applied")))
}

func TestFlowObserverToleratesMissingMetadata(t *testing.T) {
	m := testMetrics(t)
	o := NewFlowObserver(m)
	base := time.Now()

	assert.NotPanics(t, func() {
		o.PublishTransition(transitionAt("corr-1", flow.StateFraudChecked, base, nil))
		o.PublishTransition(transitionAt("corr-1", flow.StateMapped, base, map[string]interface{}{}))
		o.PublishTransition(transitionAt("corr-1", flow.StateClearingAck, base, map[string]interface{}{
			"responseCode": "ACSC",
		}))
	})
	assert.Equal(t, 0, testutil.CollectAndCount(m.FraudDecisions, "payment_fraud_decisions_total"))
	assert.Equal(t, 0, testutil.CollectAndCount(m.MappingClauses, "payment_mapping_clauses_total"))
}

type staticStats []resilience.ExecutorStats

func (s staticStats) Stats(string) []resilience.ExecutorStats { return s }

func TestBreakerCollectorExportsSnapshot(t *testing.T) {
	collector := NewBreakerCollector(staticStats{
		{Service: "rtp", TenantID: "tenant-1", BreakerState: "CLOSED", WindowCalls: 10, Failures: 2, SlowCalls: 1, InFlight: 3},
		{Service: "sepa", TenantID: "tenant-2", BreakerState: "OPEN", WindowCalls: 4, Failures: 4},
	})

	expected := `
# HELP payment_breaker_state Circuit breaker state (0 closed, 1 half-open, 2 open)
# TYPE payment_breaker_state gauge
payment_breaker_state{service="rtp",tenant_id="tenant-1"} 0
payment_breaker_state{service="sepa",tenant_id="tenant-2"} 2
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected), "payment_breaker_state"))

	// Two executors, five series each.
	assert.Equal(t, 10, testutil.CollectAndCount(collector))
	assert.Equal(t, 1.0, breakerStateValue("HALF_OPEN"))
}

func TestDeliveryObserverCountsSettledDeliveries(t *testing.T) {
	ctx := context.Background()
	m := testMetrics(t)
	inner := webhook.NewMemoryStatusStore()
	store := ObserveDeliveries(inner, m)
	now := time.Now()

	d := &webhook.Delivery{
		DeliveryID:    "dl-1",
		CorrelationID: "corr-1",
		TenantID:      "tenant-1",
		MessageType:   "pain.001.001.09",
		State:         webhook.StateRetrying,
		Attempt:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Save(ctx, d))
	assert.Equal(t, 0, testutil.CollectAndCount(m.WebhookDeliveries, "payment_webhook_deliveries_total"),
		"non-terminal saves are not outcomes")

	d.State = webhook.StateDelivered
	d.Attempt = 3
	require.NoError(t, store.Save(ctx, d))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("tenant-1", "DELIVERED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WebhookAttempts, "payment_webhook_delivery_attempts"))

	got, err := store.ByCorrelation(ctx, "corr-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
