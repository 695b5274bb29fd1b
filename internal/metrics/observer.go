package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

// FlowObserver derives flow metrics from the orchestrator's transition
// feed. It keeps per-correlation timestamps to measure stage latency and
// end-to-end duration, released when the flow reaches a terminal state.
type FlowObserver struct {
	metrics *Metrics

	mu      sync.Mutex
	started map[string]time.Time
	lastAt  map[string]time.Time
}

// NewFlowObserver returns an observer recording into m.
func NewFlowObserver(m *Metrics) *FlowObserver {
	return &FlowObserver{
		metrics: m,
		started: make(map[string]time.Time),
		lastAt:  make(map[string]time.Time),
	}
}

var _ flow.Publisher = (*FlowObserver)(nil)

// PublishTransition records the transition and any stage-specific detail
// carried in its metadata.
func (o *FlowObserver) PublishTransition(tr flow.Transition) {
	o.metrics.Transitions.WithLabelValues(string(tr.Stage), tr.Status).Inc()

	o.mu.Lock()
	if tr.Stage == flow.StateIngress {
		o.started[tr.CorrelationID] = tr.At
	}
	prev, seen := o.lastAt[tr.CorrelationID]
	o.lastAt[tr.CorrelationID] = tr.At
	start, startSeen := o.started[tr.CorrelationID]
	if tr.Stage.Terminal() {
		delete(o.started, tr.CorrelationID)
		delete(o.lastAt, tr.CorrelationID)
	}
	o.mu.Unlock()

	if seen && !tr.At.Before(prev) {
		o.metrics.StageLatency.WithLabelValues(string(tr.Stage)).Observe(tr.At.Sub(prev).Seconds())
	}
	if tr.Stage.Terminal() {
		o.metrics.FlowsTotal.WithLabelValues(tr.TenantID, string(tr.Stage)).Inc()
		if startSeen && !tr.At.Before(start) {
			o.metrics.FlowDuration.WithLabelValues(string(tr.Stage)).Observe(tr.At.Sub(start).Seconds())
		}
	}

	switch tr.Stage {
	case flow.StateFraudChecked:
		if decision, ok := tr.Metadata["decision"].(string); ok {
			o.metrics.FraudDecisions.WithLabelValues(tr.TenantID, decision).Inc()
		}
	case flow.StateDispatched:
		if system, ok := tr.Metadata["clearingSystem"].(string); ok {
			o.metrics.DispatchTotal.WithLabelValues(system).Inc()
		}
	case flow.StateClearingAck:
		o.recordAck(tr.Metadata)
	case flow.StateMapped, flow.StateResponseMapped:
		o.recordClauses(tr.Metadata)
	}
}

// Tracking reports how many in-flight flows the observer currently times.
func (o *FlowObserver) Tracking() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lastAt)
}

func (o *FlowObserver) recordAck(meta map[string]interface{}) {
	system, _ := meta["clearingSystem"].(string)
	code, _ := meta["responseCode"].(string)
	o.metrics.ClearingAcks.WithLabelValues(system, code).Inc()
	if ms, ok := metaNumber(meta["processingTimeMs"]); ok && ms >= 0 {
		o.metrics.ClearingLatency.WithLabelValues(system).Observe(ms / 1000)
	}
}

func (o *FlowObserver) recordClauses(meta map[string]interface{}) {
	doc, ok := meta["mappingDocument"].(string)
	if !ok || doc == "" {
		return
	}
	if applied, ok := metaNumber(meta["clausesApplied"]); ok && applied > 0 {
		o.metrics.MappingClauses.WithLabelValues(doc, "applied").Add(applied)
	}
	if skipped, ok := metaNumber(meta["clausesSkipped"]); ok && skipped > 0 {
		o.metrics.MappingClauses.WithLabelValues(doc, "skipped").Add(skipped)
	}
}

// metaNumber reads a numeric metadata value. Transitions that crossed a
// JSON boundary carry float64 where the producer wrote an int.
func metaNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// DeliveryObserver wraps a webhook status store and counts deliveries as
// they settle. Reads pass through untouched.
type DeliveryObserver struct {
	inner   webhook.StatusStore
	metrics *Metrics
}

// ObserveDeliveries wraps inner so every terminal save is counted.
func ObserveDeliveries(inner webhook.StatusStore, m *Metrics) *DeliveryObserver {
	return &DeliveryObserver{inner: inner, metrics: m}
}

var _ webhook.StatusStore = (*DeliveryObserver)(nil)

func (s *DeliveryObserver) Save(ctx context.Context, d *webhook.Delivery) error {
	if err := s.inner.Save(ctx, d); err != nil {
		return err
	}
	if d.State.Terminal() {
		s.metrics.WebhookDeliveries.WithLabelValues(d.TenantID, string(d.State)).Inc()
		s.metrics.WebhookAttempts.WithLabelValues(d.TenantID).Observe(float64(d.Attempt))
	}
	return nil
}

func (s *DeliveryObserver) ByCorrelation(ctx context.Context, correlationID string) ([]*webhook.Delivery, error) {
	return s.inner.ByCorrelation(ctx, correlationID)
}

func (s *DeliveryObserver) History(ctx context.Context, tenantID, messageType string, limit int) ([]*webhook.Delivery, error) {
	return s.inner.History(ctx, tenantID, messageType, limit)
}
