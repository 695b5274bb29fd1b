// Package metrics exposes Prometheus instrumentation for the payment
// pipeline. A FlowObserver taps the orchestrator's transition feed, a
// delivery observer wraps the webhook status store, and BreakerCollector
// reads the resilience registry on scrape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payment pipeline.
type Metrics struct {
	// Flow metrics
	FlowsTotal   *prometheus.CounterVec
	FlowDuration *prometheus.HistogramVec
	Transitions  *prometheus.CounterVec
	StageLatency *prometheus.HistogramVec

	// Clearing metrics
	DispatchTotal   *prometheus.CounterVec
	ClearingAcks    *prometheus.CounterVec
	ClearingLatency *prometheus.HistogramVec

	// Fraud metrics
	FraudDecisions *prometheus.CounterVec

	// Mapping metrics
	MappingClauses *prometheus.CounterVec

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec
	WebhookAttempts   *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Terminal Flow Counter
		FlowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_flows_total",
				Help: "Total number of payment flows by terminal state",
			},
			[]string{"tenant_id", "state"}, // state: EMITTED, FLOW_REJECTED, FLOW_PENDING, FALLBACK_EMITTED
		),

		// Flow Duration Histogram
		FlowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_flow_duration_seconds",
				Help:    "Duration from ingress to terminal state",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),

		// Transition Counter
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_flow_transitions_total",
				Help: "Total number of flow machine transitions",
			},
			[]string{"stage", "status"}, // status: OK or the error kind
		),

		// Stage Latency Histogram
		StageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_flow_stage_seconds",
				Help:    "Time spent between consecutive flow stages",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"stage"},
		),

		// Dispatch Counter
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_dispatch_total",
				Help: "Total number of dispatches handed to a clearing system",
			},
			[]string{"clearing_system"},
		),

		// Clearing Acknowledgement Counter
		ClearingAcks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_clearing_acks_total",
				Help: "Total number of clearing acknowledgements by response code",
			},
			[]string{"clearing_system", "response_code"},
		),

		// Clearing Latency Histogram
		ClearingLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_clearing_latency_seconds",
				Help:    "Clearing system processing time as reported in the acknowledgement",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"clearing_system"},
		),

		// Fraud Decision Counter
		FraudDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_fraud_decisions_total",
				Help: "Total number of fraud decisions",
			},
			[]string{"tenant_id", "decision"}, // decision: APPROVE, REJECT, MANUAL_REVIEW
		),

		// Mapping Clause Counter
		MappingClauses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_mapping_clauses_total",
				Help: "Total number of mapping clauses evaluated",
			},
			[]string{"document", "result"}, // result: applied, skipped
		),

		// Webhook Delivery Counter
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_deliveries_total",
				Help: "Total number of webhook deliveries reaching a terminal state",
			},
			[]string{"tenant_id", "state"}, // state: DELIVERED, GIVEN_UP
		),

		// Webhook Attempt Histogram
		WebhookAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_webhook_delivery_attempts",
				Help:    "Attempts needed before a webhook delivery settled",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"tenant_id"},
		),
	}
}
