package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

// StatsSource yields a snapshot of every live resilience executor. An
// empty tenant filter means all tenants.
type StatsSource interface {
	Stats(tenantID string) []resilience.ExecutorStats
}

// BreakerCollector exports the resilience registry as gauges computed at
// scrape time rather than on every guarded call.
type BreakerCollector struct {
	source StatsSource

	state       *prometheus.Desc
	inFlight    *prometheus.Desc
	windowCalls *prometheus.Desc
	failures    *prometheus.Desc
	slowCalls   *prometheus.Desc
}

// NewBreakerCollector returns a collector reading from source. Register it
// alongside the Metrics vectors.
func NewBreakerCollector(source StatsSource) *BreakerCollector {
	labels := []string{"service", "tenant_id"}
	return &BreakerCollector{
		source: source,
		state: prometheus.NewDesc(
			"payment_breaker_state",
			"Circuit breaker state (0 closed, 1 half-open, 2 open)",
			labels, nil,
		),
		inFlight: prometheus.NewDesc(
			"payment_bulkhead_in_flight",
			"Calls currently holding a bulkhead slot",
			labels, nil,
		),
		windowCalls: prometheus.NewDesc(
			"payment_breaker_window_calls",
			"Calls observed in the breaker's sliding window",
			labels, nil,
		),
		failures: prometheus.NewDesc(
			"payment_breaker_window_failures",
			"Failed calls in the breaker's sliding window",
			labels, nil,
		),
		slowCalls: prometheus.NewDesc(
			"payment_breaker_window_slow_calls",
			"Slow calls in the breaker's sliding window",
			labels, nil,
		),
	}
}

var _ prometheus.Collector = (*BreakerCollector)(nil)

func (c *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.inFlight
	ch <- c.windowCalls
	ch <- c.failures
	ch <- c.slowCalls
}

func (c *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.Stats("") {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, breakerStateValue(s.BreakerState), s.Service, s.TenantID)
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight), s.Service, s.TenantID)
		ch <- prometheus.MustNewConstMetric(c.windowCalls, prometheus.GaugeValue, float64(s.WindowCalls), s.Service, s.TenantID)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(s.Failures), s.Service, s.TenantID)
		ch <- prometheus.MustNewConstMetric(c.slowCalls, prometheus.GaugeValue, float64(s.SlowCalls), s.Service, s.TenantID)
	}
}

func breakerStateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 2
	case "HALF_OPEN":
		return 1
	}
	return 0
}
