package resilience

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ProbeFunc actively checks one downstream service, returning nil when the
// service answers. The registry caps each invocation with the policy's
// health-check timeout.
type ProbeFunc func(ctx context.Context) error

type probeResult struct {
	healthy   bool
	detail    string
	checkedAt time.Time
}

// ServiceHealth is the externally visible health of one downstream service
// as seen by one tenant's executor.
type ServiceHealth struct {
	Service      string    `json:"service"`
	TenantID     string    `json:"tenantId"`
	Healthy      bool      `json:"healthy"`
	BreakerState string    `json:"breakerState"`
	InFlight     int       `json:"inFlight"`
	Probe        string    `json:"probe,omitempty"`
	CheckedAt    time.Time `json:"checkedAt,omitempty"`
}

// HealthMonitor combines passive breaker state with optional active probes.
// Probe results are memoized per service for the policy's health-check
// interval, so a burst of status queries costs at most one probe per service.
type HealthMonitor struct {
	registry *Registry

	mu      sync.RWMutex
	probes  map[string]ProbeFunc
	results map[string]probeResult
}

func NewHealthMonitor(registry *Registry) *HealthMonitor {
	return &HealthMonitor{
		registry: registry,
		probes:   make(map[string]ProbeFunc),
		results:  make(map[string]probeResult),
	}
}

// RegisterProbe attaches an active check for a service. Services without a
// probe are judged on breaker state alone.
func (h *HealthMonitor) RegisterProbe(service string, probe ProbeFunc) {
	h.mu.Lock()
	h.probes[service] = probe
	h.mu.Unlock()
}

// Status reports health for every live executor, filtered by tenant when
// tenantID is non-empty. A service is healthy when its breaker is not OPEN
// and its probe, if enabled, last passed.
func (h *HealthMonitor) Status(ctx context.Context, tenantID string) []ServiceHealth {
	h.registry.mu.RLock()
	executors := make([]*Executor, 0, len(h.registry.executors))
	for _, ex := range h.registry.executors {
		if tenantID != "" && ex.tenantID != tenantID {
			continue
		}
		executors = append(executors, ex)
	}
	h.registry.mu.RUnlock()

	out := make([]ServiceHealth, 0, len(executors))
	for _, ex := range executors {
		state := ex.breaker.State()
		sh := ServiceHealth{
			Service:      ex.service,
			TenantID:     ex.tenantID,
			Healthy:      state != StateOpen,
			BreakerState: state.String(),
			InFlight:     ex.bulkhead.InFlight(),
		}
		if ex.policy.HealthCheck.Enabled {
			if res, ok := h.probe(ctx, ex.service, ex.policy.HealthCheck); ok {
				sh.CheckedAt = res.checkedAt
				if res.healthy {
					sh.Probe = "PASS"
				} else {
					sh.Probe = "FAIL: " + res.detail
					sh.Healthy = false
				}
			}
		}
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Service < out[j].Service
	})
	return out
}

// probe returns the memoized result, refreshing it when older than the
// policy interval. The second return is false when no probe is registered.
func (h *HealthMonitor) probe(ctx context.Context, service string, s HealthCheckSettings) (probeResult, bool) {
	h.mu.RLock()
	fn, registered := h.probes[service]
	res, cached := h.results[service]
	h.mu.RUnlock()

	if !registered {
		return probeResult{}, false
	}
	ttl := s.Interval
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if cached && time.Since(res.checkedAt) < ttl {
		return res, true
	}

	probeCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	res = probeResult{healthy: true, checkedAt: time.Now()}
	if err := fn(probeCtx); err != nil {
		res.healthy = false
		res.detail = err.Error()
	}

	h.mu.Lock()
	h.results[service] = res
	h.mu.Unlock()
	return res, true
}
