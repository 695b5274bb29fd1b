package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Call is one outbound operation under resilience protection.
type Call func(ctx context.Context) (interface{}, error)

// Fallback maps a terminal failure to a canonical substitute result. It
// must be pure: no I/O, no retries of its own.
type Fallback func(ctx context.Context, err error) (interface{}, error)

// Executor composes the primitives for one (service, tenant) pair in fixed
// order, outermost first:
//
//	RateLimiter → Bulkhead → CircuitBreaker → Retry → TimeLimiter → call
//
// The breaker wraps the whole retry sequence, so a call that fails twice and
// then succeeds lands in the window as a single success. Fallback, when
// registered, catches whatever the chain finally gives up on, except
// cancellation, which always surfaces as-is.
type Executor struct {
	service  string
	tenantID string
	policy   Policy

	limiter     *RateLimiter
	bulkhead    *Bulkhead
	breaker     *CircuitBreaker
	retrier     *Retrier
	timeLimiter *TimeLimiter
	fallback    Fallback
}

// NewExecutor wires the primitives from one validated policy.
func NewExecutor(service, tenantID string, p Policy, fallback Fallback, onStateChange func(string, State, State)) *Executor {
	return &Executor{
		service:     service,
		tenantID:    tenantID,
		policy:      p,
		limiter:     NewRateLimiter(p.RateLimiter),
		bulkhead:    NewBulkhead(p.Bulkhead),
		breaker:     NewCircuitBreaker(service+"/"+tenantID, p.CircuitBreaker, onStateChange),
		retrier:     NewRetrier(p.Retry),
		timeLimiter: NewTimeLimiter(p.TimeLimiter),
		fallback:    fallback,
	}
}

func (e *Executor) Service() string  { return e.service }
func (e *Executor) TenantID() string { return e.tenantID }
func (e *Executor) Policy() Policy   { return e.policy }

// Breaker exposes the underlying breaker for health surfaces and tests.
func (e *Executor) Breaker() *CircuitBreaker { return e.breaker }

// Execute runs call under the full chain.
func (e *Executor) Execute(ctx context.Context, call Call) (interface{}, error) {
	v, err := e.run(ctx, call)
	if err == nil {
		return v, nil
	}
	if e.fallback != nil && core.KindOf(err) != core.KindCancelled {
		return e.fallback(ctx, err)
	}
	return nil, err
}

func (e *Executor) run(ctx context.Context, call Call) (interface{}, error) {
	if err := e.limiter.Allow(); err != nil {
		return nil, err
	}
	release, err := e.bulkhead.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := e.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return e.retrier.Do(ctx, func(ctx context.Context, attempt int) (interface{}, error) {
			return e.timeLimiter.Run(ContextWithAttempt(ctx, attempt), call)
		})
	})
	if errors.Is(err, ErrOpen) || errors.Is(err, ErrTooManyProbes) {
		return nil, core.E(core.KindCircuitOpen, "dispatch."+e.service, err)
	}
	return v, err
}

// ============================================================================
// Registry
// ============================================================================

// PolicyLookup resolves the effective policy for a (service, tenant) pair.
// The configuration resolver provides it; the registry never reaches into
// configuration storage itself.
type PolicyLookup func(service, tenantID string) Policy

// Registry hands out one Executor per (service, tenant), created lazily.
// Executors hold live state (windows, semaphores, buckets) and must be
// reused, never rebuilt per call.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]*Executor
	fallbacks map[string]Fallback // per service name
	policyFor PolicyLookup
}

func NewRegistry(policyFor PolicyLookup) *Registry {
	return &Registry{
		executors: make(map[string]*Executor),
		fallbacks: make(map[string]Fallback),
		policyFor: policyFor,
	}
}

// SetFallback registers the canonical negative response for a service.
// Call before the first Execute against that service; executors pick the
// fallback up at creation.
func (r *Registry) SetFallback(service string, fb Fallback) {
	r.mu.Lock()
	r.fallbacks[service] = fb
	r.mu.Unlock()
}

func executorKey(service, tenantID string) string { return service + "|" + tenantID }

// For returns the executor for (service, tenant), building it from the
// resolved policy on first use.
func (r *Registry) For(service, tenantID string) *Executor {
	key := executorKey(service, tenantID)

	r.mu.RLock()
	ex, ok := r.executors[key]
	r.mu.RUnlock()
	if ok {
		return ex
	}

	policy := r.policyFor(service, tenantID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if ex, ok = r.executors[key]; ok {
		return ex
	}
	ex = NewExecutor(service, tenantID, policy, r.fallbacks[service], logStateChange)
	r.executors[key] = ex
	return ex
}

// Execute is the registry-level entry point most callers use.
func (r *Registry) Execute(ctx context.Context, service, tenantID string, call Call) (interface{}, error) {
	return r.For(service, tenantID).Execute(ctx, call)
}

// Invalidate drops the executor for (service, tenant) so the next call
// rebuilds it from fresh policy. Live window/semaphore state is discarded.
func (r *Registry) Invalidate(service, tenantID string) {
	r.mu.Lock()
	delete(r.executors, executorKey(service, tenantID))
	r.mu.Unlock()
	slog.Info("Resilience executor invalidated", "service", service, "tenant_id", tenantID)
}

// InvalidateTenant drops every executor belonging to one tenant, forcing
// rebuilds from fresh policy on next use.
func (r *Registry) InvalidateTenant(tenantID string) {
	r.mu.Lock()
	for key, ex := range r.executors {
		if ex.tenantID == tenantID {
			delete(r.executors, key)
		}
	}
	r.mu.Unlock()
	slog.Info("Resilience executors invalidated", "tenant_id", tenantID)
}

// InvalidateAll clears every executor; used when a policy snapshot rolls.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.executors = make(map[string]*Executor)
	r.mu.Unlock()
	slog.Info("Resilience executor registry cleared")
}

// ExecutorStats is a point-in-time view of one executor for health surfaces.
type ExecutorStats struct {
	Service      string `json:"service"`
	TenantID     string `json:"tenantId"`
	BreakerState string `json:"breakerState"`
	WindowCalls  int    `json:"windowCalls"`
	Failures     int    `json:"failures"`
	SlowCalls    int    `json:"slowCalls"`
	InFlight     int    `json:"inFlight"`
}

// Stats snapshots all live executors, optionally filtered by tenant
// (empty string means all).
func (r *Registry) Stats(tenantID string) []ExecutorStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ExecutorStats, 0, len(r.executors))
	for _, ex := range r.executors {
		if tenantID != "" && ex.tenantID != tenantID {
			continue
		}
		c := ex.breaker.Counts()
		out = append(out, ExecutorStats{
			Service:      ex.service,
			TenantID:     ex.tenantID,
			BreakerState: ex.breaker.State().String(),
			WindowCalls:  c.Calls,
			Failures:     c.Failures,
			SlowCalls:    c.Slow,
			InFlight:     ex.bulkhead.InFlight(),
		})
	}
	return out
}

func logStateChange(name string, from, to State) {
	slog.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
}
