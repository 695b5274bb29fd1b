package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

func testExecutorPolicy(service string) Policy {
	return Policy{
		Service: service,
		CircuitBreaker: CircuitBreakerSettings{
			WindowSize:           4,
			MinimumCalls:         2,
			FailureRateThreshold: 0.5,
			WaitDuration:         50 * time.Millisecond,
			PermittedProbes:      1,
		},
		Retry: RetrySettings{
			MaxAttempts: 3,
			Wait:        time.Millisecond,
			MaxWait:     5 * time.Millisecond,
			Multiplier:  2.0,
		},
		Bulkhead:    BulkheadSettings{MaxConcurrent: 4, MaxWait: 20 * time.Millisecond},
		TimeLimiter: TimeLimiterSettings{Timeout: 200 * time.Millisecond},
		RateLimiter: RateLimiterSettings{RPS: 1000, Burst: 1000},
	}
}

func staticPolicies(p Policy) PolicyLookup {
	return func(service, tenantID string) Policy { return p }
}

func TestExecutorRetriesInsideOneBreakerCall(t *testing.T) {
	ex := NewExecutor("clearing-gateway", "T1", testExecutorPolicy("clearing-gateway"), nil, nil)

	calls := 0
	v, err := ex.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, core.Errorf(core.KindDispatchTransient, "dispatch.clearing", "connection reset")
		}
		return "accepted", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "accepted", v)
	assert.Equal(t, 2, calls)

	// The retried sequence lands in the window as one clean success, so a
	// transient blip leaves the breaker untouched.
	assert.Equal(t, StateClosed, ex.Breaker().State())
	c := ex.Breaker().Counts()
	assert.Equal(t, 1, c.Calls)
	assert.Equal(t, 0, c.Failures)
}

func TestExecutorOpenCircuitUsesFallback(t *testing.T) {
	var fallbackKinds []core.ErrorKind
	fallback := func(ctx context.Context, err error) (interface{}, error) {
		fallbackKinds = append(fallbackKinds, core.KindOf(err))
		return "canonical-negative", nil
	}
	ex := NewExecutor("clearing-gateway", "T1", testExecutorPolicy("clearing-gateway"), fallback, nil)

	// Two permanent failures trip the breaker (window minimum 2, rate 1.0).
	permanent := func(ctx context.Context) (interface{}, error) {
		return nil, core.Errorf(core.KindDispatchPermanent, "dispatch.clearing", "422")
	}
	for i := 0; i < 2; i++ {
		v, err := ex.Execute(context.Background(), permanent)
		require.NoError(t, err)
		assert.Equal(t, "canonical-negative", v)
	}
	require.Equal(t, StateOpen, ex.Breaker().State())

	// The open breaker fails fast; the operation never runs and the
	// fallback sees CIRCUIT_OPEN.
	invoked := false
	v, err := ex.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "canonical-negative", v)
	assert.False(t, invoked)
	require.Len(t, fallbackKinds, 3)
	assert.Equal(t, core.KindDispatchPermanent, fallbackKinds[0])
	assert.Equal(t, core.KindCircuitOpen, fallbackKinds[2])
}

func TestExecutorErrorsSurfaceWithoutFallback(t *testing.T) {
	ex := NewExecutor("clearing-gateway", "T1", testExecutorPolicy("clearing-gateway"), nil, nil)

	permanent := func(ctx context.Context) (interface{}, error) {
		return nil, core.Errorf(core.KindDispatchPermanent, "dispatch.clearing", "422")
	}
	for i := 0; i < 2; i++ {
		_, err := ex.Execute(context.Background(), permanent)
		assert.Equal(t, core.KindDispatchPermanent, core.KindOf(err))
	}

	_, err := ex.Execute(context.Background(), okCall)
	require.Error(t, err)
	assert.Equal(t, core.KindCircuitOpen, core.KindOf(err))
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestExecutorCancelBypassesFallback(t *testing.T) {
	fallbackCalled := false
	fallback := func(ctx context.Context, err error) (interface{}, error) {
		fallbackCalled = true
		return "canonical-negative", nil
	}
	ex := NewExecutor("clearing-gateway", "T1", testExecutorPolicy("clearing-gateway"), fallback, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Execute(ctx, okCall)

	require.Error(t, err)
	assert.Equal(t, core.KindCancelled, core.KindOf(err))
	assert.False(t, fallbackCalled, "a cancelled flow must not receive a substitute response")
}

func TestExecutorRateLimitSaturates(t *testing.T) {
	p := testExecutorPolicy("fraud-api")
	p.RateLimiter = RateLimiterSettings{RPS: 1, Burst: 1}
	ex := NewExecutor("fraud-api", "T1", p, nil, nil)

	_, err := ex.Execute(context.Background(), okCall)
	require.NoError(t, err)

	invoked := false
	_, err = ex.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "ok", nil
	})
	require.Error(t, err)
	assert.Equal(t, core.KindSaturated, core.KindOf(err))
	assert.False(t, invoked)
	// Shed load never reaches the breaker window.
	assert.Equal(t, 1, ex.Breaker().Counts().Calls)
}

func TestRegistryReusesAndRebuildsExecutors(t *testing.T) {
	var lookups atomic.Int32
	r := NewRegistry(func(service, tenantID string) Policy {
		lookups.Add(1)
		return testExecutorPolicy(service)
	})

	a := r.For("clearing-gateway", "T1")
	b := r.For("clearing-gateway", "T1")
	assert.Same(t, a, b)
	assert.EqualValues(t, 1, lookups.Load())

	other := r.For("clearing-gateway", "T2")
	assert.NotSame(t, a, other)
	assert.EqualValues(t, 2, lookups.Load())

	r.Invalidate("clearing-gateway", "T1")
	rebuilt := r.For("clearing-gateway", "T1")
	assert.NotSame(t, a, rebuilt)
	assert.EqualValues(t, 3, lookups.Load())
}

func TestRegistryFallbackAppliesToNewExecutors(t *testing.T) {
	r := NewRegistry(staticPolicies(testExecutorPolicy("fraud-api")))
	r.SetFallback("fraud-api", func(ctx context.Context, err error) (interface{}, error) {
		return "manual-review", nil
	})

	v, err := r.Execute(context.Background(), "fraud-api", "T1", func(ctx context.Context) (interface{}, error) {
		return nil, core.Errorf(core.KindDispatchPermanent, "fraud.assess", "400")
	})
	require.NoError(t, err)
	assert.Equal(t, "manual-review", v)
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(staticPolicies(testExecutorPolicy("clearing-gateway")))

	r.Execute(context.Background(), "clearing-gateway", "T1", okCall)
	r.Execute(context.Background(), "clearing-gateway", "T2", okCall)

	all := r.Stats("")
	assert.Len(t, all, 2)

	t1 := r.Stats("T1")
	require.Len(t, t1, 1)
	assert.Equal(t, "clearing-gateway", t1[0].Service)
	assert.Equal(t, "T1", t1[0].TenantID)
	assert.Equal(t, "CLOSED", t1[0].BreakerState)
	assert.Equal(t, 1, t1[0].WindowCalls)
}

// ============================================================================
// Health monitor
// ============================================================================

func TestHealthMonitorCombinesBreakerAndProbe(t *testing.T) {
	p := testExecutorPolicy("clearing-gateway")
	p.HealthCheck = HealthCheckSettings{Enabled: true, Interval: time.Minute, Timeout: 50 * time.Millisecond}
	r := NewRegistry(staticPolicies(p))
	h := NewHealthMonitor(r)

	var probes atomic.Int32
	h.RegisterProbe("clearing-gateway", func(ctx context.Context) error {
		probes.Add(1)
		return nil
	})

	r.Execute(context.Background(), "clearing-gateway", "T1", okCall)

	status := h.Status(context.Background(), "T1")
	require.Len(t, status, 1)
	assert.True(t, status[0].Healthy)
	assert.Equal(t, "CLOSED", status[0].BreakerState)
	assert.Equal(t, "PASS", status[0].Probe)

	// Within the interval the memoized result is reused.
	h.Status(context.Background(), "T1")
	assert.EqualValues(t, 1, probes.Load())
}

func TestHealthMonitorFailingProbeMarksUnhealthy(t *testing.T) {
	p := testExecutorPolicy("fraud-api")
	p.HealthCheck = HealthCheckSettings{Enabled: true, Interval: time.Minute, Timeout: 50 * time.Millisecond}
	r := NewRegistry(staticPolicies(p))
	h := NewHealthMonitor(r)

	h.RegisterProbe("fraud-api", func(ctx context.Context) error {
		return errors.New("connect: connection refused")
	})
	r.Execute(context.Background(), "fraud-api", "T1", okCall)

	status := h.Status(context.Background(), "T1")
	require.Len(t, status, 1)
	assert.False(t, status[0].Healthy)
	assert.Equal(t, "CLOSED", status[0].BreakerState)
	assert.Contains(t, status[0].Probe, "FAIL")
}

func TestHealthMonitorOpenBreakerIsUnhealthy(t *testing.T) {
	r := NewRegistry(staticPolicies(testExecutorPolicy("clearing-gateway")))
	h := NewHealthMonitor(r)

	permanent := func(ctx context.Context) (interface{}, error) {
		return nil, core.Errorf(core.KindDispatchPermanent, "dispatch.clearing", "404")
	}
	r.Execute(context.Background(), "clearing-gateway", "T1", permanent)
	r.Execute(context.Background(), "clearing-gateway", "T1", permanent)

	status := h.Status(context.Background(), "T1")
	require.Len(t, status, 1)
	assert.False(t, status[0].Healthy)
	assert.Equal(t, "OPEN", status[0].BreakerState)
}
