// Package resilience provides the outbound-call protection primitives: a
// count-based circuit breaker with slow-call tracking, kind-aware retry,
// semaphore bulkhead, token-bucket rate limiter, call time limiter and
// fallback, composed in a fixed order by Executor.
package resilience

import (
	"fmt"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// CircuitBreakerSettings tunes one breaker. WindowSize 0 disables the
// breaker entirely.
type CircuitBreakerSettings struct {
	WindowSize           int           `json:"windowSize" yaml:"windowSize"`
	MinimumCalls         int           `json:"minimumCalls" yaml:"minimumCalls"`
	FailureRateThreshold float64       `json:"failureRateThreshold" yaml:"failureRateThreshold"`
	SlowRateThreshold    float64       `json:"slowRateThreshold" yaml:"slowRateThreshold"`
	SlowCallDuration     time.Duration `json:"slowCallDuration" yaml:"slowCallDuration"`
	WaitDuration         time.Duration `json:"waitDuration" yaml:"waitDuration"`
	PermittedProbes      int           `json:"permittedProbes" yaml:"permittedProbes"`
}

// RetrySettings tunes the retry loop. MaxAttempts counts the initial call,
// so 1 disables retrying. RetryOn defaults to DISPATCH_TRANSIENT only.
type RetrySettings struct {
	MaxAttempts int              `json:"maxAttempts" yaml:"maxAttempts"`
	Wait        time.Duration    `json:"wait" yaml:"wait"`
	MaxWait     time.Duration    `json:"maxWait" yaml:"maxWait"`
	Multiplier  float64          `json:"multiplier" yaml:"multiplier"`
	Jitter      float64          `json:"jitter" yaml:"jitter"`
	RetryOn     []core.ErrorKind `json:"retryOn,omitempty" yaml:"retryOn,omitempty"`
}

// BulkheadSettings bounds concurrent calls. MaxConcurrent 0 disables the
// bulkhead; MaxWait is how long an acquire may block before SATURATED.
type BulkheadSettings struct {
	MaxConcurrent int           `json:"maxConcurrent" yaml:"maxConcurrent"`
	MaxWait       time.Duration `json:"maxWait" yaml:"maxWait"`
}

// TimeLimiterSettings bounds a single call attempt. Timeout 0 disables it.
type TimeLimiterSettings struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// RateLimiterSettings is a token bucket. RPS 0 disables it; exceeding the
// bucket fails immediately with SATURATED.
type RateLimiterSettings struct {
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

// HealthCheckSettings configures the optional per-service probe.
type HealthCheckSettings struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Path     string        `json:"path,omitempty" yaml:"path,omitempty"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// Policy is the full resilience configuration for one (service, tenant)
// pair. Primitives with zero-value settings are skipped by the executor.
type Policy struct {
	Service        string                 `json:"service" yaml:"service"`
	CircuitBreaker CircuitBreakerSettings `json:"circuitBreaker" yaml:"circuitBreaker"`
	Retry          RetrySettings          `json:"retry" yaml:"retry"`
	Bulkhead       BulkheadSettings       `json:"bulkhead" yaml:"bulkhead"`
	TimeLimiter    TimeLimiterSettings    `json:"timeLimiter" yaml:"timeLimiter"`
	RateLimiter    RateLimiterSettings    `json:"rateLimiter" yaml:"rateLimiter"`
	HealthCheck    HealthCheckSettings    `json:"healthCheck" yaml:"healthCheck"`
}

// DefaultPolicy returns the baseline every service starts from. Tenant and
// service overrides are merged on top by the configuration resolver.
func DefaultPolicy(service string) Policy {
	return Policy{
		Service: service,
		CircuitBreaker: CircuitBreakerSettings{
			WindowSize:           20,
			MinimumCalls:         5,
			FailureRateThreshold: 0.5,
			SlowRateThreshold:    0.8,
			SlowCallDuration:     5 * time.Second,
			WaitDuration:         30 * time.Second,
			PermittedProbes:      3,
		},
		Retry: RetrySettings{
			MaxAttempts: 3,
			Wait:        200 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.1,
		},
		Bulkhead: BulkheadSettings{
			MaxConcurrent: 25,
			MaxWait:       500 * time.Millisecond,
		},
		TimeLimiter: TimeLimiterSettings{
			Timeout: 10 * time.Second,
		},
		RateLimiter: RateLimiterSettings{
			RPS:   100,
			Burst: 50,
		},
		HealthCheck: HealthCheckSettings{
			Enabled:  false,
			Interval: 30 * time.Second,
			Timeout:  3 * time.Second,
		},
	}
}

// Validate rejects settings the primitives cannot run with.
func (p Policy) Validate() error {
	cb := p.CircuitBreaker
	if cb.WindowSize > 0 {
		if cb.FailureRateThreshold <= 0 || cb.FailureRateThreshold > 1 {
			return fmt.Errorf("policy %s: failureRateThreshold %.2f outside (0,1]", p.Service, cb.FailureRateThreshold)
		}
		if cb.SlowRateThreshold < 0 || cb.SlowRateThreshold > 1 {
			return fmt.Errorf("policy %s: slowRateThreshold %.2f outside [0,1]", p.Service, cb.SlowRateThreshold)
		}
		if cb.MinimumCalls < 1 || cb.MinimumCalls > cb.WindowSize {
			return fmt.Errorf("policy %s: minimumCalls %d outside [1,windowSize]", p.Service, cb.MinimumCalls)
		}
		if cb.WaitDuration <= 0 {
			return fmt.Errorf("policy %s: waitDuration must be positive", p.Service)
		}
		if cb.PermittedProbes < 1 {
			return fmt.Errorf("policy %s: permittedProbes must be at least 1", p.Service)
		}
	}
	if p.Retry.MaxAttempts < 1 {
		return fmt.Errorf("policy %s: retry maxAttempts must be at least 1", p.Service)
	}
	if p.Retry.MaxAttempts > 1 {
		if p.Retry.Wait <= 0 {
			return fmt.Errorf("policy %s: retry wait must be positive", p.Service)
		}
		if p.Retry.Multiplier < 1 {
			return fmt.Errorf("policy %s: retry multiplier must be >= 1", p.Service)
		}
	}
	if p.Bulkhead.MaxConcurrent < 0 || p.RateLimiter.RPS < 0 {
		return fmt.Errorf("policy %s: negative capacity", p.Service)
	}
	if p.RateLimiter.RPS > 0 && p.RateLimiter.Burst < 1 {
		return fmt.Errorf("policy %s: rate limiter burst must be at least 1", p.Service)
	}
	return nil
}

// retryOn reports whether kind is in the declared transient set.
func (s RetrySettings) retryOn(kind core.ErrorKind) bool {
	if len(s.RetryOn) == 0 {
		return kind == core.KindDispatchTransient
	}
	for _, k := range s.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}
