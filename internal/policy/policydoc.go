package policy

import (
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/resilience"
)

// PolicyDoc is the serializable form of a resilience policy: what the
// service_policies table and YAML seeds store. Durations are written as
// strings; ToPolicy converts to the runtime type the dispatcher consumes.
type PolicyDoc struct {
	CircuitBreaker BreakerDoc     `json:"circuitBreaker" yaml:"circuitBreaker"`
	Retry          RetryDoc       `json:"retry" yaml:"retry"`
	Bulkhead       BulkheadDoc    `json:"bulkhead" yaml:"bulkhead"`
	TimeLimiter    TimeLimiterDoc `json:"timeLimiter" yaml:"timeLimiter"`
	RateLimiter    RateLimiterDoc `json:"rateLimiter" yaml:"rateLimiter"`
	HealthCheck    HealthDoc      `json:"healthCheck" yaml:"healthCheck"`
}

type BreakerDoc struct {
	WindowSize           int      `json:"windowSize" yaml:"windowSize"`
	MinimumCalls         int      `json:"minimumCalls" yaml:"minimumCalls"`
	FailureRateThreshold float64  `json:"failureRateThreshold" yaml:"failureRateThreshold"`
	SlowRateThreshold    float64  `json:"slowRateThreshold" yaml:"slowRateThreshold"`
	SlowCallDuration     Duration `json:"slowCallDuration" yaml:"slowCallDuration"`
	WaitDuration         Duration `json:"waitDuration" yaml:"waitDuration"`
	PermittedProbes      int      `json:"permittedProbes" yaml:"permittedProbes"`
}

type RetryDoc struct {
	MaxAttempts int              `json:"maxAttempts" yaml:"maxAttempts"`
	Wait        Duration         `json:"wait" yaml:"wait"`
	MaxWait     Duration         `json:"maxWait" yaml:"maxWait"`
	Multiplier  float64          `json:"multiplier" yaml:"multiplier"`
	Jitter      float64          `json:"jitter" yaml:"jitter"`
	RetryOn     []core.ErrorKind `json:"retryOn,omitempty" yaml:"retryOn,omitempty"`
}

type BulkheadDoc struct {
	MaxConcurrent int      `json:"maxConcurrent" yaml:"maxConcurrent"`
	MaxWait       Duration `json:"maxWait" yaml:"maxWait"`
}

type TimeLimiterDoc struct {
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type RateLimiterDoc struct {
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

type HealthDoc struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Path     string   `json:"path,omitempty" yaml:"path,omitempty"`
	Interval Duration `json:"interval" yaml:"interval"`
	Timeout  Duration `json:"timeout" yaml:"timeout"`
}

// ToPolicy builds the runtime policy for a service.
func (d PolicyDoc) ToPolicy(service string) resilience.Policy {
	return resilience.Policy{
		Service: service,
		CircuitBreaker: resilience.CircuitBreakerSettings{
			WindowSize:           d.CircuitBreaker.WindowSize,
			MinimumCalls:         d.CircuitBreaker.MinimumCalls,
			FailureRateThreshold: d.CircuitBreaker.FailureRateThreshold,
			SlowRateThreshold:    d.CircuitBreaker.SlowRateThreshold,
			SlowCallDuration:     d.CircuitBreaker.SlowCallDuration.Std(),
			WaitDuration:         d.CircuitBreaker.WaitDuration.Std(),
			PermittedProbes:      d.CircuitBreaker.PermittedProbes,
		},
		Retry: resilience.RetrySettings{
			MaxAttempts: d.Retry.MaxAttempts,
			Wait:        d.Retry.Wait.Std(),
			MaxWait:     d.Retry.MaxWait.Std(),
			Multiplier:  d.Retry.Multiplier,
			Jitter:      d.Retry.Jitter,
			RetryOn:     d.Retry.RetryOn,
		},
		Bulkhead: resilience.BulkheadSettings{
			MaxConcurrent: d.Bulkhead.MaxConcurrent,
			MaxWait:       d.Bulkhead.MaxWait.Std(),
		},
		TimeLimiter: resilience.TimeLimiterSettings{
			Timeout: d.TimeLimiter.Timeout.Std(),
		},
		RateLimiter: resilience.RateLimiterSettings{
			RPS:   d.RateLimiter.RPS,
			Burst: d.RateLimiter.Burst,
		},
		HealthCheck: resilience.HealthCheckSettings{
			Enabled:  d.HealthCheck.Enabled,
			Path:     d.HealthCheck.Path,
			Interval: d.HealthCheck.Interval.Std(),
			Timeout:  d.HealthCheck.Timeout.Std(),
		},
	}
}

// DocFromPolicy is the inverse of ToPolicy; admin surfaces use it to render
// effective policies.
func DocFromPolicy(p resilience.Policy) PolicyDoc {
	return PolicyDoc{
		CircuitBreaker: BreakerDoc{
			WindowSize:           p.CircuitBreaker.WindowSize,
			MinimumCalls:         p.CircuitBreaker.MinimumCalls,
			FailureRateThreshold: p.CircuitBreaker.FailureRateThreshold,
			SlowRateThreshold:    p.CircuitBreaker.SlowRateThreshold,
			SlowCallDuration:     Duration(p.CircuitBreaker.SlowCallDuration),
			WaitDuration:         Duration(p.CircuitBreaker.WaitDuration),
			PermittedProbes:      p.CircuitBreaker.PermittedProbes,
		},
		Retry: RetryDoc{
			MaxAttempts: p.Retry.MaxAttempts,
			Wait:        Duration(p.Retry.Wait),
			MaxWait:     Duration(p.Retry.MaxWait),
			Multiplier:  p.Retry.Multiplier,
			Jitter:      p.Retry.Jitter,
			RetryOn:     p.Retry.RetryOn,
		},
		Bulkhead: BulkheadDoc{
			MaxConcurrent: p.Bulkhead.MaxConcurrent,
			MaxWait:       Duration(p.Bulkhead.MaxWait),
		},
		TimeLimiter: TimeLimiterDoc{Timeout: Duration(p.TimeLimiter.Timeout)},
		RateLimiter: RateLimiterDoc{RPS: p.RateLimiter.RPS, Burst: p.RateLimiter.Burst},
		HealthCheck: HealthDoc{
			Enabled:  p.HealthCheck.Enabled,
			Path:     p.HealthCheck.Path,
			Interval: Duration(p.HealthCheck.Interval),
			Timeout:  Duration(p.HealthCheck.Timeout),
		},
	}
}
