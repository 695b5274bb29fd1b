package resilience

import (
	"golang.org/x/time/rate"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// RateLimiter is a token bucket in front of a downstream service. Exceeding
// the bucket fails immediately; callers are expected to surface the failure
// rather than queue, since it sits outermost in the execution chain.
type RateLimiter struct {
	limiter  *rate.Limiter
	settings RateLimiterSettings
}

// NewRateLimiter builds a limiter; RPS 0 disables it.
func NewRateLimiter(s RateLimiterSettings) *RateLimiter {
	rl := &RateLimiter{settings: s}
	if s.RPS > 0 {
		rl.limiter = rate.NewLimiter(rate.Limit(s.RPS), s.Burst)
	}
	return rl
}

// Allow consumes one token or fails with SATURATED.
func (rl *RateLimiter) Allow() error {
	if rl.limiter == nil {
		return nil
	}
	if !rl.limiter.Allow() {
		return core.Errorf(core.KindSaturated, "ratelimit.allow",
			"rate limit exceeded (%.0f rps, burst %d)", rl.settings.RPS, rl.settings.Burst)
	}
	return nil
}

// Tokens reports the remaining bucket fill for health surfaces.
func (rl *RateLimiter) Tokens() float64 {
	if rl.limiter == nil {
		return -1
	}
	return rl.limiter.Tokens()
}
