package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kranthikarthan/PE-sub004/internal/tenant"
)

// RateLimitConfig defines the per-tenant ingress budget.
type RateLimitConfig struct {
	PerMinute int // sustained requests per minute per tenant
	Burst     int // token bucket size
}

// RateLimiter enforces a token-bucket budget per tenant. A numeric
// "rateLimitPerMinute" in the tenant settings overrides the default rate.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	defaults RateLimitConfig
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 600
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		defaults: cfg,
	}
}

// limiterFor returns the tenant's limiter, creating it on first sight.
func (rl *RateLimiter) limiterFor(rec *tenant.Record) *rate.Limiter {
	rl.mu.RLock()
	lim, ok := rl.limiters[rec.TenantID]
	rl.mu.RUnlock()
	if ok {
		return lim
	}

	perMinute := rl.defaults.PerMinute
	if v, ok := rec.Settings["rateLimitPerMinute"].(float64); ok && v > 0 {
		perMinute = int(v)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if lim, ok := rl.limiters[rec.TenantID]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), rl.defaults.Burst)
	rl.limiters[rec.TenantID] = lim
	return lim
}

// Middleware rejects requests above the tenant's budget with 429 and a
// Retry-After hint. It must run after TenantAuth.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := tenant.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing tenant credentials")
			return
		}

		res := rl.limiterFor(rec).Reserve()
		if !res.OK() {
			retryAfter(w, time.Minute)
			return
		}
		if d := res.Delay(); d > 0 {
			res.Cancel()
			retryAfter(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats reports the limiter's current shape for the health endpoint.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return map[string]interface{}{
		"active_tenants": len(rl.limiters),
		"per_minute":     rl.defaults.PerMinute,
		"burst":          rl.defaults.Burst,
	}
}

func retryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}
