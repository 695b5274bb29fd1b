package resilience

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Retrier re-runs an operation on declared-transient error kinds with
// exponential backoff. Anything outside the RetryOn set returns immediately;
// so does context cancellation, which also aborts a pending wait.
type Retrier struct {
	settings RetrySettings
}

func NewRetrier(s RetrySettings) *Retrier {
	return &Retrier{settings: s}
}

// ExhaustedError reports that every attempt failed on a retryable kind.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Do runs op up to MaxAttempts times. The attempt number (1-based) is passed
// through so callers can log or tag requests.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context, attempt int) (interface{}, error)) (interface{}, error) {
	attempts := r.settings.MaxAttempts
	if attempts <= 1 {
		return op(ctx, 1)
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     r.settings.Wait,
		RandomizationFactor: r.settings.Jitter,
		Multiplier:          r.settings.Multiplier,
		MaxInterval:         r.settings.MaxWait,
	}
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !r.settings.retryOn(core.KindOf(err)) {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, core.E(core.KindCancelled, "retry.wait", ctx.Err())
		case <-time.After(bo.NextBackOff()):
		}
	}
	return nil, &ExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// RetryableStatus reports whether an HTTP status is a transient dispatch
// failure: any 5xx, plus 408 (request timeout), 425 (too early) and 429
// (rate limited). The webhook engine shares the same set.
func RetryableStatus(code int) bool {
	if code >= 500 {
		return true
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP response status to an error kind. 2xx maps to
// the empty kind.
func ClassifyStatus(code int) core.ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return ""
	case RetryableStatus(code):
		return core.KindDispatchTransient
	default:
		return core.KindDispatchPermanent
	}
}
