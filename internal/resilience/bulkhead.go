package resilience

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Bulkhead bounds the number of concurrent calls to one downstream service.
// Acquisition blocks up to MaxWait; a timed-out wait fails with SATURATED
// without ever starting the call. A cancelled caller releases nothing
// because it acquired nothing.
type Bulkhead struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	settings BulkheadSettings
}

// NewBulkhead builds a bulkhead; MaxConcurrent 0 disables it.
func NewBulkhead(s BulkheadSettings) *Bulkhead {
	b := &Bulkhead{settings: s}
	if s.MaxConcurrent > 0 {
		b.sem = semaphore.NewWeighted(int64(s.MaxConcurrent))
	}
	return b
}

// Acquire obtains a permit, waiting at most MaxWait. The returned release
// function must be called exactly once; it is safe to defer.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	if b.sem == nil {
		return func() {}, nil
	}
	waitCtx := ctx
	if b.settings.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.settings.MaxWait)
		defer cancel()
	}
	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, core.E(core.KindCancelled, "bulkhead.acquire", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.Errorf(core.KindSaturated, "bulkhead.acquire",
				"no permit within %s (max %d concurrent)", b.settings.MaxWait, b.settings.MaxConcurrent)
		}
		return nil, core.E(core.KindSaturated, "bulkhead.acquire", err)
	}
	b.inFlight.Add(1)
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			b.inFlight.Add(-1)
			b.sem.Release(1)
		}
	}, nil
}

// InFlight reports how many permits are currently held. Health surfaces use
// it; it is not part of any admission decision.
func (b *Bulkhead) InFlight() int {
	return int(b.inFlight.Load())
}
