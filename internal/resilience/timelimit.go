package resilience

import (
	"context"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// TimeLimiter puts a hard deadline on one call attempt. On breach the
// operation's context is cancelled and TIMED_OUT is returned immediately;
// the operation itself unwinds cooperatively in the background and its late
// result is discarded.
type TimeLimiter struct {
	settings TimeLimiterSettings
}

func NewTimeLimiter(s TimeLimiterSettings) *TimeLimiter {
	return &TimeLimiter{settings: s}
}

func (tl *TimeLimiter) Run(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if tl.settings.Timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, tl.settings.Timeout)
	defer cancel()

	type outcome struct {
		v   interface{}
		err error
	}
	// Buffered so the op goroutine can always complete its send and exit,
	// even when the deadline fired and nobody is receiving.
	done := make(chan outcome, 1)
	go func() {
		v, err := op(callCtx)
		done <- outcome{v: v, err: err}
	}()

	select {
	case out := <-done:
		return out.v, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, core.E(core.KindCancelled, "timelimiter.run", ctx.Err())
		}
		return nil, core.Errorf(core.KindTimedOut, "timelimiter.run",
			"call exceeded %s", tl.settings.Timeout)
	}
}
