package resilience

import "context"

type attemptKey struct{}

// ContextWithAttempt tags ctx with the 1-based attempt number of the
// current retry iteration.
func ContextWithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext reports which retry attempt the current call is, or 1
// when the call runs outside a retry loop.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}
