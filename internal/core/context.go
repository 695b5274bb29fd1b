package core

import "context"

type correlationKey struct{}

// ContextWithCorrelation tags ctx with the flow correlation id so
// downstream collaborators can attribute their records to the flow.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationFromContext returns the correlation id stamped on ctx, or ""
// when the work was not started by a flow.
func CorrelationFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
