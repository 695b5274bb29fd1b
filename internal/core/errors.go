package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy every pipeline stage classifies its failures
// into. Kinds drive retry and fallback decisions internally and are mapped
// to ISO 20022 status/reason pairs at the boundary; they are never surfaced
// raw to clients.
type ErrorKind string

const (
	KindValidation           ErrorKind = "VALIDATION"
	KindConfigurationMissing ErrorKind = "CONFIGURATION_MISSING"
	KindFraudRejected        ErrorKind = "FRAUD_REJECTED"
	KindFraudReview          ErrorKind = "FRAUD_REVIEW"
	KindMappingFailed        ErrorKind = "MAPPING_FAILED"
	KindDispatchTransient    ErrorKind = "DISPATCH_TRANSIENT"
	KindDispatchPermanent    ErrorKind = "DISPATCH_PERMANENT"
	KindCircuitOpen          ErrorKind = "CIRCUIT_OPEN"
	KindSaturated            ErrorKind = "SATURATED"
	KindTimedOut             ErrorKind = "TIMED_OUT"
	KindCancelled            ErrorKind = "CANCELLED"
	KindDuplicate            ErrorKind = "DUPLICATE"
	KindInternal             ErrorKind = "INTERNAL"
)

// FlowError attaches a taxonomy kind and the raising operation to an error.
type FlowError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *FlowError) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name. err may be nil when the kind
// itself is the whole story (e.g. DUPLICATE).
func E(kind ErrorKind, op string, err error) *FlowError {
	return &FlowError{Kind: kind, Op: op, Err: err}
}

// Errorf is E with an inline message.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *FlowError {
	return &FlowError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from an error chain. Context errors map
// to TIMED_OUT / CANCELLED; anything unclassified is INTERNAL.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimedOut
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
