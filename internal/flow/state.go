package flow

import (
	"context"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// State is one stage of the payment flow machine.
type State string

const (
	StateIngress         State = "INGRESS"
	StateParsed          State = "PARSED"
	StatePolicyResolved  State = "POLICY_RESOLVED"
	StateFraudChecked    State = "FRAUD_CHECKED"
	StateMapped          State = "MAPPED"
	StateDispatched      State = "DISPATCHED"
	StateClearingAck     State = "CLEARING_ACK"
	StateResponseMapped  State = "RESPONSE_MAPPED"
	StateEmitted         State = "EMITTED"
	StateFlowRejected    State = "FLOW_REJECTED"
	StateFlowPending     State = "FLOW_PENDING"
	StateFallbackEmitted State = "FALLBACK_EMITTED"
)

// Terminal reports whether the machine stops at s.
func (s State) Terminal() bool {
	switch s {
	case StateEmitted, StateFlowRejected, StateFlowPending, StateFallbackEmitted:
		return true
	}
	return false
}

// validTransitions is the edge set of the machine. Validation failures and
// non-dispatch errors acknowledge through EMITTED, fraud decisions land on
// FLOW_REJECTED / FLOW_PENDING, duplicates on FLOW_REJECTED, and exhausted
// dispatch on FALLBACK_EMITTED. The empty state is "not started".
var validTransitions = map[State][]State{
	"":                  {StateIngress},
	StateIngress:        {StateParsed, StateEmitted},
	StateParsed:         {StatePolicyResolved, StateEmitted, StateFlowRejected},
	StatePolicyResolved: {StateFraudChecked, StateEmitted},
	StateFraudChecked:   {StateMapped, StateFlowRejected, StateFlowPending},
	StateMapped:         {StateDispatched, StateEmitted, StateFallbackEmitted},
	StateDispatched:     {StateClearingAck, StateFallbackEmitted},
	StateClearingAck:    {StateResponseMapped, StateFallbackEmitted},
	StateResponseMapped: {StateEmitted},
}

// CanTransition reports whether s → to is an edge of the machine.
func (s State) CanTransition(to State) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusOK marks a transition on the success path; failed transitions carry
// the error kind instead.
const StatusOK = "OK"

// Transition is one tracking record: the flow arrived at Stage with Status.
type Transition struct {
	CorrelationID string                 `json:"correlationId"`
	TenantID      string                 `json:"tenantId,omitempty"`
	From          State                  `json:"from,omitempty"`
	Stage         State                  `json:"stage"`
	Status        string                 `json:"status"`
	At            time.Time              `json:"at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Recorder persists transitions for the audit trail.
type Recorder interface {
	RecordTransition(ctx context.Context, tr Transition) error
}

// Publisher fans transitions out to live observers. Implementations must
// not block the flow goroutine.
type Publisher interface {
	PublishTransition(tr Transition)
}

// Publishers delivers each transition to every member in order.
type Publishers []Publisher

func (ps Publishers) PublishTransition(tr Transition) {
	for _, p := range ps {
		p.PublishTransition(tr)
	}
}

var _ Publisher = (Publishers)(nil)

// ResponseSink receives the final acknowledgement of WEBHOOK-mode flows.
type ResponseSink interface {
	DeliverResponse(ctx context.Context, tenantID, messageType, correlationID string, payload core.Message)
}
