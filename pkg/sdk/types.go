package sdk

import "time"

// Message is one ISO 20022 message body as a decoded JSON tree.
type Message = map[string]interface{}

// State names a stage of a payment flow.
type State string

// Flow states reported by the engine. A SYNC submission answers with a
// terminal state; ASYNC and WEBHOOK submissions answer with a receipt in
// PARSED and progress through the rest.
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

// Terminal reports whether the flow has finished moving.
func (s State) Terminal() bool {
	switch s {
	case StateEmitted, StateFlowRejected, StateFlowPending, StateFallbackEmitted:
		return true
	}
	return false
}

// Response modes accepted on submission.
const (
	ModeSync    = "SYNC"
	ModeAsync   = "ASYNC"
	ModeWebhook = "WEBHOOK"
)

// PaymentRequest is one payment submission. TenantID is taken from the API
// key by the server, so the request never carries it.
type PaymentRequest struct {
	// PaymentType and LocalInstrument narrow which mapping and auth policy
	// the engine selects (for example "RTP" / "INST").
	PaymentType     string `json:"paymentType,omitempty"`
	LocalInstrument string `json:"localInstrumentCode,omitempty"`

	// ClearingSystem overrides the scheme the payment is dispatched to.
	ClearingSystem string `json:"clearingSystem,omitempty"`

	// ResponseMode selects SYNC (default), ASYNC, or WEBHOOK.
	ResponseMode string `json:"responseMode,omitempty"`

	// Message is the ISO 20022 payload (required).
	Message Message `json:"message"`

	// CorrelationID is assigned by the engine when empty.
	CorrelationID string `json:"correlationId,omitempty"`
}

// Outcome is the engine's answer to a submission.
type Outcome struct {
	CorrelationID string      `json:"correlationId"`
	State         State       `json:"state"`
	Status        string      `json:"status,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	AckKind       string      `json:"ackKind,omitempty"`
	ClientAck     Message     `json:"clientAck,omitempty"`
	Assessment    *Assessment `json:"assessment,omitempty"`
	Detail        string      `json:"detail,omitempty"`
}

// Assessment is the fraud engine's verdict attached to an outcome.
type Assessment struct {
	AssessmentID  string    `json:"assessmentId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	MessageID     string    `json:"messageId"`
	TenantID      string    `json:"tenantId"`
	Source        string    `json:"source"`
	Type          string    `json:"assessmentType"`
	Status        string    `json:"status"`
	Decision      string    `json:"decision"`
	RiskLevel     string    `json:"riskLevel"`
	RiskScore     float64   `json:"riskScore"`
	Reason        string    `json:"reason,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FlowStatus summarizes one flow's audit trail.
type FlowStatus struct {
	CorrelationID string    `json:"correlationId"`
	TenantID      string    `json:"tenantId,omitempty"`
	State         State     `json:"state"`
	Status        string    `json:"status"`
	Terminal      bool      `json:"terminal"`
	StartedAt     time.Time `json:"startedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Transitions   int       `json:"transitions"`
}

// TrailEntry is one audit record: a flow transition, a fraud assessment,
// or a webhook delivery result.
type TrailEntry struct {
	EntryID       string                 `json:"entryId"`
	CorrelationID string                 `json:"correlationId"`
	TenantID      string                 `json:"tenantId,omitempty"`
	Kind          string                 `json:"kind"`
	Stage         string                 `json:"stage"`
	Status        string                 `json:"status"`
	At            time.Time              `json:"at"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}

// Webhook delivery states.
const (
	DeliveryPending    = "PENDING"
	DeliveryDelivering = "DELIVERING"
	DeliveryDelivered  = "DELIVERED"
	DeliveryRetrying   = "RETRYING"
	DeliveryFailed     = "FAILED"
	DeliveryGivenUp    = "GIVEN_UP"
)

// Delivery is the status of one webhook delivery attempt chain.
type Delivery struct {
	DeliveryID    string            `json:"deliveryId"`
	CorrelationID string            `json:"correlationId"`
	TenantID      string            `json:"tenantId"`
	MessageType   string            `json:"messageType"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       Message           `json:"payload"`
	MaxAttempts   int               `json:"maxAttempts"`
	BaseDelay     time.Duration     `json:"baseDelayNs"`
	State         string            `json:"state"`
	Attempt       int               `json:"attempt"`
	LastCode      int               `json:"lastStatusCode,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Result        *DeliveryResult   `json:"result,omitempty"`
}

// DeliveryResult is the terminal outcome of a delivery.
type DeliveryResult struct {
	Success     bool      `json:"success"`
	Attempt     int       `json:"attempt"`
	StatusCode  int       `json:"statusCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// ServicesHealth is the engine's view of its downstream dependencies,
// scoped to the calling tenant.
type ServicesHealth struct {
	Status        string          `json:"status"`
	Services      []ServiceHealth `json:"services,omitempty"`
	Breakers      []BreakerStats  `json:"breakers,omitempty"`
	StreamClients int             `json:"streamClients"`
}

// ServiceHealth is one downstream service's probe and breaker view.
type ServiceHealth struct {
	Service      string    `json:"service"`
	TenantID     string    `json:"tenantId"`
	Healthy      bool      `json:"healthy"`
	BreakerState string    `json:"breakerState"`
	InFlight     int       `json:"inFlight"`
	Probe        string    `json:"probe,omitempty"`
	CheckedAt    time.Time `json:"checkedAt,omitempty"`
}

// BreakerStats is one circuit breaker's rolling window.
type BreakerStats struct {
	Service      string `json:"service"`
	TenantID     string `json:"tenantId"`
	BreakerState string `json:"breakerState"`
	WindowCalls  int    `json:"windowCalls"`
	Failures     int    `json:"failures"`
	SlowCalls    int    `json:"slowCalls"`
	InFlight     int    `json:"inFlight"`
}
