package flow

import (
	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/fraud"
	"github.com/kranthikarthan/PE-sub004/internal/iso20022"
)

// Definition routes one ingress kind through the machine: what gets posted
// to the clearing system, what its acknowledgement payload should decode
// as, and what the client finally receives. A zero Request means the flow
// never leaves the bank.
type Definition struct {
	Ingress   iso20022.Kind
	Request   iso20022.Kind
	Response  iso20022.Kind
	ClientAck iso20022.Kind
}

// Dispatches reports whether the flow posts to a clearing system.
func (d Definition) Dispatches() bool { return d.Request != "" }

// defaultDefinitions covers every supported ingress kind. Outbound flows
// dispatch and map the clearing answer back; inbound flows are processed
// internally and acknowledge directly.
var defaultDefinitions = map[iso20022.Kind]Definition{
	iso20022.PAIN001: {Ingress: iso20022.PAIN001, Request: iso20022.PACS008, Response: iso20022.PACS002, ClientAck: iso20022.PAIN002},
	iso20022.CAMT055: {Ingress: iso20022.CAMT055, Request: iso20022.PACS007, Response: iso20022.PACS002, ClientAck: iso20022.PAIN002},
	iso20022.CAMT056: {Ingress: iso20022.CAMT056, Request: iso20022.PACS028, Response: iso20022.PACS002, ClientAck: iso20022.PAIN002},
	iso20022.PACS008: {Ingress: iso20022.PACS008, ClientAck: iso20022.PACS002},
	iso20022.PACS028: {Ingress: iso20022.PACS028, ClientAck: iso20022.PACS002},
	iso20022.PACS002: {Ingress: iso20022.PACS002, ClientAck: iso20022.PAIN002},
	iso20022.PACS004: {Ingress: iso20022.PACS004, ClientAck: iso20022.PAIN002},
	iso20022.CAMT054: {Ingress: iso20022.CAMT054, ClientAck: iso20022.CAMT053},
	iso20022.CAMT029: {Ingress: iso20022.CAMT029, ClientAck: iso20022.CAMT029},
}

// Definitions returns a copy of the default routing table.
func Definitions() map[iso20022.Kind]Definition {
	out := make(map[iso20022.Kind]Definition, len(defaultDefinitions))
	for k, v := range defaultDefinitions {
		out[k] = v
	}
	return out
}

// ResponseMode selects how the client receives the final acknowledgement.
type ResponseMode string

const (
	ModeSync    ResponseMode = "SYNC"
	ModeAsync   ResponseMode = "ASYNC"
	ModeWebhook ResponseMode = "WEBHOOK"
)

// Envelope is one ingress submission. The message kind is detected from the
// tree's root element, not declared.
type Envelope struct {
	TenantID        string       `json:"tenantId" validate:"required"`
	PaymentType     string       `json:"paymentType,omitempty"`
	LocalInstrument string       `json:"localInstrumentCode,omitempty"`
	ClearingSystem  string       `json:"clearingSystem,omitempty"`
	ResponseMode    ResponseMode `json:"responseMode,omitempty" validate:"omitempty,oneof=SYNC ASYNC WEBHOOK"`
	Message         core.Message `json:"message" validate:"required"`
	CorrelationID   string       `json:"correlationId,omitempty"`
}

// Outcome is Process's answer: for SYNC flows the terminal state with the
// client acknowledgement, for ASYNC/WEBHOOK the accepted-for-processing
// receipt while the flow continues detached.
type Outcome struct {
	CorrelationID string            `json:"correlationId"`
	State         State             `json:"state"`
	Status        iso20022.Status   `json:"status,omitempty"`
	Reason        iso20022.Reason   `json:"reason,omitempty"`
	AckKind       iso20022.Kind     `json:"ackKind,omitempty"`
	ClientAck     core.Message      `json:"clientAck,omitempty"`
	Assessment    *fraud.Assessment `json:"assessment,omitempty"`
	Detail        string            `json:"detail,omitempty"`
}
