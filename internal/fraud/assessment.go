// Package fraud gates flows on a synchronous risk assessment: local
// pre-screening rules first, then the tenant's remote fraud engine through
// the resilient dispatcher. The gate never lets an undecided flow proceed;
// engine failures degrade to MANUAL_REVIEW, not APPROVE.
package fraud

import (
	"strings"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Source tells which side of the rail originated the flow under assessment.
type Source string

const (
	SourceBankClient     Source = "BANK_CLIENT"
	SourceClearingSystem Source = "CLEARING_SYSTEM"
)

// AssessmentType distinguishes inline gating from offline batch scoring.
type AssessmentType string

const (
	TypeRealTime AssessmentType = "REAL_TIME"
	TypeBatch    AssessmentType = "BATCH"
)

// Status reports whether the engine produced a decision or the gate had to
// fail safe.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// Decision is the gate verdict.
type Decision string

const (
	DecisionApprove      Decision = "APPROVE"
	DecisionReject       Decision = "REJECT"
	DecisionManualReview Decision = "MANUAL_REVIEW"
)

// RiskLevel buckets the score for policy and reporting.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Assessment is the immutable record of one gate pass.
type Assessment struct {
	AssessmentID  string         `json:"assessmentId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	MessageID     string         `json:"messageId"`
	TenantID      string         `json:"tenantId"`
	Source        Source         `json:"source"`
	Type          AssessmentType `json:"assessmentType"`
	Status        Status         `json:"status"`
	Decision      Decision       `json:"decision"`
	RiskLevel     RiskLevel      `json:"riskLevel"`
	RiskScore     float64        `json:"riskScore"`
	Reason        string         `json:"reason,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Approved reports whether the flow may proceed to mapping and dispatch.
func (a *Assessment) Approved() bool {
	return a != nil && a.Decision == DecisionApprove
}

// clearingTokens mark payment types and local instruments that only occur
// on scheme-originated traffic.
var clearingTokens = []string{"CLEARING", "SCHEME", "RETURN", "RECALL"}

// DetermineSource classifies a flow by its ingress kind and routing
// coordinate: pacs.* ingress and camt.054 notifications come from the
// clearing system, as does anything whose payment type or local instrument
// carries a clearing token. Everything else is a bank client submission.
func DetermineSource(ingressKind string, coordinate core.PolicyCoordinate) Source {
	if strings.HasPrefix(ingressKind, "pacs.") || ingressKind == "camt.054" {
		return SourceClearingSystem
	}
	pt := strings.ToUpper(coordinate.PaymentType)
	li := strings.ToUpper(coordinate.LocalInstrument)
	for _, tok := range clearingTokens {
		if strings.Contains(pt, tok) || strings.Contains(li, tok) {
			return SourceClearingSystem
		}
	}
	return SourceBankClient
}

// riskLevelFromScore buckets a [0,1] score when the engine does not name a
// level itself.
func riskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 0.85:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.3:
		return RiskMedium
	default:
		return RiskLow
	}
}

func parseRiskLevel(raw string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToUpper(raw)) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	case RiskCritical:
		return RiskCritical, true
	}
	return "", false
}
