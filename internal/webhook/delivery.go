// Package webhook delivers correlated flow responses to tenant-configured
// URLs with a bounded, fixed-delay retry ladder and queryable delivery
// state. The engine owns every delivery record it accepts; observers read
// snapshots from the status store.
package webhook

import (
	"fmt"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// State is one stage of a delivery's lifecycle.
type State string

const (
	StatePending    State = "PENDING"
	StateDelivering State = "DELIVERING"
	StateDelivered  State = "DELIVERED"
	StateRetrying   State = "RETRYING"
	StateFailed     State = "FAILED"
	StateGivenUp    State = "GIVEN_UP"
)

// Terminal reports whether the delivery stops at s.
func (s State) Terminal() bool {
	switch s {
	case StateDelivered, StateFailed, StateGivenUp:
		return true
	}
	return false
}

// validTransitions is the monotonic edge set: a delivery never moves back.
// FAILED is the non-retryable terminal (a 4xx answer or an admission
// failure); GIVEN_UP is the exhausted one.
var validTransitions = map[State][]State{
	StatePending:    {StateDelivering, StateFailed},
	StateDelivering: {StateDelivered, StateRetrying, StateFailed, StateGivenUp},
	StateRetrying:   {StateDelivering},
}

// CanTransition reports whether s → to is an edge of the ladder.
func (s State) CanTransition(to State) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Result is the terminal outcome of a delivery.
type Result struct {
	Success     bool      `json:"success"`
	Attempt     int       `json:"attempt"`
	StatusCode  int       `json:"statusCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Delivery is one correlated response on its way to one tenant target.
type Delivery struct {
	DeliveryID    string            `json:"deliveryId"`
	CorrelationID string            `json:"correlationId"`
	TenantID      string            `json:"tenantId"`
	MessageType   string            `json:"messageType"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       core.Message      `json:"payload"`
	MaxAttempts   int               `json:"maxAttempts"`
	BaseDelay     time.Duration     `json:"baseDelayNs"`
	State         State             `json:"state"`
	Attempt       int               `json:"attempt"`
	LastCode      int               `json:"lastStatusCode,omitempty"`
	LastError     string            `json:"lastError,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Result        *Result           `json:"result,omitempty"`
}

// transition moves the delivery along the ladder, refusing regressions.
func (d *Delivery) transition(to State, at time.Time) error {
	if !d.State.CanTransition(to) {
		return fmt.Errorf("webhook delivery %s: illegal transition %s -> %s", d.DeliveryID, d.State, to)
	}
	d.State = to
	d.UpdatedAt = at
	return nil
}

// snapshot copies the record so stored state never aliases the engine's
// working copy. The payload itself is never mutated after admission and is
// shared.
func (d *Delivery) snapshot() *Delivery {
	cp := *d
	if d.Headers != nil {
		cp.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			cp.Headers[k] = v
		}
	}
	if d.Result != nil {
		res := *d.Result
		cp.Result = &res
	}
	return &cp
}
