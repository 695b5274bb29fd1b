// Package audit persists the durable trail of one payment flow: machine
// transitions, fraud assessments, and webhook delivery outcomes, all keyed
// by the flow correlation id. The memory store backs tests and single-node
// deployments; Postgres and Spanner stores are the durable variants.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kranthikarthan/PE-sub004/internal/flow"
	"github.com/kranthikarthan/PE-sub004/internal/fraud"
	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

// Kind classifies a trail entry.
type Kind string

const (
	KindTransition Kind = "TRANSITION"
	KindAssessment Kind = "ASSESSMENT"
	KindDelivery   Kind = "DELIVERY"
)

// Entry is one row of a flow's trail. Stage carries the machine state,
// fraud decision, or delivery state depending on Kind; Detail holds the
// kind-specific remainder.
type Entry struct {
	EntryID       string                 `json:"entryId"`
	CorrelationID string                 `json:"correlationId"`
	TenantID      string                 `json:"tenantId,omitempty"`
	Kind          Kind                   `json:"kind"`
	Stage         string                 `json:"stage"`
	Status        string                 `json:"status"`
	At            time.Time              `json:"at"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}

// Store is the write-and-query surface of the trail. The record methods
// satisfy the flow and fraud recorder contracts, so one store serves the
// whole pipeline.
type Store interface {
	RecordTransition(ctx context.Context, tr flow.Transition) error
	RecordAssessment(ctx context.Context, a fraud.Assessment) error
	RecordDelivery(ctx context.Context, d *webhook.Delivery) error
	Trail(ctx context.Context, correlationID string) ([]Entry, error)
}

func entryFromTransition(id string, tr flow.Transition) Entry {
	detail := make(map[string]interface{}, len(tr.Metadata)+1)
	if tr.From != "" {
		detail["from"] = string(tr.From)
	}
	for k, v := range tr.Metadata {
		detail[k] = v
	}
	return Entry{
		EntryID:       id,
		CorrelationID: tr.CorrelationID,
		TenantID:      tr.TenantID,
		Kind:          KindTransition,
		Stage:         string(tr.Stage),
		Status:        tr.Status,
		At:            tr.At,
		Detail:        detail,
	}
}

func entryFromAssessment(id string, a fraud.Assessment) Entry {
	detail := map[string]interface{}{
		"assessmentId": a.AssessmentID,
		"messageId":    a.MessageID,
		"source":       string(a.Source),
		"type":         string(a.Type),
		"riskLevel":    string(a.RiskLevel),
		"riskScore":    a.RiskScore,
	}
	if a.Reason != "" {
		detail["reason"] = a.Reason
	}
	if a.ErrorMessage != "" {
		detail["error"] = a.ErrorMessage
	}
	return Entry{
		EntryID:       id,
		CorrelationID: a.CorrelationID,
		TenantID:      a.TenantID,
		Kind:          KindAssessment,
		Stage:         string(a.Decision),
		Status:        string(a.Status),
		At:            a.CreatedAt,
		Detail:        detail,
	}
}

func entryFromDelivery(id string, d *webhook.Delivery) Entry {
	status := "ERROR"
	at := d.UpdatedAt
	if d.Result != nil {
		if d.Result.Success {
			status = "OK"
		}
		at = d.Result.CompletedAt
	}
	detail := map[string]interface{}{
		"deliveryId":  d.DeliveryID,
		"url":         d.URL,
		"messageType": d.MessageType,
		"attempt":     d.Attempt,
	}
	if d.LastCode != 0 {
		detail["statusCode"] = d.LastCode
	}
	if d.LastError != "" {
		detail["error"] = d.LastError
	}
	return Entry{
		EntryID:       id,
		CorrelationID: d.CorrelationID,
		TenantID:      d.TenantID,
		Kind:          KindDelivery,
		Stage:         string(d.State),
		Status:        status,
		At:            at,
		Detail:        detail,
	}
}

// defaultCapacity bounds the memory store: oldest entries are evicted
// once the ring is full.
const defaultCapacity = 4096

// MemoryStore keeps the trail in a fixed-size ring. Entries for one
// correlation id are returned in arrival order.
type MemoryStore struct {
	mu     sync.RWMutex
	cap    int
	order  []string // correlation id per slot, in arrival order
	next   int
	full   bool
	byCorr map[string][]Entry
	newID  func() string
}

// NewMemoryStore creates a ring-buffered trail with the default capacity.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cap:    defaultCapacity,
		order:  make([]string, defaultCapacity),
		byCorr: make(map[string][]Entry),
		newID:  uuid.NewString,
	}
}

// WithCapacity overrides the ring size.
func (m *MemoryStore) WithCapacity(n int) *MemoryStore {
	if n > 0 {
		m.cap = n
		m.order = make([]string, n)
	}
	return m
}

func (m *MemoryStore) append(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.full {
		// Evict the oldest entry; per-correlation slices are in arrival
		// order, so the victim is always the head of its slice.
		victim := m.order[m.next]
		if trail := m.byCorr[victim]; len(trail) <= 1 {
			delete(m.byCorr, victim)
		} else {
			m.byCorr[victim] = trail[1:]
		}
	}
	m.order[m.next] = e.CorrelationID
	m.next = (m.next + 1) % m.cap
	if m.next == 0 {
		m.full = true
	}
	m.byCorr[e.CorrelationID] = append(m.byCorr[e.CorrelationID], e)
}

func (m *MemoryStore) RecordTransition(ctx context.Context, tr flow.Transition) error {
	m.append(entryFromTransition(m.newID(), tr))
	return nil
}

func (m *MemoryStore) RecordAssessment(ctx context.Context, a fraud.Assessment) error {
	m.append(entryFromAssessment(m.newID(), a))
	return nil
}

func (m *MemoryStore) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	m.append(entryFromDelivery(m.newID(), d))
	return nil
}

// Trail returns the entries recorded for one correlation id, oldest first.
func (m *MemoryStore) Trail(ctx context.Context, correlationID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	trail := m.byCorr[correlationID]
	out := make([]Entry, len(trail))
	copy(out, trail)
	return out, nil
}

// Size returns the number of retained entries.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, trail := range m.byCorr {
		n += len(trail)
	}
	return n
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ flow.Recorder  = (*MemoryStore)(nil)
	_ fraud.Recorder = (*MemoryStore)(nil)
)
