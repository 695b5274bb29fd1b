// Package events fans payment-flow activity out to live observers: the
// websocket stream endpoint subscribes to the in-process bus, and the
// optional Pub/Sub bus exports the same events for downstream consumers.
// Publishing never blocks the flow goroutine; slow subscribers lose events
// rather than stall the pipeline.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kranthikarthan/PE-sub004/internal/flow"
)

// Event types carried on the bus.
const (
	// EventFlowTransition is published once per flow state change.
	EventFlowTransition = "payment.flow.transition"
)

// transitionSource identifies the flow machine as the event origin.
const transitionSource = "/flow"

// defaultBuffer is the per-subscriber channel depth. A subscriber that
// falls more than this far behind starts losing events.
const defaultBuffer = 100

// Event is a CloudEvents-shaped envelope: Subject carries the flow
// correlation id and TenantID scopes the event for filtered streams.
type Event struct {
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	ID          string                 `json:"id"`
	Time        time.Time              `json:"time"`
	Subject     string                 `json:"subject,omitempty"`
	TenantID    string                 `json:"tenantId,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// NewEvent builds an envelope with a fresh id and timestamp.
func NewEvent(eventType, source, subject, tenantID string, data map[string]interface{}) *Event {
	return &Event{
		SpecVersion: "1.0",
		Type:        eventType,
		Source:      source,
		ID:          "evt-" + uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     subject,
		TenantID:    tenantID,
		Data:        data,
	}
}

// JSON serializes the event for wire delivery.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the publishing side of the bus. Both the in-process Bus and
// the Pub/Sub-backed bus satisfy it.
type Emitter interface {
	Emit(eventType, source, subject, tenantID string, data map[string]interface{})
}

// Bus is the in-process fan-out: subscribers register for specific event
// types (or all of them) and receive events on a buffered channel. Delivery
// is best-effort; a full channel drops the event for that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event
	allSubs     []chan *Event
	buffer      int
}

// NewBus creates an empty bus with the default subscriber buffer.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		buffer:      defaultBuffer,
	}
}

// WithBuffer overrides the per-subscriber channel depth.
func (b *Bus) WithBuffer(n int) *Bus {
	if n > 0 {
		b.buffer = n
	}
	return b
}

// Subscribe registers for the given event types; with no types the channel
// receives every event. The returned channel is closed by Unsubscribe.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.buffer)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
		return ch
	}
	for _, et := range eventTypes {
		b.subscribers[et] = append(b.subscribers[et], ch)
	}
	return ch
}

// Unsubscribe removes the channel from every registration and closes it.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for et, subs := range b.subscribers {
		filtered := subs[:0]
		for _, s := range subs {
			if s == ch {
				found = true
				continue
			}
			filtered = append(filtered, s)
		}
		b.subscribers[et] = filtered
	}

	filtered := b.allSubs[:0]
	for _, s := range b.allSubs {
		if s == ch {
			found = true
			continue
		}
		filtered = append(filtered, s)
	}
	b.allSubs = filtered

	if found {
		close(ch)
	}
}

// Publish delivers the event to every matching subscriber without blocking.
func (b *Bus) Publish(e *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[e.Type] {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; drop rather than stall the flow.
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit builds an event and publishes it.
func (b *Bus) Emit(eventType, source, subject, tenantID string, data map[string]interface{}) {
	b.Publish(NewEvent(eventType, source, subject, tenantID, data))
}

// SubscriberCount returns the number of live registrations.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}

var _ Emitter = (*Bus)(nil)

// TransitionStream adapts the bus to the flow machine's publisher hook:
// each transition becomes one EventFlowTransition on the bus.
type TransitionStream struct {
	emitter Emitter
}

// NewTransitionStream wraps an emitter for use as the orchestrator's
// live-transition observer.
func NewTransitionStream(e Emitter) *TransitionStream {
	return &TransitionStream{emitter: e}
}

// PublishTransition converts the transition into an event envelope. The
// underlying emitters never block, so this is safe on the flow goroutine.
func (ts *TransitionStream) PublishTransition(tr flow.Transition) {
	data := map[string]interface{}{
		"stage":  string(tr.Stage),
		"status": tr.Status,
		"at":     tr.At.Format(time.RFC3339Nano),
	}
	if tr.From != "" {
		data["from"] = string(tr.From)
	}
	if len(tr.Metadata) > 0 {
		data["metadata"] = tr.Metadata
	}
	ts.emitter.Emit(EventFlowTransition, transitionSource, tr.CorrelationID, tr.TenantID, data)
}

var _ flow.Publisher = (*TransitionStream)(nil)
