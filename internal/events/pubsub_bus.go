package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus wraps the in-process Bus and additionally exports every event
// to a Google Cloud Pub/Sub topic for durable, cross-service delivery.
//
// Fan-out strategy:
//   - Pub/Sub: durable, at-least-once delivery to downstream consumers
//   - in-process: immediate push to stream subscribers
//
// Messages carry an ordering key so a flow's transitions arrive in the
// order the machine produced them.
type PubSubBus struct {
	*Bus // stream subscribers keep working through the embedded bus

	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBus connects to the project's topic, creating it when absent,
// and enables per-key message ordering.
func NewPubSubBus(ctx context.Context, projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("Created Pub/Sub topic", "topic", topicID)
	}

	topic.EnableMessageOrdering = true

	bus := &PubSubBus{
		Bus:    NewBus(),
		client: client,
		topic:  topic,
	}
	slog.Info("Connected to Pub/Sub topic",
		"topic", fmt.Sprintf("projects/%s/topics/%s", projectID, topicID))
	return bus, nil
}

// Emit builds an event, exports it to Pub/Sub, and fans out in process.
func (pb *PubSubBus) Emit(eventType, source, subject, tenantID string, data map[string]interface{}) {
	pb.Publish(NewEvent(eventType, source, subject, tenantID, data))
}

// Publish exports a pre-built event to Pub/Sub and to local subscribers.
func (pb *PubSubBus) Publish(e *Event) {
	pb.export(e)
	pb.Bus.Publish(e)
}

// export serializes the event and publishes it as a Pub/Sub message.
// Message attributes mirror the envelope metadata for server-side filtering.
func (pb *PubSubBus) export(e *Event) {
	payload, err := e.JSON()
	if err != nil {
		slog.Error("Event not serializable", "eventId", e.ID, "error", err)
		return
	}

	// Order by correlation id so one flow's transitions stay in sequence;
	// events without a subject fall back to tenant-scoped ordering.
	orderingKey := e.Subject
	if orderingKey == "" {
		orderingKey = e.TenantID
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion": e.SpecVersion,
			"ce-type":        e.Type,
			"ce-source":      e.Source,
			"ce-id":          e.ID,
			"ce-time":        e.Time.Format(time.RFC3339Nano),
			"ce-subject":     e.Subject,
			"ce-tenantid":    e.TenantID,
		},
		OrderingKey: orderingKey,
	}

	result := pb.topic.Publish(context.Background(), msg)

	// Non-blocking: check the server result off the hot path.
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Error("Pub/Sub publish failed", "eventId", e.ID, "type", e.Type, "error", err)
		}
	}()
}

// Close flushes pending publishes and shuts down the client.
func (pb *PubSubBus) Close() error {
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}

// TopicPath returns the fully-qualified Pub/Sub topic path.
func (pb *PubSubBus) TopicPath() string {
	return pb.topic.String()
}

// HealthCheck verifies the topic is reachable; it satisfies the resilience
// monitor's probe contract.
func (pb *PubSubBus) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

// Stats returns basic telemetry about the bus.
func (pb *PubSubBus) Stats() map[string]interface{} {
	return map[string]interface{}{
		"backend":     "gcp-pubsub",
		"topic":       pb.topic.String(),
		"subscribers": pb.SubscriberCount(),
	}
}

var _ Emitter = (*PubSubBus)(nil)
