package webhook

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/iso20022"
)

// CloudTasksDispatcher hands deliveries to a Cloud Tasks queue instead of
// the in-process pool. The queue then owns retry, rate limiting and the
// dead-letter policy; in-process records stop at DELIVERING because the
// queue does not report per-attempt outcomes back. Deployments that need
// the full queryable ladder use the Engine.
type CloudTasksDispatcher struct {
	client    *cloudtasks.Client
	queuePath string
	store     StatusStore
	fallback  Deliverer
	now       func() time.Time
	newID     func() string
}

// NewCloudTasksDispatcher connects to the queue
// projects/<project>/locations/<location>/queues/<queue>. A non-nil
// fallback absorbs deliveries when task creation fails.
func NewCloudTasksDispatcher(ctx context.Context, projectID, locationID, queueID string, store StatusStore, fallback Deliverer) (*CloudTasksDispatcher, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}
	return &CloudTasksDispatcher{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		store:     store,
		fallback:  fallback,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (c *CloudTasksDispatcher) Deliver(ctx context.Context, req Request) (*Delivery, error) {
	if err := ValidateURL(req.URL); err != nil {
		return nil, core.E(core.KindValidation, "webhook.cloudtasks", err)
	}
	if PrivateHost(req.URL) {
		slog.Warn("Webhook target resolves inside a private network",
			"tenantId", req.TenantID,
			"url", req.URL)
	}
	body, err := iso20022.EncodeJSON(req.Payload)
	if err != nil {
		return nil, core.E(core.KindInternal, "webhook.cloudtasks", err)
	}

	now := c.now().UTC()
	d := &Delivery{
		DeliveryID:    c.newID(),
		CorrelationID: req.CorrelationID,
		TenantID:      req.TenantID,
		MessageType:   req.MessageType,
		URL:           req.URL,
		Headers:       req.Headers,
		Payload:       req.Payload,
		MaxAttempts:   req.MaxAttempts,
		BaseDelay:     req.BaseDelay,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	headers := map[string]string{}
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	headers["X-Correlation-ID"] = req.CorrelationID
	headers["X-Tenant-ID"] = req.TenantID
	headers["X-Message-Type"] = req.MessageType
	headers["X-Timestamp"] = now.Format(time.RFC3339)

	task := &taskspb.CreateTaskRequest{
		Parent: c.queuePath,
		Task: &taskspb.Task{
			Name:         c.taskName(req),
			ScheduleTime: timestamppb.New(now),
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        req.URL,
					Headers:    headers,
					Body:       body,
				},
			},
		},
	}

	if _, err := c.client.CreateTask(ctx, task); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			// A replay inside the queue's dedup window; the original task
			// owns the delivery.
			slog.Info("Webhook task already enqueued",
				"correlationId", req.CorrelationID,
				"url", req.URL)
		} else {
			if c.fallback != nil {
				slog.Warn("Cloud Tasks enqueue failed, delivering in process",
					"correlationId", req.CorrelationID,
					"url", req.URL,
					"error", err)
				return c.fallback.Deliver(ctx, req)
			}
			return nil, core.E(core.KindDispatchTransient, "webhook.cloudtasks", err)
		}
	}

	d.State = StateDelivering
	d.UpdatedAt = c.now().UTC()
	if c.store != nil {
		if err := c.store.Save(ctx, d); err != nil {
			slog.Warn("Webhook delivery state not persisted",
				"deliveryId", d.DeliveryID,
				"error", err)
		}
	}
	return d.snapshot(), nil
}

// taskName derives a stable task id from the correlation, target and message
// type, so replaying the same acknowledgement to the same target collapses
// into one task inside the queue's dedup window.
func (c *CloudTasksDispatcher) taskName(req Request) string {
	sum := sha256.Sum256([]byte(req.CorrelationID + "\x00" + req.URL + "\x00" + req.MessageType))
	return fmt.Sprintf("%s/tasks/wh-%x", c.queuePath, sum[:16])
}

// Close releases the queue client.
func (c *CloudTasksDispatcher) Close() error {
	return c.client.Close()
}
