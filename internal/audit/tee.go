package audit

import (
	"context"
	"log/slog"

	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

// DeliveryTee wraps a webhook status store so terminal delivery records
// also land on the flow trail. Non-terminal saves pass straight through;
// trail failures are logged, never surfaced to the delivery worker.
type DeliveryTee struct {
	inner webhook.StatusStore
	trail Store
}

// TeeDeliveries composes the tee around the engine's status store.
func TeeDeliveries(inner webhook.StatusStore, trail Store) *DeliveryTee {
	return &DeliveryTee{inner: inner, trail: trail}
}

func (t *DeliveryTee) Save(ctx context.Context, d *webhook.Delivery) error {
	if err := t.inner.Save(ctx, d); err != nil {
		return err
	}
	if d.State.Terminal() {
		if err := t.trail.RecordDelivery(ctx, d); err != nil {
			slog.Warn("Delivery outcome not recorded on trail",
				"correlationId", d.CorrelationID,
				"deliveryId", d.DeliveryID,
				"error", err)
		}
	}
	return nil
}

func (t *DeliveryTee) ByCorrelation(ctx context.Context, correlationID string) ([]*webhook.Delivery, error) {
	return t.inner.ByCorrelation(ctx, correlationID)
}

func (t *DeliveryTee) History(ctx context.Context, tenantID, messageType string, limit int) ([]*webhook.Delivery, error) {
	return t.inner.History(ctx, tenantID, messageType, limit)
}

var _ webhook.StatusStore = (*DeliveryTee)(nil)
