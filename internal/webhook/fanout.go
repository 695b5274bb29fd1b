package webhook

import (
	"context"
	"log/slog"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/policy"
)

// TargetSource lists the active delivery targets for a tenant and message
// type. The policy resolver satisfies it.
type TargetSource interface {
	WebhookTargets(tenantID, messageType string) []policy.WebhookTarget
}

// Fanout turns one emitted flow response into one delivery per configured
// target. It satisfies the orchestrator's response sink.
type Fanout struct {
	targets TargetSource
	engine  Deliverer
}

func NewFanout(targets TargetSource, engine Deliverer) *Fanout {
	return &Fanout{targets: targets, engine: engine}
}

func (f *Fanout) DeliverResponse(ctx context.Context, tenantID, messageType, correlationID string, payload core.Message) {
	targets := f.targets.WebhookTargets(tenantID, messageType)
	if len(targets) == 0 {
		slog.Warn("Flow asked for webhook delivery but no target is configured",
			"tenantId", tenantID,
			"messageType", messageType,
			"correlationId", correlationID)
		return
	}
	for i := range targets {
		t := &targets[i]
		_, err := f.engine.Deliver(ctx, Request{
			URL:           t.URL,
			TenantID:      tenantID,
			MessageType:   messageType,
			CorrelationID: correlationID,
			Headers:       t.Headers,
			Payload:       payload,
			MaxAttempts:   t.Attempts(),
			BaseDelay:     t.Delay(),
		})
		if err != nil {
			slog.Error("Webhook delivery not admitted",
				"tenantId", tenantID,
				"url", t.URL,
				"correlationId", correlationID,
				"error", err)
		}
	}
}
