package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kranthikarthan/PE-sub004/internal/webhook"
)

// DefaultDeliveryTTL is how long delivery status stays queryable. Status
// queries are operational; the audit trail owns the durable record.
const DefaultDeliveryTTL = 24 * time.Hour

// RedisDeliveryStore is the shared webhook status store: one hash per
// correlation id (field = delivery id) plus a bounded per-tenant list of
// terminal results, trimmed to the same capacity as the memory store.
type RedisDeliveryStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// DeliveryStore returns the shared status store with the default TTL.
func (a *GoRedisAdapter) DeliveryStore() *RedisDeliveryStore {
	return &RedisDeliveryStore{rdb: a.rdb, ttl: DefaultDeliveryTTL}
}

// WithTTL overrides how long status keys live.
func (s *RedisDeliveryStore) WithTTL(ttl time.Duration) *RedisDeliveryStore {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func deliveryKey(correlationID string) string {
	return "webhook:deliveries:" + correlationID
}

func historyKey(tenantID string) string {
	return "webhook:history:" + tenantID
}

func (s *RedisDeliveryStore) Save(ctx context.Context, d *webhook.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery %s: %w", d.DeliveryID, err)
	}

	pipe := s.rdb.TxPipeline()
	key := deliveryKey(d.CorrelationID)
	pipe.HSet(ctx, key, d.DeliveryID, payload)
	pipe.Expire(ctx, key, s.ttl)
	if d.State.Terminal() {
		hkey := historyKey(d.TenantID)
		pipe.LPush(ctx, hkey, payload)
		pipe.LTrim(ctx, hkey, 0, webhook.HistoryCapacity-1)
		pipe.Expire(ctx, hkey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save delivery %s: %w", d.DeliveryID, err)
	}
	return nil
}

func (s *RedisDeliveryStore) ByCorrelation(ctx context.Context, correlationID string) ([]*webhook.Delivery, error) {
	fields, err := s.rdb.HGetAll(ctx, deliveryKey(correlationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load deliveries for %s: %w", correlationID, err)
	}

	out := make([]*webhook.Delivery, 0, len(fields))
	for _, raw := range fields {
		var d webhook.Delivery
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("failed to decode delivery for %s: %w", correlationID, err)
		}
		out = append(out, &d)
	}
	// Hash iteration order is unspecified; restore admission order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].DeliveryID < out[j].DeliveryID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *RedisDeliveryStore) History(ctx context.Context, tenantID, messageType string, limit int) ([]*webhook.Delivery, error) {
	if limit <= 0 {
		limit = webhook.DefaultHistoryLimit
	}

	raws, err := s.rdb.LRange(ctx, historyKey(tenantID), 0, webhook.HistoryCapacity-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", tenantID, err)
	}

	out := make([]*webhook.Delivery, 0, limit)
	for _, raw := range raws {
		var d webhook.Delivery
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("failed to decode history for %s: %w", tenantID, err)
		}
		if messageType != "" && d.MessageType != messageType {
			continue
		}
		out = append(out, &d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ webhook.StatusStore = (*RedisDeliveryStore)(nil)
