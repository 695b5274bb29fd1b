package webhook

import (
	"context"
	"hash/fnv"
	"sync"
)

const (
	storeShards = 16

	// HistoryCapacity bounds the per-tenant record of terminal deliveries.
	HistoryCapacity = 100
	// DefaultHistoryLimit applies when a history query passes limit <= 0.
	DefaultHistoryLimit = 50
)

// StatusStore persists delivery snapshots. Save is called on every state
// change; terminal snapshots additionally land in the per-tenant history.
type StatusStore interface {
	Save(ctx context.Context, d *Delivery) error
	ByCorrelation(ctx context.Context, correlationID string) ([]*Delivery, error)
	History(ctx context.Context, tenantID, messageType string, limit int) ([]*Delivery, error)
}

type storeShard struct {
	mu     sync.RWMutex
	byCorr map[string][]*Delivery
}

// MemoryStatusStore is the single-process StatusStore: deliveries sharded by
// correlation id, plus a bounded per-tenant history of terminal results.
// Multi-instance deployments use the Redis-backed store from internal/infra.
type MemoryStatusStore struct {
	shards [storeShards]*storeShard

	histMu  sync.RWMutex
	history map[string][]*Delivery
}

func NewMemoryStatusStore() *MemoryStatusStore {
	s := &MemoryStatusStore{history: make(map[string][]*Delivery)}
	for i := range s.shards {
		s.shards[i] = &storeShard{byCorr: make(map[string][]*Delivery)}
	}
	return s
}

func (s *MemoryStatusStore) shard(correlationID string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(correlationID))
	return s.shards[h.Sum32()%storeShards]
}

func (s *MemoryStatusStore) Save(ctx context.Context, d *Delivery) error {
	snap := d.snapshot()
	sh := s.shard(snap.CorrelationID)
	sh.mu.Lock()
	list := sh.byCorr[snap.CorrelationID]
	replaced := false
	for i := range list {
		if list[i].DeliveryID == snap.DeliveryID {
			list[i] = snap
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, snap)
	}
	sh.byCorr[snap.CorrelationID] = list
	sh.mu.Unlock()

	if snap.State.Terminal() {
		s.appendHistory(snap)
	}
	return nil
}

func (s *MemoryStatusStore) appendHistory(snap *Delivery) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	hist := append(s.history[snap.TenantID], snap)
	if len(hist) > HistoryCapacity {
		hist = hist[len(hist)-HistoryCapacity:]
	}
	s.history[snap.TenantID] = hist
}

func (s *MemoryStatusStore) ByCorrelation(ctx context.Context, correlationID string) ([]*Delivery, error) {
	sh := s.shard(correlationID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	list := sh.byCorr[correlationID]
	out := make([]*Delivery, len(list))
	copy(out, list)
	return out, nil
}

// History returns terminal results for the tenant, newest first. An empty
// messageType matches every type.
func (s *MemoryStatusStore) History(ctx context.Context, tenantID, messageType string, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	hist := s.history[tenantID]
	out := make([]*Delivery, 0, limit)
	for i := len(hist) - 1; i >= 0 && len(out) < limit; i-- {
		if messageType != "" && hist[i].MessageType != messageType {
			continue
		}
		out = append(out, hist[i])
	}
	return out, nil
}
