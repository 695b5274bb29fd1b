package mapping

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// SequenceStore issues monotonic counters for SEQUENTIAL auto-generation.
// Counters are scoped per (tenant, document name): two tenants sharing a
// document name never observe each other's values.
//
// Next returns the current counter value and advances it, so a store seeded
// with 42 issues 42 and holds 43 afterwards. Fresh counters start at 1.
type SequenceStore interface {
	Next(ctx context.Context, tenantID, document string) (uint64, error)
	// Seed positions the counter so the next call to Next returns next.
	Seed(ctx context.Context, tenantID, document string, next uint64) error
}

func sequenceKey(tenantID, document string) string {
	return "seq:" + tenantID + ":" + document
}

// MemorySequences is the in-process store used in tests and single-node
// deployments.
type MemorySequences struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewMemorySequences() *MemorySequences {
	return &MemorySequences{counters: make(map[string]uint64)}
}

func (s *MemorySequences) Next(_ context.Context, tenantID, document string) (uint64, error) {
	key := sequenceKey(tenantID, document)
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counters[key]
	if v == 0 {
		v = 1
	}
	s.counters[key] = v + 1
	return v, nil
}

func (s *MemorySequences) Seed(_ context.Context, tenantID, document string, next uint64) error {
	if next == 0 {
		return fmt.Errorf("seed %s/%s: counters start at 1", tenantID, document)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[sequenceKey(tenantID, document)] = next
	return nil
}

// SequenceRedis is the subset of redis commands the distributed store needs.
// The infra adapter satisfies it; tests plug miniredis behind the same shape.
type SequenceRedis interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisSequences shares counters across replicas through INCR, which is
// atomic server-side. The stored integer is the last issued value, so INCR's
// post-increment result is exactly the value to hand out.
type RedisSequences struct {
	client SequenceRedis
}

func NewRedisSequences(client SequenceRedis) *RedisSequences {
	return &RedisSequences{client: client}
}

func (s *RedisSequences) Next(ctx context.Context, tenantID, document string) (uint64, error) {
	n, err := s.client.IncrBy(ctx, sequenceKey(tenantID, document), 1)
	if err != nil {
		return 0, fmt.Errorf("sequence %s/%s: %w", tenantID, document, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("sequence %s/%s: counter underflow (%d)", tenantID, document, n)
	}
	return uint64(n), nil
}

func (s *RedisSequences) Seed(ctx context.Context, tenantID, document string, next uint64) error {
	if next == 0 {
		return fmt.Errorf("seed %s/%s: counters start at 1", tenantID, document)
	}
	raw := []byte(strconv.FormatUint(next-1, 10))
	if err := s.client.Set(ctx, sequenceKey(tenantID, document), raw, 0); err != nil {
		return fmt.Errorf("seed %s/%s: %w", tenantID, document, err)
	}
	return nil
}
