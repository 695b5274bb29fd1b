package flow

import (
	"context"
	"sync"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// Guard enforces at-most-one-in-flight per (tenant, message) key. Acquire
// claims the key until the returned release runs; a second claim while one
// is live fails with kind DUPLICATE.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// GuardKey builds the duplicate-suppression key.
func GuardKey(tenantID, messageID string) string {
	return tenantID + "|" + messageID
}

// MemoryGuard is the single-process Guard. Multi-instance deployments use
// the Redis-backed guard from internal/infra instead.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, live := g.held[key]; live {
		return nil, core.Errorf(core.KindDuplicate, "flow.guard", "message already in flight: %s", key)
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// InFlight reports the number of live claims, for tests and health surfaces.
func (g *MemoryGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}
