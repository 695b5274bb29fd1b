package tenant

import (
	"context"
	"sync"
)

// MemoryDirectory is the in-process Directory for tests and deployments
// without a configuration database.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]Record
	keys    map[string][]Key
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		tenants: make(map[string]Record),
		keys:    make(map[string][]Key),
	}
}

// Seed registers a tenant, replacing any previous record with the same id.
func (d *MemoryDirectory) Seed(t Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.TenantID] = t
}

func (d *MemoryDirectory) TenantByID(ctx context.Context, tenantID string) (*Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (d *MemoryDirectory) KeysByTenant(ctx context.Context, tenantID string) ([]Key, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Key, len(d.keys[tenantID]))
	copy(out, d.keys[tenantID])
	return out, nil
}

func (d *MemoryDirectory) InsertKey(ctx context.Context, k *Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[k.TenantID] = append(d.keys[k.TenantID], *k)
	return nil
}

var _ Directory = (*MemoryDirectory)(nil)
