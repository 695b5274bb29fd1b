// Package tenant holds the tenant registry and API-key authentication.
// Keys have the form pe_<tenantID>.<secret>; only a bcrypt hash of the
// secret is ever stored.
package tenant

import (
	"context"
	"time"
)

// KeyPrefix starts every issued API key.
const KeyPrefix = "pe_"

// Tenant lifecycle states. ACTIVE and TRIAL tenants may submit payments.
const (
	StatusActive    = "ACTIVE"
	StatusTrial     = "TRIAL"
	StatusSuspended = "SUSPENDED"
)

// Record is one tenant organization.
type Record struct {
	TenantID  string                 `json:"tenant_id"`
	Name      string                 `json:"tenant_name"`
	Status    string                 `json:"status"`
	Settings  map[string]interface{} `json:"settings"`
	CreatedAt string                 `json:"created_at"`
}

// Key is one stored API key. SecretHash is the bcrypt hash of the secret
// half of the full key; the plaintext exists only at creation time.
type Key struct {
	KeyID      string     `json:"key_id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"key_hash"`
	Scopes     []string   `json:"scopes"`
	Active     bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  string     `json:"created_at,omitempty"`
}

// Expired reports whether the key has an expiry in the past.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Directory is the slice of the tenant database the manager reads.
// internal/database.SupabaseClient implements it; MemoryDirectory serves
// tests and single-process deployments.
type Directory interface {
	TenantByID(ctx context.Context, tenantID string) (*Record, error)
	KeysByTenant(ctx context.Context, tenantID string) ([]Key, error)
	InsertKey(ctx context.Context, k *Key) error
}

type tenantKey struct{}

// WithTenant attaches the authenticated tenant to the context.
func WithTenant(ctx context.Context, t *Record) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// FromContext returns the authenticated tenant, if any.
func FromContext(ctx context.Context) (*Record, bool) {
	t, ok := ctx.Value(tenantKey{}).(*Record)
	return t, ok
}

// IDFromContext returns the authenticated tenant's id, or "".
func IDFromContext(ctx context.Context) string {
	if t, ok := FromContext(ctx); ok {
		return t.TenantID
	}
	return ""
}
