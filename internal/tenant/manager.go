package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidKey covers every authentication failure: malformed key,
	// unknown tenant, wrong secret, inactive or expired key. Callers get
	// no more detail than that.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrUnknownTenant means the tenant id does not exist.
	ErrUnknownTenant = errors.New("tenant not found")
)

// Manager validates tenants and issues API keys against a Directory.
type Manager struct {
	db Directory
}

func NewManager(db Directory) *Manager {
	return &Manager{db: db}
}

// Load fetches a tenant and checks it may transact. Suspended and unknown
// tenants are rejected.
func (m *Manager) Load(ctx context.Context, tenantID string) (*Record, error) {
	t, err := m.db.TenantByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant lookup failed: %w", err)
	}
	if t == nil {
		return nil, ErrUnknownTenant
	}
	if t.Status != StatusActive && t.Status != StatusTrial {
		return nil, fmt.Errorf("tenant is %s", t.Status)
	}
	return t, nil
}

// Authenticate resolves a full API key (pe_<tenantID>.<secret>) to its
// tenant. The secret is compared against every live key of the tenant so
// rotation can overlap.
func (m *Manager) Authenticate(ctx context.Context, fullKey string) (*Record, error) {
	tenantID, secret, ok := splitKey(fullKey)
	if !ok {
		return nil, ErrInvalidKey
	}

	keys, err := m.db.KeysByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("key lookup failed: %w", err)
	}
	now := time.Now()
	for i := range keys {
		k := &keys[i]
		if !k.Active || k.Expired(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)) == nil {
			return m.Load(ctx, tenantID)
		}
	}
	return nil, ErrInvalidKey
}

// CreateKey issues a new API key for the tenant and returns the stored
// record plus the full plaintext key. The plaintext is shown exactly once.
func (m *Manager) CreateKey(ctx context.Context, tenantID, name string, scopes []string) (*Key, string, error) {
	if _, err := m.Load(ctx, tenantID); err != nil {
		return nil, "", err
	}

	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, "", fmt.Errorf("generate key id: %w", err)
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash secret: %w", err)
	}

	k := &Key{
		KeyID:      hex.EncodeToString(idBytes),
		TenantID:   tenantID,
		Name:       name,
		SecretHash: string(hash),
		Scopes:     scopes,
		Active:     true,
	}
	if err := m.db.InsertKey(ctx, k); err != nil {
		return nil, "", fmt.Errorf("store key: %w", err)
	}
	return k, KeyPrefix + tenantID + "." + secret, nil
}

// splitKey parses pe_<tenantID>.<secret>. The tenant id may not contain a
// dot; the secret may.
func splitKey(fullKey string) (tenantID, secret string, ok bool) {
	if !strings.HasPrefix(fullKey, KeyPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullKey, KeyPrefix)
	i := strings.Index(rest, ".")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
