// Package database holds the Supabase-backed configuration store. It
// implements the read interfaces the rest of the pipeline declares:
// policy.ConfigTables for the five configuration tables and
// tenant.Directory for tenants and API keys.
package database

import (
	"context"
	"fmt"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/kranthikarthan/PE-sub004/internal/policy"
	"github.com/kranthikarthan/PE-sub004/internal/tenant"
)

// SupabaseClient wraps the Supabase Go client with the payment
// middleware's table operations.
type SupabaseClient struct {
	client *supabase.Client
}

// NewSupabaseClient connects to the configuration database. Both values
// come from process configuration (SUPABASE_URL, SUPABASE_SERVICE_KEY).
func NewSupabaseClient(url, serviceKey string) (*SupabaseClient, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key must be set")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseClient{client: client}, nil
}

// HealthCheck verifies the configuration database answers queries.
func (sc *SupabaseClient) HealthCheck(ctx context.Context) error {
	var rows []tenant.Record
	_, err := sc.client.From("tenants").
		Select("tenant_id", "", false).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("supabase unreachable: %w", err)
	}
	return nil
}

// ============================================================================
// TENANT DIRECTORY
// ============================================================================

var _ tenant.Directory = (*SupabaseClient)(nil)

// TenantByID retrieves a tenant, nil when absent.
func (sc *SupabaseClient) TenantByID(ctx context.Context, tenantID string) (*tenant.Record, error) {
	var rows []tenant.Record
	_, err := sc.client.From("tenants").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// KeysByTenant retrieves every API key stored for the tenant. Liveness
// (active flag, expiry) is the manager's concern.
func (sc *SupabaseClient) KeysByTenant(ctx context.Context, tenantID string) ([]tenant.Key, error) {
	var rows []tenant.Key
	_, err := sc.client.From("api_keys").
		Select("*", "", false).
		Eq("tenant_id", tenantID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return rows, nil
}

// InsertKey persists a freshly issued API key.
func (sc *SupabaseClient) InsertKey(ctx context.Context, k *tenant.Key) error {
	var result []tenant.Key
	_, err := sc.client.From("api_keys").
		Insert(k, false, "", "", "").
		ExecuteTo(&result)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// ============================================================================
// CONFIGURATION TABLES
// ============================================================================

var _ policy.ConfigTables = (*SupabaseClient)(nil)

// ListAuthConfigs returns every auth_configs row. Inactive rows are kept;
// the snapshot honors the is_active flag.
func (sc *SupabaseClient) ListAuthConfigs(ctx context.Context) ([]policy.AuthConfigRow, error) {
	var rows []policy.AuthConfigRow
	_, err := sc.client.From("auth_configs").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth_configs: %w", err)
	}
	return rows, nil
}

func (sc *SupabaseClient) ListMappingDocuments(ctx context.Context) ([]policy.MappingDocumentRow, error) {
	var rows []policy.MappingDocumentRow
	_, err := sc.client.From("mapping_documents").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapping_documents: %w", err)
	}
	return rows, nil
}

func (sc *SupabaseClient) ListServicePolicies(ctx context.Context) ([]policy.ServicePolicyRow, error) {
	var rows []policy.ServicePolicyRow
	_, err := sc.client.From("service_policies").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list service_policies: %w", err)
	}
	return rows, nil
}

func (sc *SupabaseClient) ListFraudAPIConfigs(ctx context.Context) ([]policy.FraudAPIConfigRow, error) {
	var rows []policy.FraudAPIConfigRow
	_, err := sc.client.From("fraud_api_configs").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list fraud_api_configs: %w", err)
	}
	return rows, nil
}

func (sc *SupabaseClient) ListWebhookTargets(ctx context.Context) ([]policy.WebhookTargetRow, error) {
	var rows []policy.WebhookTargetRow
	_, err := sc.client.From("tenant_webhook_configs").
		Select("*", "", false).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant_webhook_configs: %w", err)
	}
	return rows, nil
}
