package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/mapping"
)

// ConfigTables is the slice of the configuration database this provider
// reads. internal/database.SupabaseClient implements it; JSONB columns
// arrive as raw JSON and are decoded here, next to the types they become.
type ConfigTables interface {
	ListAuthConfigs(ctx context.Context) ([]AuthConfigRow, error)
	ListMappingDocuments(ctx context.Context) ([]MappingDocumentRow, error)
	ListServicePolicies(ctx context.Context) ([]ServicePolicyRow, error)
	ListFraudAPIConfigs(ctx context.Context) ([]FraudAPIConfigRow, error)
	ListWebhookTargets(ctx context.Context) ([]WebhookTargetRow, error)
}

// AuthConfigRow mirrors the auth_configs table.
type AuthConfigRow struct {
	Name            string          `json:"name"`
	Level           string          `json:"level"`
	TenantID        string          `json:"tenant_id"`
	PaymentType     string          `json:"payment_type"`
	LocalInstrument string          `json:"local_instrument"`
	ClearingSystem  string          `json:"clearing_system"`
	Direction       string          `json:"direction"`
	Priority        int             `json:"priority"`
	IsActive        bool            `json:"is_active"`
	AuthConfig      json.RawMessage `json:"auth_config"`
}

// MappingDocumentRow mirrors the mapping_documents table.
type MappingDocumentRow struct {
	Name            string          `json:"name"`
	TenantID        string          `json:"tenant_id"`
	PaymentType     string          `json:"payment_type"`
	LocalInstrument string          `json:"local_instrument"`
	ClearingSystem  string          `json:"clearing_system"`
	Direction       string          `json:"direction"`
	Priority        int             `json:"priority"`
	IsActive        bool            `json:"is_active"`
	Version         int             `json:"version"`
	Clauses         json.RawMessage `json:"clauses"`
}

// ServicePolicyRow mirrors the service_policies table.
type ServicePolicyRow struct {
	Service  string          `json:"service_name"`
	TenantID string          `json:"tenant_id"`
	IsActive bool            `json:"is_active"`
	Policy   json.RawMessage `json:"policy"`
}

// FraudAPIConfigRow mirrors the fraud_api_configs table.
type FraudAPIConfigRow struct {
	TenantID        string          `json:"tenant_id"`
	Endpoint        string          `json:"endpoint"`
	AuthConfig      json.RawMessage `json:"auth_config"`
	TimeoutMs       int             `json:"timeout_ms"`
	RequestTemplate json.RawMessage `json:"request_template"`
	PreScreenRules  json.RawMessage `json:"pre_screen_rules"`
	IsActive        bool            `json:"is_active"`
}

// WebhookTargetRow mirrors the tenant_webhook_configs table.
type WebhookTargetRow struct {
	TenantID    string          `json:"tenant_id"`
	MessageType string          `json:"message_type"`
	URL         string          `json:"url"`
	Headers     json.RawMessage `json:"headers"`
	MaxAttempts int             `json:"max_attempts"`
	BaseDelayMs int             `json:"base_delay_ms"`
	IsActive    bool            `json:"is_active"`
}

// SupabaseProvider assembles snapshots from the configuration tables.
type SupabaseProvider struct {
	db ConfigTables
}

func NewSupabaseProvider(db ConfigTables) *SupabaseProvider {
	return &SupabaseProvider{db: db}
}

func (p *SupabaseProvider) Load(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{Version: time.Now().UnixMilli(), LoadedAt: time.Now()}

	authRows, err := p.db.ListAuthConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load auth_configs: %w", err)
	}
	for _, row := range authRows {
		rec := AuthRecord{
			Name:  row.Name,
			Level: Level(row.Level),
			Coordinate: core.PolicyCoordinate{
				TenantID:        row.TenantID,
				PaymentType:     row.PaymentType,
				LocalInstrument: row.LocalInstrument,
				ClearingSystem:  row.ClearingSystem,
				Direction:       core.Direction(row.Direction),
			},
			Priority: row.Priority,
			Active:   row.IsActive,
		}
		if err := json.Unmarshal(row.AuthConfig, &rec.Auth); err != nil {
			return nil, fmt.Errorf("auth_configs row %q: decode auth_config: %w", row.Name, err)
		}
		s.AuthConfigs = append(s.AuthConfigs, rec)
	}

	docRows, err := p.db.ListMappingDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mapping_documents: %w", err)
	}
	for _, row := range docRows {
		doc := mapping.Document{
			Name: row.Name,
			Coordinate: core.PolicyCoordinate{
				TenantID:        row.TenantID,
				PaymentType:     row.PaymentType,
				LocalInstrument: row.LocalInstrument,
				ClearingSystem:  row.ClearingSystem,
			},
			Direction: core.Direction(row.Direction),
			Priority:  row.Priority,
			Active:    row.IsActive,
			Version:   row.Version,
		}
		if err := json.Unmarshal(row.Clauses, &doc.Clauses); err != nil {
			return nil, fmt.Errorf("mapping_documents row %q: decode clauses: %w", row.Name, err)
		}
		s.MappingDocuments = append(s.MappingDocuments, doc)
	}

	policyRows, err := p.db.ListServicePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load service_policies: %w", err)
	}
	for _, row := range policyRows {
		rec := ServicePolicyRecord{Service: row.Service, TenantID: row.TenantID, Active: row.IsActive}
		if err := json.Unmarshal(row.Policy, &rec.Policy); err != nil {
			return nil, fmt.Errorf("service_policies row %q: decode policy: %w", row.Service, err)
		}
		s.ServicePolicies = append(s.ServicePolicies, rec)
	}

	fraudRows, err := p.db.ListFraudAPIConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fraud_api_configs: %w", err)
	}
	for _, row := range fraudRows {
		rec := FraudAPIConfig{
			TenantID: row.TenantID,
			Endpoint: row.Endpoint,
			Timeout:  Duration(time.Duration(row.TimeoutMs) * time.Millisecond),
			Active:   row.IsActive,
		}
		if len(row.AuthConfig) > 0 && string(row.AuthConfig) != "null" {
			rec.Auth = &AuthConfig{}
			if err := json.Unmarshal(row.AuthConfig, rec.Auth); err != nil {
				return nil, fmt.Errorf("fraud_api_configs row %q: decode auth_config: %w", row.TenantID, err)
			}
		}
		if len(row.RequestTemplate) > 0 && string(row.RequestTemplate) != "null" {
			if err := json.Unmarshal(row.RequestTemplate, &rec.RequestTemplate); err != nil {
				return nil, fmt.Errorf("fraud_api_configs row %q: decode request_template: %w", row.TenantID, err)
			}
		}
		if len(row.PreScreenRules) > 0 && string(row.PreScreenRules) != "null" {
			if err := json.Unmarshal(row.PreScreenRules, &rec.PreScreenRules); err != nil {
				return nil, fmt.Errorf("fraud_api_configs row %q: decode pre_screen_rules: %w", row.TenantID, err)
			}
		}
		s.FraudConfigs = append(s.FraudConfigs, rec)
	}

	hookRows, err := p.db.ListWebhookTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tenant_webhook_configs: %w", err)
	}
	for _, row := range hookRows {
		rec := WebhookTarget{
			TenantID:    row.TenantID,
			MessageType: row.MessageType,
			URL:         row.URL,
			MaxAttempts: row.MaxAttempts,
			BaseDelay:   Duration(time.Duration(row.BaseDelayMs) * time.Millisecond),
			Active:      row.IsActive,
		}
		if len(row.Headers) > 0 && string(row.Headers) != "null" {
			if err := json.Unmarshal(row.Headers, &rec.Headers); err != nil {
				return nil, fmt.Errorf("tenant_webhook_configs row for %q: decode headers: %w", row.TenantID, err)
			}
		}
		s.WebhookTargets = append(s.WebhookTargets, rec)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
