// Package policy holds the tenant configuration records and the resolver
// that picks the single effective record for a routing coordinate. Records
// are read-only here: an out-of-scope admin surface mutates them, this
// service only observes snapshots through a Provider.
package policy

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kranthikarthan/PE-sub004/internal/core"
	"github.com/kranthikarthan/PE-sub004/internal/mapping"
)

// Level is the configuration hierarchy a record lives on. Resolution walks
// the levels from most to least specific.
type Level string

const (
	LevelDownstreamCall Level = "DOWNSTREAM_CALL"
	LevelPaymentType    Level = "PAYMENT_TYPE"
	LevelTenant         Level = "TENANT"
	LevelClearingSystem Level = "CLEARING_SYSTEM"
)

// levelOrder is the resolution precedence, highest first.
var levelOrder = []Level{LevelDownstreamCall, LevelPaymentType, LevelTenant, LevelClearingSystem}

// AuthMethod tags the outbound authentication variants.
type AuthMethod string

const (
	AuthJWT    AuthMethod = "JWT"
	AuthJWS    AuthMethod = "JWS"
	AuthOAuth2 AuthMethod = "OAUTH2"
	AuthAPIKey AuthMethod = "API_KEY"
	AuthBasic  AuthMethod = "BASIC"
)

// ClientHeaders optionally injects a client id/secret pair as plain headers
// next to the primary authentication scheme.
type ClientHeaders struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	ClientID         string `json:"clientId" yaml:"clientId"`
	ClientSecret     string `json:"clientSecret" yaml:"clientSecret"`
	IDHeaderName     string `json:"idHeaderName" yaml:"idHeaderName"`
	SecretHeaderName string `json:"secretHeaderName" yaml:"secretHeaderName"`
}

// AuthConfig is a tagged variant: Method selects which field group applies.
type AuthConfig struct {
	Method AuthMethod `json:"method" yaml:"method" validate:"required,oneof=JWT JWS OAUTH2 API_KEY BASIC"`

	// JWT / JWS
	Secret            string `json:"secret,omitempty" yaml:"secret,omitempty"`
	PublicKey         string `json:"publicKey,omitempty" yaml:"publicKey,omitempty"`
	Algorithm         string `json:"algorithm,omitempty" yaml:"algorithm,omitempty" validate:"omitempty,oneof=HS256 HS384 HS512 RS256 RS384 RS512"`
	Issuer            string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Audience          string `json:"audience,omitempty" yaml:"audience,omitempty"`
	ExpirationSeconds int    `json:"expirationSeconds,omitempty" yaml:"expirationSeconds,omitempty"`

	// OAUTH2
	TokenEndpoint string `json:"tokenEndpoint,omitempty" yaml:"tokenEndpoint,omitempty"`
	ClientID      string `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	ClientSecret  string `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	Scope         string `json:"scope,omitempty" yaml:"scope,omitempty"`

	// API_KEY
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
	HeaderName string `json:"headerName,omitempty" yaml:"headerName,omitempty"`

	// BASIC
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	ClientHeaders *ClientHeaders `json:"clientHeaders,omitempty" yaml:"clientHeaders,omitempty"`
}

// Validate checks the field group selected by Method.
func (a AuthConfig) Validate() error {
	switch a.Method {
	case AuthJWT:
		if a.Secret == "" {
			return fmt.Errorf("JWT auth requires secret")
		}
	case AuthJWS:
		if a.Algorithm == "" {
			return fmt.Errorf("JWS auth requires algorithm")
		}
		switch a.Algorithm {
		case "HS256", "HS384", "HS512":
			if a.Secret == "" {
				return fmt.Errorf("JWS %s requires secret", a.Algorithm)
			}
		case "RS256", "RS384", "RS512":
			if a.Secret == "" && a.PublicKey == "" {
				return fmt.Errorf("JWS %s requires a signing key", a.Algorithm)
			}
		default:
			return fmt.Errorf("JWS algorithm %q not supported", a.Algorithm)
		}
	case AuthOAuth2:
		if a.TokenEndpoint == "" || a.ClientID == "" || a.ClientSecret == "" {
			return fmt.Errorf("OAUTH2 auth requires tokenEndpoint, clientId and clientSecret")
		}
	case AuthAPIKey:
		if a.Key == "" || a.HeaderName == "" {
			return fmt.Errorf("API_KEY auth requires key and headerName")
		}
	case AuthBasic:
		if a.Username == "" {
			return fmt.Errorf("BASIC auth requires username")
		}
	default:
		return fmt.Errorf("unknown auth method %q", a.Method)
	}
	return nil
}

// AuthRecord is one configured authentication entry on one level. Empty
// coordinate fields act as wildcards during matching.
type AuthRecord struct {
	Name       string                `json:"name" yaml:"name" validate:"required"`
	Level      Level                 `json:"level" yaml:"level" validate:"required,oneof=DOWNSTREAM_CALL PAYMENT_TYPE TENANT CLEARING_SYSTEM"`
	Coordinate core.PolicyCoordinate `json:"coordinate" yaml:"coordinate"`
	Priority   int                   `json:"priority" yaml:"priority" validate:"min=0,max=100"`
	Active     bool                  `json:"active" yaml:"active"`
	Auth       AuthConfig            `json:"auth" yaml:"auth"`
}

// ServicePolicyRecord binds a resilience policy to a service, optionally
// scoped to one tenant. TenantID empty means "default for every tenant".
type ServicePolicyRecord struct {
	Service  string    `json:"service" yaml:"service" validate:"required"`
	TenantID string    `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	Active   bool      `json:"active" yaml:"active"`
	Policy   PolicyDoc `json:"policy" yaml:"policy"`
}

// PreScreenRule is a local fraud rule evaluated before the remote engine
// call. Expression is a CEL program over the flattened message; a hit
// produces Decision without any I/O.
type PreScreenRule struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	Expression string `json:"expression" yaml:"expression" validate:"required"`
	Decision   string `json:"decision" yaml:"decision" validate:"required,oneof=REJECT MANUAL_REVIEW"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// FraudAPIConfig is the per-tenant fraud engine wiring.
type FraudAPIConfig struct {
	TenantID        string          `json:"tenantId" yaml:"tenantId" validate:"required"`
	Endpoint        string          `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	Auth            *AuthConfig     `json:"auth,omitempty" yaml:"auth,omitempty"`
	Timeout         Duration        `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RequestTemplate core.Message    `json:"requestTemplate,omitempty" yaml:"requestTemplate,omitempty"`
	PreScreenRules  []PreScreenRule `json:"preScreenRules,omitempty" yaml:"preScreenRules,omitempty"`
	Active          bool            `json:"active" yaml:"active"`
}

// Deadline returns the configured assessment deadline, defaulting to 30s.
func (f FraudAPIConfig) Deadline() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout.Std()
	}
	return 30 * time.Second
}

// WebhookTarget is one tenant-configured delivery destination for async
// responses. MessageType empty matches every emitted kind.
type WebhookTarget struct {
	TenantID    string            `json:"tenantId" yaml:"tenantId" validate:"required"`
	MessageType string            `json:"messageType,omitempty" yaml:"messageType,omitempty"`
	URL         string            `json:"url" yaml:"url" validate:"required,url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	MaxAttempts int               `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty" validate:"min=0,max=20"`
	BaseDelay   Duration          `json:"baseDelay,omitempty" yaml:"baseDelay,omitempty"`
	Active      bool              `json:"active" yaml:"active"`
}

// Attempts returns the delivery budget, defaulting to 3.
func (w WebhookTarget) Attempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return 3
}

// Delay returns the pause between delivery attempts, defaulting to 5s.
func (w WebhookTarget) Delay() time.Duration {
	if w.BaseDelay > 0 {
		return w.BaseDelay.Std()
	}
	return 5 * time.Second
}

// Snapshot is one immutable, versioned view of every configuration table.
// The resolver only ever consults a snapshot, never live storage, so
// resolution is deterministic for a given version.
type Snapshot struct {
	Version          int64                 `json:"version" yaml:"version"`
	AuthConfigs      []AuthRecord          `json:"authConfigs" yaml:"authConfigs"`
	MappingDocuments []mapping.Document    `json:"mappingDocuments" yaml:"mappingDocuments"`
	ServicePolicies  []ServicePolicyRecord `json:"servicePolicies" yaml:"servicePolicies"`
	FraudConfigs     []FraudAPIConfig      `json:"fraudApiConfigs" yaml:"fraudApiConfigs"`
	WebhookTargets   []WebhookTarget       `json:"webhookTargets" yaml:"webhookTargets"`
	LoadedAt         time.Time             `json:"loadedAt" yaml:"-"`
}

var validate = validator.New()

// Validate rejects a snapshot that must never be published: struct-level
// constraint violations, auth variants missing their fields, resilience
// policies out of range, and mapping documents that do not compile.
func (s *Snapshot) Validate() error {
	for i := range s.AuthConfigs {
		r := &s.AuthConfigs[i]
		if err := validate.Struct(r); err != nil {
			return fmt.Errorf("auth config %q: %w", r.Name, err)
		}
		if err := r.Auth.Validate(); err != nil {
			return fmt.Errorf("auth config %q: %w", r.Name, err)
		}
	}
	for i := range s.MappingDocuments {
		d := &s.MappingDocuments[i]
		if _, err := mapping.Compile(d); err != nil {
			return fmt.Errorf("mapping document %q: %w", d.Name, err)
		}
	}
	for i := range s.ServicePolicies {
		r := &s.ServicePolicies[i]
		if err := validate.Struct(r); err != nil {
			return fmt.Errorf("service policy %q: %w", r.Service, err)
		}
		if err := r.Policy.ToPolicy(r.Service).Validate(); err != nil {
			return fmt.Errorf("service policy %q: %w", r.Service, err)
		}
	}
	for i := range s.FraudConfigs {
		r := &s.FraudConfigs[i]
		if err := validate.Struct(r); err != nil {
			return fmt.Errorf("fraud config for tenant %q: %w", r.TenantID, err)
		}
	}
	for i := range s.WebhookTargets {
		r := &s.WebhookTargets[i]
		if err := validate.Struct(r); err != nil {
			return fmt.Errorf("webhook target for tenant %q: %w", r.TenantID, err)
		}
	}
	return nil
}
