// Package config holds process configuration: everything the server needs
// that is not tenant policy. Values come from the environment; cmd
// binaries load a .env file first when one exists.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Audit backends selectable via AUDIT_BACKEND.
const (
	AuditMemory   = "memory"
	AuditPostgres = "postgres"
	AuditSpanner  = "spanner"
)

type Config struct {
	Server   ServerConfig
	Limits   LimitsConfig
	Flow     FlowConfig
	Policy   PolicySourceConfig
	Clearing ClearingConfig
	Redis    RedisConfig
	Audit    AuditConfig
	Events   EventsConfig
	Webhook  WebhookConfig
}

type ServerConfig struct {
	Port string
	Env  string // development | production
	// TrustTenantHeader accepts X-Tenant-ID without an API key. Only for
	// deployments behind an authenticating gateway.
	TrustTenantHeader bool
	// DevTenants seeds an in-memory tenant directory when no database is
	// configured. Useful only with TrustTenantHeader for local runs.
	DevTenants []string
}

type LimitsConfig struct {
	PerMinute int
	Burst     int
}

type FlowConfig struct {
	Deadline        time.Duration
	TenantDeadlines map[string]time.Duration
}

// PolicySourceConfig selects where tenant policy comes from. SeedPath
// points at a static YAML snapshot; Supabase fields enable the database
// provider. Both may be set; the server prefers the database when
// reachable.
type PolicySourceConfig struct {
	SeedPath    string
	SupabaseURL string
	SupabaseKey string
}

// ClearingConfig maps clearing-system names to their endpoints. Bodies go
// out as JSON unless the scheme's name appears in XMLSchemes.
type ClearingConfig struct {
	Schemes    map[string]string
	XMLSchemes []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuditConfig struct {
	Backend         string // memory | postgres | spanner
	PostgresDSN     string
	SpannerProject  string
	SpannerInstance string
	SpannerDatabase string
}

type EventsConfig struct {
	PubSubProject string
	PubSubTopic   string
}

// WebhookConfig tunes the delivery engine. The Tasks fields switch
// admission to Cloud Tasks when all three are set.
type WebhookConfig struct {
	Workers       int
	Timeout       time.Duration
	TasksProject  string
	TasksLocation string
	TasksQueue    string
}

// FromEnv assembles the configuration from environment variables,
// applying defaults for everything optional.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envString("PORT", "8080"),
			Env:               envString("APP_ENV", "development"),
			TrustTenantHeader: envBool("TRUST_TENANT_HEADER", false),
			DevTenants:        splitList(os.Getenv("DEV_TENANTS")),
		},
		Policy: PolicySourceConfig{
			SeedPath:    envString("POLICY_SEED_PATH", ""),
			SupabaseURL: envString("SUPABASE_URL", ""),
			SupabaseKey: envString("SUPABASE_SERVICE_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
		},
		Audit: AuditConfig{
			Backend:         envString("AUDIT_BACKEND", AuditMemory),
			PostgresDSN:     envString("DATABASE_URL", ""),
			SpannerProject:  envString("SPANNER_PROJECT", ""),
			SpannerInstance: envString("SPANNER_INSTANCE", ""),
			SpannerDatabase: envString("SPANNER_DATABASE", ""),
		},
		Events: EventsConfig{
			PubSubProject: envString("PUBSUB_PROJECT", ""),
			PubSubTopic:   envString("PUBSUB_TOPIC", "payment-flow-events"),
		},
		Clearing: ClearingConfig{
			XMLSchemes: splitList(os.Getenv("CLEARING_XML_SCHEMES")),
		},
		Webhook: WebhookConfig{
			TasksProject:  envString("CLOUDTASKS_PROJECT", ""),
			TasksLocation: envString("CLOUDTASKS_LOCATION", ""),
			TasksQueue:    envString("CLOUDTASKS_QUEUE", ""),
		},
	}

	var err error
	if cfg.Limits.PerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 600); err != nil {
		return nil, err
	}
	if cfg.Limits.Burst, err = envInt("RATE_LIMIT_BURST", 100); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Webhook.Workers, err = envInt("WEBHOOK_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Flow.Deadline, err = envDuration("FLOW_DEADLINE", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Webhook.Timeout, err = envDuration("WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Flow.TenantDeadlines, err = parseTenantDeadlines(os.Getenv("TENANT_FLOW_DEADLINES")); err != nil {
		return nil, err
	}
	if cfg.Clearing.Schemes, err = parseSchemes(os.Getenv("CLEARING_SCHEMES")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Audit.Backend {
	case AuditMemory:
	case AuditPostgres:
		if c.Audit.PostgresDSN == "" {
			return fmt.Errorf("AUDIT_BACKEND=postgres requires DATABASE_URL")
		}
	case AuditSpanner:
		if c.Audit.SpannerProject == "" || c.Audit.SpannerInstance == "" || c.Audit.SpannerDatabase == "" {
			return fmt.Errorf("AUDIT_BACKEND=spanner requires SPANNER_PROJECT, SPANNER_INSTANCE and SPANNER_DATABASE")
		}
	default:
		return fmt.Errorf("unknown AUDIT_BACKEND %q", c.Audit.Backend)
	}
	return nil
}

// parseTenantDeadlines reads "tenant-1=90s,tenant-2=30s".
func parseTenantDeadlines(raw string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("TENANT_FLOW_DEADLINES entry %q: want tenant=duration", pair)
		}
		d, err := time.ParseDuration(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("TENANT_FLOW_DEADLINES entry %q: %w", pair, err)
		}
		out[strings.TrimSpace(kv[0])] = d
	}
	return out, nil
}

// parseSchemes reads "RTP=https://rtp.example/v1,FEDNOW=https://fednow.example/v1".
func parseSchemes(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if raw == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("CLEARING_SCHEMES entry %q: want name=endpoint", pair)
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
