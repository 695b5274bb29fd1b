package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.False(t, cfg.Server.TrustTenantHeader)
	assert.Equal(t, 600, cfg.Limits.PerMinute)
	assert.Equal(t, 100, cfg.Limits.Burst)
	assert.Equal(t, 60*time.Second, cfg.Flow.Deadline)
	assert.Empty(t, cfg.Flow.TenantDeadlines)
	assert.Equal(t, AuditMemory, cfg.Audit.Backend)
	assert.Equal(t, "payment-flow-events", cfg.Events.PubSubTopic)
	assert.Equal(t, 4, cfg.Webhook.Workers)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
}

func TestFromEnvReadsValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("TRUST_TENANT_HEADER", "true")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("FLOW_DEADLINE", "45s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("POLICY_SEED_PATH", "config/policy.yaml")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)
	assert.True(t, cfg.Server.TrustTenantHeader)
	assert.Equal(t, 120, cfg.Limits.PerMinute)
	assert.Equal(t, 45*time.Second, cfg.Flow.Deadline)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "config/policy.yaml", cfg.Policy.SeedPath)
}

func TestFromEnvTenantDeadlines(t *testing.T) {
	t.Setenv("TENANT_FLOW_DEADLINES", "tenant-1=90s, tenant-2=30s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Flow.TenantDeadlines["tenant-1"])
	assert.Equal(t, 30*time.Second, cfg.Flow.TenantDeadlines["tenant-2"])
}

func TestFromEnvRejectsMalformedDeadlines(t *testing.T) {
	t.Setenv("TENANT_FLOW_DEADLINES", "tenant-1")
	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv("TENANT_FLOW_DEADLINES", "tenant-1=ninety")
	_, err = FromEnv()
	require.Error(t, err)
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("FLOW_DEADLINE", "soon")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestValidateAuditBackend(t *testing.T) {
	t.Setenv("AUDIT_BACKEND", "postgres")
	_, err := FromEnv()
	require.Error(t, err, "postgres backend needs a DSN")

	t.Setenv("DATABASE_URL", "postgres://localhost/audit")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, AuditPostgres, cfg.Audit.Backend)

	t.Setenv("AUDIT_BACKEND", "scrolls")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestValidateSpannerBackend(t *testing.T) {
	t.Setenv("AUDIT_BACKEND", "spanner")
	t.Setenv("SPANNER_PROJECT", "proj")
	t.Setenv("SPANNER_INSTANCE", "inst")
	_, err := FromEnv()
	require.Error(t, err, "database name missing")

	t.Setenv("SPANNER_DATABASE", "audit")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "proj", cfg.Audit.SpannerProject)
}

func TestFromEnvClearingSchemes(t *testing.T) {
	t.Setenv("CLEARING_SCHEMES", "RTP=https://rtp.example/v1, FEDNOW=https://fednow.example/v1")
	t.Setenv("CLEARING_XML_SCHEMES", "SEPA, TARGET2")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://rtp.example/v1", cfg.Clearing.Schemes["RTP"])
	assert.Equal(t, "https://fednow.example/v1", cfg.Clearing.Schemes["FEDNOW"])
	assert.Equal(t, []string{"SEPA", "TARGET2"}, cfg.Clearing.XMLSchemes)
}

func TestFromEnvRejectsMalformedSchemes(t *testing.T) {
	t.Setenv("CLEARING_SCHEMES", "RTP")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLEARING_SCHEMES")
}
