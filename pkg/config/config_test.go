package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
	"github.com/Sternrassler/strategy-cache/pkg/logging"
)

const sampleYAML = `
server:
  port: 9090
  mode: debug
log:
  level: debug
  pretty: true
redis:
  enabled: true
  addr: redis:6379
  timeout: 250ms
janitor:
  purge_schedule: "*/5 * * * *"
  advisor_schedule: "@hourly"
advisor:
  min_samples: 50
auth:
  tokens:
    - token: secret
      subject: ops
      roles: [admin]
strategies:
  - id: sessions
    max_entries: 1000
    default_ttl: 5m
    eviction_policy: LRU
  - id: lookups
    max_entries: 50
    eviction_policy: TTL-only
invalidation_rules:
  - strategy_id: sessions
    event: "user.*"
    pattern: "user:*"
    tags: [profile]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache_server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "/api/caching", cfg.Server.Path, "default kept")
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, logging.LevelDebug, cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.Timeout)
	assert.Equal(t, uint32(5), cfg.Redis.BreakerFailures)

	assert.Equal(t, "*/5 * * * *", cfg.Janitor.PurgeSchedule)
	assert.Equal(t, "@hourly", cfg.Janitor.AdvisorSchedule)

	assert.Equal(t, int64(50), cfg.Advisor.MinSamples)
	assert.Equal(t, cache.DefaultAdvisorConfig().LowHitRate, cfg.Advisor.LowHitRate)

	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, "ops", cfg.Auth.Tokens[0].Subject)
	assert.Equal(t, []string{"admin"}, cfg.Auth.Tokens[0].Roles)

	require.Len(t, cfg.Strategies, 2)
	assert.Equal(t, cache.StrategyConfig{
		ID:             "sessions",
		MaxEntries:     1000,
		DefaultTTL:     5 * time.Minute,
		EvictionPolicy: cache.PolicyLRU,
	}, cfg.Strategies[0].Cache())
	assert.Equal(t, cache.PolicyTTL, cfg.Strategies[1].Cache().EvictionPolicy)

	require.Len(t, cfg.InvalidationRules, 1)
	rule := cfg.InvalidationRules[0].Cache()
	assert.Equal(t, "sessions", rule.StrategyID)
	assert.Equal(t, []string{"profile"}, rule.Tags)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CACHE_SERVER_SERVER_PORT", "7070")
	t.Setenv("CACHE_SERVER_REDIS_ADDR", "cache.internal:6380")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "no tokens", yaml: "server:\n  port: 8080\n"},
		{name: "bad mode", yaml: "server:\n  mode: fast\nauth:\n  tokens:\n    - {token: a, subject: b}\n"},
		{name: "bad schedule", yaml: "janitor:\n  purge_schedule: every minute\nauth:\n  tokens:\n    - {token: a, subject: b}\n"},
		{name: "bad ratio", yaml: "advisor:\n  low_hit_rate: 1.5\nauth:\n  tokens:\n    - {token: a, subject: b}\n"},
		{name: "bad path", yaml: "server:\n  path: api\nauth:\n  tokens:\n    - {token: a, subject: b}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080, Mode: "release", Path: "/api/caching", ShutdownTimeout: time.Second},
		Advisor: cache.DefaultAdvisorConfig(),
		Auth:    AuthConfig{Tokens: nil},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.tokens")

	cfg.Auth.Tokens = []auth.Token{{Token: "t", Subject: "s"}}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ErrorOrder(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080, Mode: "release", Path: "/api/caching", ShutdownTimeout: time.Second},
		Janitor: JanitorConfig{PurgeSchedule: "never", AdvisorSchedule: "sometimes"},
		Advisor: cache.AdvisorConfig{LowHitRate: 2, EvictionRatio: 2, UnderutilizedRatio: 2, InvalidationRatio: 2},
		Auth:    AuthConfig{Tokens: []auth.Token{{Token: "t", Subject: "s"}}},
	}

	want := []string{
		"janitor.purge_schedule",
		"janitor.advisor_schedule",
		"advisor.low_hit_rate",
		"advisor.eviction_ratio",
		"advisor.underutilized_ratio",
		"advisor.invalidation_ratio",
	}

	first := cfg.Validate()
	require.Error(t, first)
	lines := strings.Split(first.Error(), "\n")
	require.Len(t, lines, len(want))
	for i, prefix := range want {
		assert.True(t, strings.HasPrefix(lines[i], prefix), lines[i])
	}

	for i := 0; i < 20; i++ {
		assert.Equal(t, first.Error(), cfg.Validate().Error())
	}
}
