// Package config loads the cache server configuration with viper.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file and CACHE_SERVER_* environment variables (dots become underscores,
// e.g. CACHE_SERVER_REDIS_ADDR).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
	"github.com/Sternrassler/strategy-cache/pkg/janitor"
	"github.com/Sternrassler/strategy-cache/pkg/logging"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "CACHE_SERVER"

// Config is the complete server configuration.
type Config struct {
	Server            ServerConfig        `mapstructure:"server"`
	Log               logging.Config      `mapstructure:"log"`
	Redis             RedisConfig         `mapstructure:"redis"`
	Janitor           JanitorConfig       `mapstructure:"janitor"`
	Advisor           cache.AdvisorConfig `mapstructure:"advisor"`
	Auth              AuthConfig          `mapstructure:"auth"`
	Strategies        []StrategyConfig    `mapstructure:"strategies"`
	InvalidationRules []RuleConfig        `mapstructure:"invalidation_rules"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	Path            string        `mapstructure:"path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig configures the optional shared value backend.
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// JanitorConfig holds the cron schedules of the background jobs.
type JanitorConfig = janitor.Config

// AuthConfig holds the static bearer tokens.
type AuthConfig struct {
	Tokens []auth.Token `mapstructure:"tokens"`
}

// StrategyConfig is a strategy created at startup.
type StrategyConfig struct {
	ID             string        `mapstructure:"id"`
	MaxEntries     int           `mapstructure:"max_entries"`
	DefaultTTL     time.Duration `mapstructure:"default_ttl"`
	EvictionPolicy string        `mapstructure:"eviction_policy"`
}

// Cache converts the entry to a cache.StrategyConfig.
func (s StrategyConfig) Cache() cache.StrategyConfig {
	return cache.StrategyConfig{
		ID:             s.ID,
		MaxEntries:     s.MaxEntries,
		DefaultTTL:     s.DefaultTTL,
		EvictionPolicy: cache.EvictionPolicy(s.EvictionPolicy),
	}
}

// RuleConfig is an invalidation rule registered at startup.
type RuleConfig struct {
	ID         string   `mapstructure:"id"`
	StrategyID string   `mapstructure:"strategy_id"`
	Event      string   `mapstructure:"event"`
	Pattern    string   `mapstructure:"pattern"`
	Tags       []string `mapstructure:"tags"`
}

// Cache converts the entry to a cache.InvalidationRule.
func (r RuleConfig) Cache() cache.InvalidationRule {
	return cache.InvalidationRule{
		ID:         r.ID,
		StrategyID: r.StrategyID,
		Event:      r.Event,
		Pattern:    r.Pattern,
		Tags:       r.Tags,
	}
}

// setDefaults registers the built-in defaults on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", gin.ReleaseMode)
	v.SetDefault("server.path", "/api/caching")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", cache.DefaultKeyPrefix)
	v.SetDefault("redis.timeout", "100ms")
	v.SetDefault("redis.breaker_failures", 5)
	v.SetDefault("redis.breaker_timeout", "30s")

	v.SetDefault("janitor.purge_schedule", "@every 1m")
	v.SetDefault("janitor.advisor_schedule", "")

	adv := cache.DefaultAdvisorConfig()
	v.SetDefault("advisor.min_samples", adv.MinSamples)
	v.SetDefault("advisor.low_hit_rate", adv.LowHitRate)
	v.SetDefault("advisor.eviction_ratio", adv.EvictionRatio)
	v.SetDefault("advisor.underutilized_ratio", adv.UnderutilizedRatio)
	v.SetDefault("advisor.invalidation_ratio", adv.InvalidationRatio)
}

// Load reads the configuration. An empty path searches for
// cache_server.yaml in ./config and the working directory; a missing file
// is not an error in that case.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cache_server")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test: %q", c.Server.Mode))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path must start with '/': %q", c.Server.Path))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
		}
		if c.Redis.Timeout <= 0 {
			errs = append(errs, errors.New("redis.timeout must be positive"))
		}
	}

	for _, sched := range []struct {
		name, spec string
	}{
		{"janitor.purge_schedule", c.Janitor.PurgeSchedule},
		{"janitor.advisor_schedule", c.Janitor.AdvisorSchedule},
	} {
		if sched.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(sched.spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sched.name, err))
		}
	}

	for _, r := range []struct {
		name  string
		ratio float64
	}{
		{"advisor.low_hit_rate", c.Advisor.LowHitRate},
		{"advisor.eviction_ratio", c.Advisor.EvictionRatio},
		{"advisor.underutilized_ratio", c.Advisor.UnderutilizedRatio},
		{"advisor.invalidation_ratio", c.Advisor.InvalidationRatio},
	} {
		if r.ratio < 0 || r.ratio > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1]: %v", r.name, r.ratio))
		}
	}
	if c.Advisor.MinSamples < 0 {
		errs = append(errs, errors.New("advisor.min_samples cannot be negative"))
	}

	if len(c.Auth.Tokens) == 0 {
		errs = append(errs, errors.New("auth.tokens: at least one token is required"))
	}

	return errors.Join(errs...)
}
