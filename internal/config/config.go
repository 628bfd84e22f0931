// Package config loads gateway configuration from YAML with environment
// variable overrides, in the style of a twelve-factor service: a checked-in
// base file for defaults, env vars for anything that differs per deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full process configuration for the gateway.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Usage    UsageConfig    `yaml:"usage"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
	Security SecurityConfig `yaml:"security"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// QueueConfig carries the tunables named explicitly in spec.md §4.2/§4.6.
type QueueConfig struct {
	InflightLockTTLSec    int `yaml:"inflight_lock_ttl_sec"`
	VisibilityTimeoutSec  int `yaml:"visibility_timeout_sec"`
	ScanIntervalSec       int `yaml:"scan_interval_sec"`
	MaxRetries            int `yaml:"max_retries"`
	DLQTTLDays            int `yaml:"dlq_ttl_days"`
	SubscriberTTLSec      int `yaml:"subscriber_ttl_sec"`
	PendingTTLSec         int `yaml:"pending_ttl_sec"`
	PullTimeoutSec        int `yaml:"pull_timeout_sec"`
	BufferBehind          int `yaml:"buffer_behind"`
	BufferAhead           int `yaml:"buffer_ahead"`
	MaxRequestsPerMinute  int `yaml:"max_requests_per_minute"`
}

type CacheConfig struct {
	SqlitePath     string  `yaml:"sqlite_path"`
	MaxSizeBytes   int64   `yaml:"max_size_bytes"`
	HotIndexSize   int     `yaml:"hot_index_size"`
	BloatThreshold float64 `yaml:"bloat_threshold"`
	ArchiveBucket  string  `yaml:"archive_bucket"`
	ArchiveEnabled bool    `yaml:"archive_enabled"`
}

type UsageConfig struct {
	BillingEnabled        bool  `yaml:"billing_enabled"`
	ReservationTTLHours   int   `yaml:"reservation_ttl_hours"`
	MaxRolloverTokens     int64 `yaml:"max_rollover_tokens"`
}

type PubSubConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

type SecurityConfig struct {
	SPIFFETrustDomain string `yaml:"spiffe_trust_domain"`
	RequireWorkerSVID bool   `yaml:"require_worker_svid"`
}

// Defaults mirrors spec.md's literal numbers (§4.2, §4.6, §4.7, §4.9) so a
// Load with no config file and no env overrides still yields a usable,
// spec-conformant configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			Env:             "development",
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 10,
			ShutdownTimeout: 15,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{
			InflightLockTTLSec:   200,
			VisibilityTimeoutSec: 30,
			ScanIntervalSec:      15,
			MaxRetries:           3,
			DLQTTLDays:           7,
			SubscriberTTLSec:     600,
			PendingTTLSec:        600,
			PullTimeoutSec:       5,
			BufferBehind:         5,
			BufferAhead:          10,
			MaxRequestsPerMinute: 300,
		},
		Cache: CacheConfig{
			SqlitePath:     "./data/audio_cache.db",
			MaxSizeBytes:   20 * 1024 * 1024 * 1024,
			HotIndexSize:   4096,
			BloatThreshold: 2.0,
		},
		Usage: UsageConfig{
			BillingEnabled:      true,
			ReservationTTLHours: 48,
			MaxRolloverTokens:   10_000_000,
		},
		Security: SecurityConfig{
			SPIFFETrustDomain: "yapit.internal",
		},
	}
}

// Load reads a YAML file (if present) over top of Defaults, then applies
// environment overrides. A missing .env is not an error (godotenv.Load
// errors are intentionally swallowed — most deployments configure purely
// via the platform's own env, not a .env file).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config %s: %w", path, err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("YAPIT_ENV", c.Server.Env)
	if v := getEnv("YAPIT_CORS_ORIGINS", ""); v != "" {
		c.Server.CORSAllowOrigins = splitCSV(v)
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)

	c.Queue.MaxRetries = getEnvInt("TTS_MAX_RETRIES", c.Queue.MaxRetries)
	c.Queue.VisibilityTimeoutSec = getEnvInt("TTS_VISIBILITY_TIMEOUT_SEC", c.Queue.VisibilityTimeoutSec)
	c.Queue.BufferBehind = getEnvInt("TTS_BUFFER_BEHIND", c.Queue.BufferBehind)
	c.Queue.BufferAhead = getEnvInt("TTS_BUFFER_AHEAD", c.Queue.BufferAhead)
	c.Queue.MaxRequestsPerMinute = getEnvInt("TTS_MAX_REQUESTS_PER_MINUTE", c.Queue.MaxRequestsPerMinute)

	c.Cache.SqlitePath = getEnv("AUDIO_CACHE_PATH", c.Cache.SqlitePath)
	c.Cache.ArchiveBucket = getEnv("AUDIO_CACHE_ARCHIVE_BUCKET", c.Cache.ArchiveBucket)
	c.Cache.ArchiveEnabled = getEnvBool("AUDIO_CACHE_ARCHIVE_ENABLED", c.Cache.ArchiveEnabled)

	c.Usage.BillingEnabled = getEnvBool("BILLING_ENABLED", c.Usage.BillingEnabled)

	c.PubSub.Enabled = getEnvBool("PUBSUB_ENABLED", c.PubSub.Enabled)
	c.PubSub.ProjectID = getEnv("PUBSUB_PROJECT_ID", c.PubSub.ProjectID)
	c.PubSub.TopicID = getEnv("PUBSUB_TOPIC_ID", c.PubSub.TopicID)

	c.Security.SPIFFETrustDomain = getEnv("SPIFFE_TRUST_DOMAIN", c.Security.SPIFFETrustDomain)
	c.Security.RequireWorkerSVID = getEnvBool("REQUIRE_WORKER_SVID", c.Security.RequireWorkerSVID)
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
