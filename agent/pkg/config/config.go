// Package config loads the analyst configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/malbeclabs/analyst/agent/pkg/memory"
	"github.com/malbeclabs/analyst/agent/pkg/warehouse/clickhouse"
	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

const (
	DefaultModel          = "claude-sonnet-4-5"
	DefaultMaxTokens      = 4096
	DefaultSchemaCacheTTL = 10 * time.Minute
	DefaultMemoryDir      = "./memory"
	DefaultRetention      = 7 * 24 * time.Hour
)

// Config holds everything the analyst binaries need.
type Config struct {
	ClickHouse clickhouse.Config
	Memory     memory.Config

	Model     string
	MaxTokens int64

	LLMTimeout       time.Duration
	SampleTimeout    time.Duration
	QueryTimeout     time.Duration
	QueryMaxRows     int
	OffloadThreshold int
	MaxRetries       int
	SchemaCacheTTL   time.Duration

	MemoryRetention time.Duration

	MetricsAddr       string
	SentryDSN         string
	SentryEnvironment string
}

// Load reads the configuration from environment variables, applying defaults
// for unset values.
func Load() (*Config, error) {
	var (
		cfg Config
		err error
	)

	cfg.ClickHouse = clickhouse.Config{
		Addr:     envString("CLICKHOUSE_ADDR_TCP", "localhost:9000"),
		Database: envString("CLICKHOUSE_DATABASE", "default"),
		Username: envString("CLICKHOUSE_USERNAME", "default"),
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
	}
	if cfg.ClickHouse.Secure, err = envBool("CLICKHOUSE_SECURE", false); err != nil {
		return nil, err
	}

	cfg.Model = envString("ANALYST_MODEL", DefaultModel)
	maxTokens, err := envInt("ANALYST_MAX_TOKENS", DefaultMaxTokens)
	if err != nil {
		return nil, err
	}
	cfg.MaxTokens = int64(maxTokens)

	if cfg.LLMTimeout, err = envDuration("ANALYST_LLM_TIMEOUT", workflow.DefaultLLMTimeout); err != nil {
		return nil, err
	}
	if cfg.SampleTimeout, err = envDuration("ANALYST_SAMPLE_TIMEOUT", workflow.DefaultSampleTimeout); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = envDuration("ANALYST_QUERY_TIMEOUT", workflow.DefaultQueryTimeout); err != nil {
		return nil, err
	}
	if cfg.QueryMaxRows, err = envInt("ANALYST_QUERY_MAX_ROWS", workflow.DefaultQueryMaxRows); err != nil {
		return nil, err
	}
	if cfg.OffloadThreshold, err = envInt("ANALYST_OFFLOAD_THRESHOLD", workflow.DefaultOffloadThreshold); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("ANALYST_MAX_RETRIES", workflow.DefaultMaxRetries); err != nil {
		return nil, err
	}
	if cfg.SchemaCacheTTL, err = envDuration("ANALYST_SCHEMA_CACHE_TTL", DefaultSchemaCacheTTL); err != nil {
		return nil, err
	}

	cfg.Memory = memory.Config{
		Backend:           envString("MEMORY_BACKEND", memory.BackendFile),
		Dir:               envString("MEMORY_DIR", DefaultMemoryDir),
		S3Bucket:          os.Getenv("MEMORY_S3_BUCKET"),
		S3Prefix:          os.Getenv("MEMORY_S3_PREFIX"),
		S3Region:          os.Getenv("MEMORY_S3_REGION"),
		S3EndpointURL:     os.Getenv("MEMORY_S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("MEMORY_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("MEMORY_S3_SECRET_ACCESS_KEY"),
		PostgresURL:       os.Getenv("MEMORY_POSTGRES_URL"),
		RedisAddr:         os.Getenv("MEMORY_REDIS_ADDR"),
		RedisPassword:     os.Getenv("MEMORY_REDIS_PASSWORD"),
	}
	if cfg.Memory.RedisDB, err = envInt("MEMORY_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.MemoryRetention, err = envDuration("MEMORY_RETENTION", DefaultRetention); err != nil {
		return nil, err
	}

	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.SentryEnvironment = envString("SENTRY_ENVIRONMENT", "development")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and backend-specific requirements.
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int64
	}{
		{"ANALYST_MAX_TOKENS", c.MaxTokens},
		{"ANALYST_LLM_TIMEOUT", int64(c.LLMTimeout)},
		{"ANALYST_SAMPLE_TIMEOUT", int64(c.SampleTimeout)},
		{"ANALYST_QUERY_TIMEOUT", int64(c.QueryTimeout)},
		{"ANALYST_QUERY_MAX_ROWS", int64(c.QueryMaxRows)},
		{"ANALYST_OFFLOAD_THRESHOLD", int64(c.OffloadThreshold)},
		{"ANALYST_MAX_RETRIES", int64(c.MaxRetries)},
		{"ANALYST_SCHEMA_CACHE_TTL", int64(c.SchemaCacheTTL)},
		{"MEMORY_RETENTION", int64(c.MemoryRetention)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be greater than 0", p.name)
		}
	}

	switch c.Memory.Backend {
	case memory.BackendFile:
		if c.Memory.Dir == "" {
			return fmt.Errorf("MEMORY_DIR is required for the file backend")
		}
	case memory.BackendS3:
		if c.Memory.S3Bucket == "" {
			return fmt.Errorf("MEMORY_S3_BUCKET is required for the s3 backend")
		}
	case memory.BackendPostgres:
		if c.Memory.PostgresURL == "" {
			return fmt.Errorf("MEMORY_POSTGRES_URL is required for the postgres backend")
		}
	case memory.BackendRedis:
		if c.Memory.RedisAddr == "" {
			return fmt.Errorf("MEMORY_REDIS_ADDR is required for the redis backend")
		}
	default:
		return fmt.Errorf("MEMORY_BACKEND must be one of file, s3, postgres, redis (got %q)", c.Memory.Backend)
	}
	return nil
}

// ApplyWorkflow copies the workflow limits onto wc.
func (c *Config) ApplyWorkflow(wc *workflow.Config) {
	wc.LLMTimeout = c.LLMTimeout
	wc.SampleTimeout = c.SampleTimeout
	wc.QueryTimeout = c.QueryTimeout
	wc.QueryMaxRows = c.QueryMaxRows
	wc.OffloadThreshold = c.OffloadThreshold
	wc.MaxRetries = c.MaxRetries
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
