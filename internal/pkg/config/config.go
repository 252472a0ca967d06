// Package config turns the environment into a validated, typed Config.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sutto4/ccc-sub004/internal/pkg/env"
)

const (
	StoreDriverMySQL  = "mysql"
	StoreDriverMemory = "memory"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	AppEnv  string `validate:"oneof=dev prod test"`
	AppHost string
	AppPort string `validate:"required,numeric"`

	StoreDriver string   `validate:"oneof=mysql memory"`
	APITokens   []string `validate:"dive,min=16"`

	AllocationTxTimeout time.Duration `validate:"gt=0"`

	QuotaLimits         string
	QuotaStatusCacheTTL time.Duration `validate:"gte=0"`
	QuotaRetention      time.Duration `validate:"gt=0"`

	RateLimitBackend  string        `validate:"oneof=memory redis"`
	RateLimitRequests int           `validate:"gt=0"`
	RateLimitWindow   time.Duration `validate:"gt=0"`

	BulkBatchSize   int `validate:"gt=0,lte=5000"`
	BulkParallelism int `validate:"gt=0,lte=32"`

	JobWorkers        int           `validate:"gt=0,lte=64"`
	PruneInterval     time.Duration `validate:"gt=0"`
	ReconcileInterval time.Duration `validate:"gt=0"`

	BillingWebhookSecret string

	BotStatusLogLines int `validate:"gt=0,lte=10000"`
}

// Load reads the environment (after env.SetupEnvFile) into a Config and validates it.
func Load() (*Config, error) {
	var perr parseErrors
	cfg := &Config{
		AppEnv:               env.GetEnv("APP_ENV", "prod"),
		AppHost:              env.GetEnv("APP_HOST", "0.0.0.0"),
		AppPort:              env.GetEnv("APP_PORT", "4000"),
		StoreDriver:          strings.ToLower(env.GetEnv("STORE_DRIVER", StoreDriverMySQL)),
		APITokens:            splitList(env.GetEnv("API_TOKENS", "")),
		AllocationTxTimeout:  perr.duration("ALLOCATION_TX_TIMEOUT", "10s"),
		QuotaLimits:          env.GetEnv("QUOTA_LIMITS", ""),
		QuotaStatusCacheTTL:  perr.duration("QUOTA_STATUS_CACHE_TTL", "5s"),
		QuotaRetention:       perr.duration("QUOTA_RETENTION", "720h"),
		RateLimitBackend:     strings.ToLower(env.GetEnv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
		RateLimitRequests:    perr.integer("RATE_LIMIT_REQUESTS", "30"),
		RateLimitWindow:      perr.duration("RATE_LIMIT_WINDOW", "60s"),
		BulkBatchSize:        perr.integer("BULK_BATCH_SIZE", "200"),
		BulkParallelism:      perr.integer("BULK_PARALLELISM", "4"),
		JobWorkers:           perr.integer("JOB_WORKERS", "3"),
		PruneInterval:        perr.duration("QUOTA_PRUNE_INTERVAL", "1h"),
		ReconcileInterval:    perr.duration("RECONCILE_INTERVAL", "15m"),
		BillingWebhookSecret: env.GetEnv("BILLING_WEBHOOK_SECRET", ""),
		BotStatusLogLines:    perr.integer("BOT_STATUS_LOG_LINES", "200"),
	}
	if len(perr) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(perr, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RequireAPITokens fails when no API token is configured. Only the HTTP
// server needs tokens; the admin CLI runs without them.
func (c *Config) RequireAPITokens() error {
	if len(c.APITokens) == 0 {
		return fmt.Errorf("config: API_TOKENS must list at least one token")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.AppPort
}

type parseErrors []string

func (p *parseErrors) duration(key, def string) time.Duration {
	raw := env.GetEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s=%q is not a duration", key, raw))
	}
	return d
}

func (p *parseErrors) integer(key, def string) int {
	raw := env.GetEnv(key, def)
	n, err := strconv.Atoi(raw)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s=%q is not an integer", key, raw))
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
