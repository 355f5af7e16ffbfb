package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/payrelay/internal/money"
)

// Retry modes for failed relay deliveries.
const (
	RetryModeInProcess = "inprocess"
	RetryModeAsynq     = "asynq"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAccountID     string
	StripeAPIBaseURL    string
	Currency            string

	// TaxRate is NaN when TAX_RATE is set but unparsable; the money engine
	// then degrades to a zero rate.
	TaxRate     float64
	CatalogPath string

	// AllowTaxOverride lets checkout requests carry their own taxRate.
	AllowTaxOverride bool

	CRMBaseURL        string
	CRMAPIToken       string
	MarketingBaseURL  string
	MarketingAPIKey   string
	MarketingListID   string
	OutboundTimeout   time.Duration
	OutboundRetries   int
	OutboundBackoff   time.Duration
	CircuitFailures   int
	CircuitCooldown   time.Duration
	RelayRetryDelay   time.Duration
	RelayRetryMode    string
	RelayQueue        string
	WorkerConcurrency int

	RateLimitWindow  time.Duration
	RateLimitMax     int
	IdempotencyTTL   time.Duration
	WebhookReplayTTL time.Duration
	RefundLockTTL    time.Duration
	BodyLimitBytes   int64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		StripeSecretKey:     strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),
		StripeAccountID:     strings.TrimSpace(k.String("STRIPE_ACCOUNT_ID")),
		StripeAPIBaseURL:    strings.TrimSpace(k.String("STRIPE_API_BASE_URL")),
		Currency:            strings.ToLower(valueOrDefault(k.String("CURRENCY"), "mxn")),
		TaxRate:             parseTaxRate(k.String("TAX_RATE")),
		CatalogPath:         strings.TrimSpace(k.String("CATALOG_PATH")),
		AllowTaxOverride:    parseBool(k.String("CHECKOUT_ALLOW_TAX_OVERRIDE")),
		CRMBaseURL:          strings.TrimRight(strings.TrimSpace(k.String("CRM_BASE_URL")), "/"),
		CRMAPIToken:         strings.TrimSpace(k.String("CRM_API_TOKEN")),
		MarketingBaseURL:    strings.TrimRight(strings.TrimSpace(k.String("MARKETING_BASE_URL")), "/"),
		MarketingAPIKey:     strings.TrimSpace(k.String("MARKETING_API_KEY")),
		MarketingListID:     strings.TrimSpace(k.String("MARKETING_LIST_ID")),
		OutboundTimeout:     parseDuration(k.String("OUTBOUND_TIMEOUT"), "10s"),
		OutboundRetries:     parseInt(k.String("OUTBOUND_RETRIES"), 2),
		OutboundBackoff:     parseDuration(k.String("OUTBOUND_BACKOFF"), "200ms"),
		CircuitFailures:     parseInt(k.String("CIRCUIT_FAILURE_THRESHOLD"), 5),
		CircuitCooldown:     parseDuration(k.String("CIRCUIT_COOLDOWN"), "30s"),
		RelayRetryDelay:     parseDuration(k.String("RELAY_RETRY_DELAY"), "30s"),
		RelayRetryMode:      strings.ToLower(valueOrDefault(k.String("RELAY_RETRY_MODE"), RetryModeInProcess)),
		RelayQueue:          valueOrDefault(k.String("RELAY_QUEUE"), "relay"),
		WorkerConcurrency:   parseInt(k.String("WORKER_CONCURRENCY"), 5),
		RateLimitWindow:     parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:        parseInt(k.String("RATE_LIMIT_MAX"), 30),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
		RefundLockTTL:       parseDuration(k.String("REFUND_LOCK_TTL"), "15s"),
		BodyLimitBytes:      int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
	}

	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	switch cfg.RelayRetryMode {
	case RetryModeInProcess:
	case RetryModeAsynq:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required when RELAY_RETRY_MODE=asynq")
		}
	default:
		return nil, fmt.Errorf("unknown RELAY_RETRY_MODE %q", cfg.RelayRetryMode)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// TaxRateDegraded reports whether the configured tax rate will be coerced to zero.
func (c *Config) TaxRateDegraded() bool {
	_, ok := money.NormalizeRate(c.TaxRate)
	return !ok
}

// CRMEnabled reports whether contact and invoice upserts are configured.
func (c *Config) CRMEnabled() bool { return c.CRMBaseURL != "" }

// MarketingEnabled reports whether marketing events are configured.
func (c *Config) MarketingEnabled() bool {
	return c.MarketingBaseURL != "" && c.MarketingListID != ""
}

func parseTaxRate(value string) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return money.DefaultTaxRate
	}
	rate, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return math.NaN()
	}
	return rate
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && parsed
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
