package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payrelay/internal/config"
	"github.com/noah-isme/payrelay/internal/crm"
	"github.com/noah-isme/payrelay/internal/marketing"
	"github.com/noah-isme/payrelay/internal/relay"
	"github.com/noah-isme/payrelay/internal/resilience"
)

// MustInitRedis connects to REDIS_URL with tracing (and optionally metrics)
// instrumentation and exits the process when the server is unreachable.
func MustInitRedis(ctx context.Context, cfg *config.Config, metrics bool, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// OutboundClient builds the retrying, circuit-broken JSON client used for one
// downstream target.
func OutboundClient(cfg *config.Config, target string, logger zerolog.Logger) resilience.HTTPClient {
	targetLogger := logger.With().Str("target", target).Logger()
	return resilience.HTTPClient{
		Client:      resilience.NewTracedClient(cfg.OutboundTimeout),
		Breaker:     resilience.NewBreaker(cfg.CircuitFailures, 0.5, cfg.CircuitCooldown).WithTarget(target).WithLogger(targetLogger),
		Target:      target,
		BaseBackoff: cfg.OutboundBackoff,
		MaxAttempts: cfg.OutboundRetries + 1,
		Jitter:      0.2,
		Timeout:     cfg.OutboundTimeout,
		Logger:      targetLogger,
	}
}

// NewRelayDispatcher wires the CRM and marketing clients that are configured.
// The caller sets Scheduler; without one a failed delivery is not retried.
func NewRelayDispatcher(cfg *config.Config, logger zerolog.Logger) *relay.Dispatcher {
	d := &relay.Dispatcher{
		RetryDelay: cfg.RelayRetryDelay,
		Timeout:    relayTimeout(cfg),
		Logger:     logger.With().Str("component", "relay").Logger(),
	}
	if cfg.CRMEnabled() {
		d.CRM = &crm.Client{BaseURL: cfg.CRMBaseURL, Token: cfg.CRMAPIToken, HTTP: OutboundClient(cfg, "crm", logger)}
	} else {
		logger.Warn().Msg("CRM_BASE_URL not set; contact and invoice upserts are disabled")
	}
	if cfg.MarketingEnabled() {
		d.Marketing = &marketing.Client{
			BaseURL: cfg.MarketingBaseURL,
			APIKey:  cfg.MarketingAPIKey,
			ListID:  cfg.MarketingListID,
			HTTP:    OutboundClient(cfg, "marketing", logger),
		}
	} else {
		logger.Warn().Msg("marketing automation not configured; events will not be tracked")
	}
	return d
}

// relayTimeout bounds one delivery: three sequential calls, each allowed every
// retry plus its backoff.
func relayTimeout(cfg *config.Config) time.Duration {
	attempts := time.Duration(cfg.OutboundRetries + 1)
	per := attempts*cfg.OutboundTimeout + attempts*attempts*cfg.OutboundBackoff
	return 3 * per
}
