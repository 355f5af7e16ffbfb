package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/payrelay/internal/app"
	"github.com/noah-isme/payrelay/internal/config"
	"github.com/noah-isme/payrelay/internal/obs"
	"github.com/noah-isme/payrelay/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	if cfg.RelayRetryMode != config.RetryModeAsynq {
		logger.Warn().Str("retry_mode", cfg.RelayRetryMode).Msg("relay retries run inside the API process; worker has nothing to do")
	}
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "payrelay"), nil)
	if envOrDefault("OBS_ENABLE_TRACING", "true") == "true" {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "payrelay-worker",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: 1.0,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis url")
	}

	// Scheduler stays nil: the queued task is the one and only retry.
	dispatcher := app.NewRelayDispatcher(cfg, logger)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: max(cfg.WorkerConcurrency, 1),
		Queues:      map[string]int{cfg.RelayQueue: 1},
		Logger:      asynqLogger{logger: logger},
	})
	mux := asynq.NewServeMux()
	mux.Handle(relay.TaskRelayRetry, relay.NewRetryTaskHandler(dispatcher.Retry))

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Str("queue", cfg.RelayQueue).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
