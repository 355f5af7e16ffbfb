package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/payrelay/internal/app"
	"github.com/noah-isme/payrelay/internal/catalog"
	"github.com/noah-isme/payrelay/internal/checkout"
	"github.com/noah-isme/payrelay/internal/config"
	"github.com/noah-isme/payrelay/internal/events"
	"github.com/noah-isme/payrelay/internal/health"
	"github.com/noah-isme/payrelay/internal/lock"
	"github.com/noah-isme/payrelay/internal/obs"
	"github.com/noah-isme/payrelay/internal/payment"
	"github.com/noah-isme/payrelay/internal/refund"
	"github.com/noah-isme/payrelay/internal/relay"
	"github.com/noah-isme/payrelay/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "payrelay")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "payrelay-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.TaxRateDegraded() {
		logger.Warn().Str("tax_rate", strconv.FormatFloat(cfg.TaxRate, 'g', -1, 64)).Msg("TAX_RATE is invalid; pricing without tax")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	products := catalog.Default()
	if cfg.CatalogPath != "" {
		products, err = catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.CatalogPath).Msg("load catalog")
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = app.MustInitRedis(ctx, cfg, metricsEnabled, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	} else {
		logger.Warn().Msg("REDIS_URL not set; idempotency, replay guard and refund locks are disabled")
	}

	processor, err := payment.NewStripe(payment.StripeConfig{
		APIKey:        cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		AccountID:     cfg.StripeAccountID,
		APIBaseURL:    cfg.StripeAPIBaseURL,
		Logger:        logger.With().Str("component", "stripe").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise stripe")
	}

	dispatcher := app.NewRelayDispatcher(cfg, logger)

	var inProcess *relay.InProcessScheduler
	var asynqClient *asynq.Client
	switch cfg.RelayRetryMode {
	case config.RetryModeAsynq:
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse asynq redis url")
		}
		asynqClient = asynq.NewClient(redisOpt)
		defer func() {
			if err := asynqClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close asynq client")
			}
		}()
		dispatcher.Scheduler = relay.AsynqScheduler{
			Client:      asynqClient,
			Queue:       cfg.RelayQueue,
			TaskTimeout: dispatcher.Timeout + 10*time.Second,
		}
	default:
		inProcess = relay.NewInProcessScheduler(dispatcher.Retry)
		dispatcher.Scheduler = inProcess
	}
	bus := &events.Bus{Notifiers: []events.Notifier{dispatcher}}

	var replay webhook.ReplayGuard
	var locks refund.Locker
	if redisClient != nil {
		replay = webhook.RedisReplayGuard{Client: redisClient}
		locks = lock.Locker{R: redisClient, Prefix: "lock:", Wait: 2 * time.Second}
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	probes := map[string]health.Probe{}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context, timeout time.Duration) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		}
	}

	router := newRouter(routerDeps{
		Config:         cfg,
		Logger:         logger,
		Redis:          redisClient,
		Catalog:        products,
		HTTPMetrics:    httpMetrics,
		TracingEnabled: tracingEnabled,
		Health:         health.Handler{Probes: probes, Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300)},
		Checkout: &checkout.Service{
			Catalog:          products,
			Processor:        processor,
			TaxRate:          cfg.TaxRate,
			AllowTaxOverride: cfg.AllowTaxOverride,
			Currency:         cfg.Currency,
			Logger:           logger.With().Str("component", "checkout").Logger(),
		},
		Refund: &refund.Service{
			Processor: processor,
			Locks:     locks,
			LockTTL:   cfg.RefundLockTTL,
			Logger:    logger.With().Str("component", "refund").Logger(),
		},
		Webhook: webhook.Handler{
			Parser:    processor,
			Replay:    replay,
			ReplayTTL: cfg.WebhookReplayTTL,
			Events:    bus,
			Logger:    logger.With().Str("component", "webhook").Logger(),
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/", router)
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		mux.Handle("/debug/pprof/", protectPprof(newPprofMux(), user, pass))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("retry_mode", cfg.RelayRetryMode).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("relay deliveries still in flight at shutdown")
	}
	if inProcess != nil {
		if pending := inProcess.Pending(); pending > 0 {
			logger.Warn().Int("pending", pending).Msg("dropping scheduled relay retries")
		}
		if err := inProcess.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("relay retries still running at shutdown")
		}
	}
	logger.Info().Msg("server stopped")
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

// newPprofMux serves the profiling endpoints under their full /debug/pprof/
// paths; pprof.Index resolves named profiles (heap, allocs, goroutine, ...)
// from that prefix.
func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
