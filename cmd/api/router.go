package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payrelay/internal/catalog"
	"github.com/noah-isme/payrelay/internal/checkout"
	"github.com/noah-isme/payrelay/internal/common"
	"github.com/noah-isme/payrelay/internal/config"
	"github.com/noah-isme/payrelay/internal/health"
	"github.com/noah-isme/payrelay/internal/obs"
	"github.com/noah-isme/payrelay/internal/ratelimit"
	"github.com/noah-isme/payrelay/internal/refund"
	"github.com/noah-isme/payrelay/internal/security"
	"github.com/noah-isme/payrelay/internal/webhook"
)

type routerDeps struct {
	Config         *config.Config
	Logger         zerolog.Logger
	Redis          *redis.Client
	Catalog        *catalog.Catalog
	HTTPMetrics    *obs.HTTPMetrics
	TracingEnabled bool
	Health         health.Handler
	Checkout       *checkout.Service
	Refund         *refund.Service
	Webhook        webhook.Handler
}

func newRouter(d routerDeps) http.Handler {
	cfg := d.Config
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if d.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(security.Headers{
		Enable:                envBool("SECURE_HEADERS_ENABLE", true),
		EnableHSTS:            envBool("SECURE_HSTS_ENABLE", cfg.AppEnv == "production"),
		HSTSMaxAge:            envInt("SECURE_HSTS_MAX_AGE", 31536000),
		HSTSIncludeSubdomains: envBool("SECURE_HSTS_INCLUDE_SUBDOMAINS", true),
		TrustForwardedProto:   envBool("SECURE_TRUST_FORWARDED_PROTO", false),
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Idempotent-Replayed", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)
	if d.HTTPMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	products := catalog.NewHandler(catalog.HandlerConfig{Catalog: d.Catalog, TaxRate: cfg.TaxRate})
	checkoutHandler := &checkout.Handler{Svc: d.Checkout}
	refundHandler := &refund.Handler{Svc: d.Refund}

	checkoutLimit := ratelimit.Handler{
		Fallback: ratelimit.NewMemory(cfg.RateLimitWindow, cfg.RateLimitMax),
		Key:      ratelimit.ByClientIP("checkout"),
		OnError: func(err error) {
			d.Logger.Warn().Err(err).Msg("rate limiter unavailable; using in-memory fallback")
		},
	}
	if d.Redis != nil {
		checkoutLimit.Limiter = ratelimit.SlidingWindow{Client: d.Redis, Prefix: "rl:", Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax}
	} else {
		checkoutLimit.Limiter = checkoutLimit.Fallback
	}
	bodyLimit := security.BodyLimit{Max: cfg.BodyLimitBytes}

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/products", products.Products)
		api.Get("/products/{id}", products.ProductDetail)

		api.Group(func(w chi.Router) {
			w.Use(bodyLimit.Middleware)
			w.With(
				checkoutLimit.Middleware,
				common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL, Scope: "checkout"}.Middleware,
			).Post("/checkout/intent", checkoutHandler.CreateIntent)
			w.With(
				common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL, Scope: "refund"}.Middleware,
			).Post("/refunds", refundHandler.Create)
			w.Post("/webhooks/stripe", d.Webhook.Handle)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}
