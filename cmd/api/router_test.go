package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payrelay/internal/catalog"
	"github.com/noah-isme/payrelay/internal/checkout"
	"github.com/noah-isme/payrelay/internal/config"
	"github.com/noah-isme/payrelay/internal/events"
	"github.com/noah-isme/payrelay/internal/health"
	"github.com/noah-isme/payrelay/internal/payment"
	"github.com/noah-isme/payrelay/internal/refund"
	"github.com/noah-isme/payrelay/internal/webhook"
)

type stubProcessor struct {
	mu      sync.Mutex
	intents int
}

func (p *stubProcessor) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents++
	return payment.Intent{ID: "pi_router", ClientSecret: "pi_router_secret", Currency: req.Currency, AmountMinor: req.Breakdown.TotalMinorUnits}, nil
}

func (p *stubProcessor) Refund(_ context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	return payment.RefundResult{ID: "re_router", IntentID: req.IntentID, Status: "succeeded", Currency: "mxn", AmountMinor: 100}, nil
}

func (p *stubProcessor) ParseWebhook([]byte, string) (payment.WebhookEvent, error) {
	return payment.WebhookEvent{}, payment.ErrInvalidSignature
}

func newTestRouter(t *testing.T) (http.Handler, *stubProcessor) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		AppEnv:          "test",
		Currency:        "mxn",
		TaxRate:         0.16,
		RateLimitWindow: time.Minute,
		RateLimitMax:    100,
		IdempotencyTTL:  time.Hour,
		BodyLimitBytes:  1 << 16,
	}
	proc := &stubProcessor{}
	products := catalog.Default()
	logger := zerolog.Nop()
	return newRouter(routerDeps{
		Config:  cfg,
		Logger:  logger,
		Redis:   client,
		Catalog: products,
		Health:  health.Handler{},
		Checkout: &checkout.Service{
			Catalog: products, Processor: proc, TaxRate: cfg.TaxRate, Currency: cfg.Currency, Logger: logger,
		},
		Refund: &refund.Service{Processor: proc, Logger: logger},
		Webhook: webhook.Handler{
			Parser: proc,
			Events: &events.Bus{},
			Logger: logger,
		},
	}), proc
}

func TestRouterServesProducts(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/products/plan-profesional", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"plan-profesional"`)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), `"NOT_FOUND"`)
}

func TestRouterReplaysIdempotentCheckout(t *testing.T) {
	router, proc := newTestRouter(t)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/intent",
			strings.NewReader(`{"productId":"plan-profesional","email":"ana@example.com"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "order-42")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, proc.intents)
}

func TestRouterRejectsUnsignedWebhook(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), `"INVALID_SIGNATURE"`)
}

func TestRouterEnforcesBodyLimit(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds", strings.NewReader(strings.Repeat("x", 1<<17)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
