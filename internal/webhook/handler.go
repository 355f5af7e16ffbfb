package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payrelay/internal/common"
	"github.com/noah-isme/payrelay/internal/events"
	"github.com/noah-isme/payrelay/internal/obs"
	"github.com/noah-isme/payrelay/internal/payment"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

// Parser verifies and normalises processor webhooks.
type Parser interface {
	ParseWebhook(payload []byte, signatureHeader string) (payment.WebhookEvent, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Handler receives processor webhooks and hands verified outcomes to the
// event bus. It answers as soon as the event is emitted; relaying to the CRM
// and marketing platform happens in the background.
type Handler struct {
	Parser    Parser
	Replay    ReplayGuard
	ReplayTTL time.Duration
	Events    Emitter
	Logger    zerolog.Logger
}

type receipt struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId"`
	Status   string `json:"status"`
}

// Handle serves POST /api/v1/webhooks/stripe.
func (h Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Parser == nil || h.Events == nil {
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	logger := obs.RequestFields(h.Logger, r.Context())
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	ev, err := h.Parser.ParseWebhook(body, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			obs.CountPaymentWebhook("unknown", "invalid_signature")
			logger.Warn().Err(err).Msg("webhook_signature_rejected")
			common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
			return
		}
		obs.CountPaymentWebhook("unknown", "invalid")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	logger = logger.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	key := "wh:stripe:" + ev.ID
	if h.Replay != nil && h.ReplayTTL > 0 {
		ok, err := h.Replay.Acquire(r.Context(), key, h.ReplayTTL)
		if err != nil {
			logger.Error().Err(err).Msg("webhook_replay_store_error")
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "unable to record webhook", nil)
			return
		}
		if !ok {
			obs.CountPaymentWebhook(ev.Status, "replay")
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	topic, ok := events.TopicForStatus(ev.Status)
	if !ok || ev.IntentID == "" {
		obs.CountPaymentWebhook(payment.StatusIgnored, "ignored")
		logger.Debug().Msg("webhook_ignored")
		common.Data(w, http.StatusOK, receipt{Received: true, EventID: ev.ID, Status: payment.StatusIgnored})
		return
	}

	emitted, err := h.Events.Emit(r.Context(), topic, ev.IntentID, payloadFor(ev))
	if err != nil && emitted.ID == "" {
		if h.Replay != nil && h.ReplayTTL > 0 {
			_ = h.Replay.Release(context.WithoutCancel(r.Context()), key)
		}
		obs.CountPaymentWebhook(ev.Status, "error")
		logger.Error().Err(err).Msg("webhook_emit_failed")
		common.JSONError(w, http.StatusInternalServerError, "EMIT_FAILED", "unable to process webhook", nil)
		return
	}
	if err != nil {
		// the event exists; a notifier refused it
		logger.Warn().Err(err).Str("domain_event_id", emitted.ID).Msg("webhook_notifier_error")
	}
	obs.CountPaymentWebhook(ev.Status, "accepted")
	logger.Info().Str("intent_id", ev.IntentID).Str("status", ev.Status).Str("domain_event_id", emitted.ID).Msg("webhook_accepted")
	common.Data(w, http.StatusOK, receipt{Received: true, EventID: ev.ID, Status: ev.Status})
}

func payloadFor(ev payment.WebhookEvent) events.PaymentPayload {
	meta := ev.Metadata
	return events.PaymentPayload{
		ProcessorEventID: ev.ID,
		IntentID:         ev.IntentID,
		Status:           ev.Status,
		Currency:         ev.Currency,
		AmountMinor:      ev.AmountMinor,
		BaseAmount:       meta[payment.MetaBaseAmount],
		TaxAmount:        meta[payment.MetaTaxAmount],
		TotalAmount:      meta[payment.MetaTotalAmount],
		TaxRate:          meta[payment.MetaTaxRate],
		ProductID:        meta[payment.MetaProductID],
		Email:            meta[payment.MetaEmail],
		Name:             meta[payment.MetaName],
		Phone:            meta[payment.MetaPhone],
		FailureReason:    ev.FailureReason,
	}
}
