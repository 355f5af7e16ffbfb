package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/noah-isme/payrelay/internal/money"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeClients overrides the Stripe API surfaces, mainly for tests.
type StripeClients struct {
	Intents stripeIntentAPI
	Refunds stripeRefundAPI
}

// StripeConfig configures the Stripe processor.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	// APIBaseURL points the API backend elsewhere (stripe-mock, a proxy).
	APIBaseURL string
	Clients    *StripeClients
	Logger     zerolog.Logger
}

// Stripe implements Processor on the Stripe Payment Intents API.
type Stripe struct {
	intents       stripeIntentAPI
	refunds       stripeRefundAPI
	webhookSecret string
	account       string
	logger        zerolog.Logger
}

var _ Processor = (*Stripe)(nil)

// NewStripe builds the processor.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	var clients StripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		var backends *stripe.Backends
		if base := strings.TrimSpace(cfg.APIBaseURL); base != "" {
			backends = &stripe.Backends{
				API:     stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{URL: stripe.String(base)}),
				Connect: stripe.GetBackend(stripe.ConnectBackend),
				Uploads: stripe.GetBackend(stripe.UploadsBackend),
			}
		}
		sc := client.New(apiKey, backends)
		clients = StripeClients{Intents: sc.PaymentIntents, Refunds: sc.Refunds}
	}
	if clients.Intents == nil || clients.Refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}
	return &Stripe{
		intents:       clients.Intents,
		refunds:       clients.Refunds,
		webhookSecret: secret,
		account:       strings.TrimSpace(cfg.AccountID),
		logger:        cfg.Logger,
	}, nil
}

// CreateIntent opens a payment intent for Breakdown.TotalMinorUnits.
func (p *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	amount := req.Breakdown.TotalMinorUnits
	if amount <= 0 {
		return Intent{}, money.ErrInvalidAmount
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, errors.New("stripe: currency is required")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range IntentMetadata(req) {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger.Info().
		Str("intent_id", intent.ID).
		Int64("amount_minor", intent.Amount).
		Str("currency", string(intent.Currency)).
		Str("policy", string(req.Breakdown.Policy)).
		Msg("payment_intent_created")
	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		Currency:     string(intent.Currency),
		AmountMinor:  intent.Amount,
	}, nil
}

// Refund refunds the floor of TotalAmount in minor units, which is never more
// than what was charged for the same total.
func (p *Stripe) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return RefundResult{}, errors.New("stripe: payment intent id is required")
	}
	if err := money.ValidateAmount(req.TotalAmount); err != nil {
		return RefundResult{}, err
	}
	amount := money.MinorUnits(req.TotalAmount)
	if amount <= 0 {
		return RefundResult{}, money.ErrInvalidAmount
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := refundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.AddMetadata(MetaTotalAmount, money.Fixed(req.TotalAmount))

	refund, err := p.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger.Info().
		Str("refund_id", refund.ID).
		Str("intent_id", intentID).
		Int64("amount_minor", refund.Amount).
		Msg("payment_refund_created")
	return RefundResult{
		ID:          refund.ID,
		IntentID:    intentID,
		Status:      string(refund.Status),
		Currency:    string(refund.Currency),
		AmountMinor: refund.Amount,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalises the event.
// Event types that carry no payment outcome come back with StatusIgnored.
func (p *Stripe) ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := WebhookEvent{ID: event.ID, Type: string(event.Type), Status: StatusIgnored}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		out.Status = intentStatus(string(event.Type))
		out.IntentID = intent.ID
		out.AmountMinor = intent.Amount
		out.Currency = string(intent.Currency)
		out.Metadata = copyMetadata(intent.Metadata)
		if out.Metadata[MetaEmail] == "" && intent.ReceiptEmail != "" {
			out.Metadata[MetaEmail] = intent.ReceiptEmail
		}
		if intent.LastPaymentError != nil {
			out.FailureReason = intent.LastPaymentError.Msg
		}
		if out.FailureReason == "" && intent.CancellationReason != "" {
			out.FailureReason = string(intent.CancellationReason)
		}
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode charge: %w", err)
		}
		out.Status = StatusRefunded
		if charge.PaymentIntent != nil {
			out.IntentID = charge.PaymentIntent.ID
		}
		out.AmountMinor = charge.AmountRefunded
		out.Currency = string(charge.Currency)
		out.Metadata = copyMetadata(charge.Metadata)
		if out.Metadata[MetaEmail] == "" {
			if charge.BillingDetails != nil && charge.BillingDetails.Email != "" {
				out.Metadata[MetaEmail] = charge.BillingDetails.Email
			} else if charge.ReceiptEmail != "" {
				out.Metadata[MetaEmail] = charge.ReceiptEmail
			}
		}
		if out.Metadata[MetaName] == "" && charge.BillingDetails != nil && charge.BillingDetails.Name != "" {
			out.Metadata[MetaName] = charge.BillingDetails.Name
		}
	}
	return out, nil
}

func intentStatus(eventType string) string {
	switch eventType {
	case "payment_intent.succeeded":
		return StatusSucceeded
	case "payment_intent.payment_failed":
		return StatusFailed
	case "payment_intent.canceled":
		return StatusCanceled
	default:
		return StatusIgnored
	}
}

func refundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "duplicate":
		return string(stripe.RefundReasonDuplicate)
	case "fraud", "fraudulent":
		return string(stripe.RefundReasonFraudulent)
	case "requested_by_customer", "customer", "customer_request":
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
