package payment

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/payrelay/internal/money"
)

// ErrInvalidSignature is returned by ParseWebhook when the payload cannot be
// authenticated.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// Normalised payment statuses carried by WebhookEvent.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
	StatusRefunded  = "refunded"
	StatusIgnored   = "ignored"
)

// Metadata keys attached to every intent so webhooks can be relayed without
// a lookup.
const (
	MetaBaseAmount     = "base_amount"
	MetaTaxAmount      = "tax_amount"
	MetaTotalAmount    = "total_amount"
	MetaBaseMinorUnits = "base_minor_units"
	MetaTaxRate        = "tax_rate"
	MetaPolicy         = "policy"
	MetaProductID      = "product_id"
	MetaEmail          = "email"
	MetaName           = "name"
	MetaPhone          = "phone"
)

// IntentRequest asks the processor to open a payment intent. Only
// Breakdown.TotalMinorUnits is charged; the rest travels as metadata.
type IntentRequest struct {
	Breakdown      money.Breakdown
	Currency       string
	ProductID      string
	Description    string
	Email          string
	Name           string
	Phone          string
	IdempotencyKey string
}

// Intent is the processor's answer to CreateIntent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Currency     string
	AmountMinor  int64
}

// RefundRequest refunds TotalAmount, a previously charged decimal total.
type RefundRequest struct {
	IntentID       string
	TotalAmount    decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// RefundResult describes the created refund.
type RefundResult struct {
	ID          string
	IntentID    string
	Status      string
	Currency    string
	AmountMinor int64
}

// WebhookEvent is a verified processor notification.
type WebhookEvent struct {
	ID            string
	Type          string
	Status        string
	IntentID      string
	AmountMinor   int64
	Currency      string
	FailureReason string
	Metadata      map[string]string
}

// Processor abstracts the payment processor.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error)
}

// IntentMetadata renders the breakdown and customer data attached to an intent.
func IntentMetadata(req IntentRequest) map[string]string {
	b := req.Breakdown
	meta := map[string]string{
		MetaBaseAmount:     money.Fixed(b.BaseAmount),
		MetaTaxAmount:      money.Fixed(b.TaxAmount),
		MetaTotalAmount:    money.Fixed(b.TotalAmount),
		MetaBaseMinorUnits: strconv.FormatInt(b.BaseMinorUnits, 10),
		MetaTaxRate:        b.TaxRate.String(),
	}
	set := func(k, v string) {
		if v != "" {
			meta[k] = v
		}
	}
	set(MetaPolicy, string(b.Policy))
	set(MetaProductID, req.ProductID)
	set(MetaEmail, req.Email)
	set(MetaName, req.Name)
	set(MetaPhone, req.Phone)
	return meta
}
