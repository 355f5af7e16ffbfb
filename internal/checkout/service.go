package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/payrelay/internal/catalog"
	"github.com/noah-isme/payrelay/internal/common"
	"github.com/noah-isme/payrelay/internal/money"
	"github.com/noah-isme/payrelay/internal/obs"
	"github.com/noah-isme/payrelay/internal/payment"
)

var (
	// ErrInvalidAmount is returned for an override amount that is not a positive number.
	ErrInvalidAmount = common.NewAppError("INVALID_AMOUNT", "amount must be a positive number", http.StatusUnprocessableEntity, money.ErrInvalidAmount)
	// ErrProductNotFound is returned for ids missing from the catalog.
	ErrProductNotFound = common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, nil)
)

// CodeAmountExceedsPrice marks an override that would charge more than the catalog price.
const CodeAmountExceedsPrice = "AMOUNT_EXCEEDS_PRICE"

// IntentCreator opens payment intents.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error)
}

// Input is the checkout request body. Amount is an optional caller-final
// total (for example a discounted price) sent as a JSON number or string.
type Input struct {
	ProductID string          `json:"productId" validate:"required,max=64"`
	Amount    json.RawMessage `json:"amount,omitempty"`
	TaxRate   *float64        `json:"taxRate,omitempty" validate:"omitempty,gte=0,lte=1"`
	Email     string          `json:"email" validate:"required,email,max=254"`
	Name      string          `json:"name,omitempty" validate:"omitempty,max=120"`
	Phone     string          `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// Output is returned to the frontend to confirm the payment client-side.
type Output struct {
	IntentID     string          `json:"intentId"`
	ClientSecret string          `json:"clientSecret"`
	Currency     string          `json:"currency"`
	Policy       money.Policy    `json:"policy"`
	Breakdown    money.Breakdown `json:"breakdown"`
}

// Service prices checkout requests and opens payment intents.
type Service struct {
	Catalog          *catalog.Catalog
	Processor        IntentCreator
	TaxRate          float64
	AllowTaxOverride bool
	Currency         string
	Logger           zerolog.Logger
}

// Quote selects the pricing policy for in. The catalog price is a pre-tax base
// priced with FromBase; an override that differs from it is a caller-final
// total priced with FromTotal and may never charge more than the base policy.
func (s *Service) Quote(in Input) (catalog.Product, money.Breakdown, error) {
	product, ok := s.Catalog.Lookup(in.ProductID)
	if !ok {
		return catalog.Product{}, money.Breakdown{}, ErrProductNotFound
	}
	override, err := ParseAmount(in.Amount)
	if err != nil {
		return catalog.Product{}, money.Breakdown{}, err
	}
	rate := s.effectiveRate(in)
	canonical := money.FromBase(product.Price, rate)
	if override == nil || override.Equal(product.Price) {
		return product, canonical, nil
	}
	discounted := money.FromTotal(*override, rate)
	if discounted.TotalMinorUnits > canonical.TotalMinorUnits {
		return catalog.Product{}, money.Breakdown{}, common.NewAppError(CodeAmountExceedsPrice, "amount exceeds the product price", http.StatusUnprocessableEntity, nil).
			WithDetails(map[string]string{"maxAmount": money.Fixed(canonical.TotalAmount)})
	}
	return product, discounted, nil
}

// Create prices the request and opens the payment intent.
func (s *Service) Create(ctx context.Context, in Input, idempotencyKey string) (Output, error) {
	if s == nil || s.Catalog == nil || s.Processor == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.Email = strings.TrimSpace(in.Email)
	if appErr := common.Validate(in); appErr != nil {
		return Output{}, appErr
	}
	product, breakdown, err := s.Quote(in)
	if err != nil {
		obs.CountPaymentIntent("none", "rejected")
		return Output{}, err
	}

	logger := obs.RequestFields(s.Logger, ctx).With().
		Str("product_id", product.ID).
		Str("policy", string(breakdown.Policy)).
		Int64("amount_minor", breakdown.TotalMinorUnits).
		Logger()
	if rate := s.effectiveRate(in); breakdown.TaxRate.IsZero() && rate != 0 {
		obs.CountTaxRateDegraded()
		logger.Warn().Bool("tax_rate_degraded", true).Str("configured_rate", strconv.FormatFloat(rate, 'g', -1, 64)).Msg("checkout_tax_rate_coerced")
	}

	currency := product.Currency
	if currency == "" {
		currency = s.Currency
	}
	intent, err := s.Processor.CreateIntent(ctx, payment.IntentRequest{
		Breakdown:      breakdown,
		Currency:       currency,
		ProductID:      product.ID,
		Description:    product.Name,
		Email:          in.Email,
		Name:           strings.TrimSpace(in.Name),
		Phone:          strings.TrimSpace(in.Phone),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		obs.CountPaymentIntent(string(breakdown.Policy), "error")
		logger.Error().Err(err).Msg("checkout_intent_failed")
		return Output{}, common.NewAppError("PAYMENT_PROVIDER_ERROR", "unable to create payment intent", http.StatusBadGateway, err)
	}
	obs.CountPaymentIntent(string(breakdown.Policy), "created")
	logger.Info().Str("intent_id", intent.ID).Msg("checkout_intent_created")

	return Output{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Currency:     currency,
		Policy:       breakdown.Policy,
		Breakdown:    breakdown,
	}, nil
}

// ParseAmount decodes an optional amount. Absent and null yield nil; anything
// that is not a positive decimal yields ErrInvalidAmount.
func ParseAmount(raw json.RawMessage) (*decimal.Decimal, error) {
	if trimmed := strings.TrimSpace(string(raw)); trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	text, err := money.AmountText(raw)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	amount, err := money.Parse(text)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	return &amount, nil
}

func (s *Service) effectiveRate(in Input) float64 {
	if s.AllowTaxOverride && in.TaxRate != nil {
		return *in.TaxRate
	}
	return s.TaxRate
}
