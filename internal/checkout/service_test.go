package checkout_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payrelay/internal/catalog"
	"github.com/noah-isme/payrelay/internal/checkout"
	"github.com/noah-isme/payrelay/internal/common"
	"github.com/noah-isme/payrelay/internal/money"
	"github.com/noah-isme/payrelay/internal/payment"
)

type fakeProcessor struct {
	requests []payment.IntentRequest
	err      error
}

func (f *fakeProcessor) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return payment.Intent{}, f.err
	}
	return payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", AmountMinor: req.Breakdown.TotalMinorUnits, Currency: req.Currency}, nil
}

func newService(proc *fakeProcessor, rate float64) *checkout.Service {
	return &checkout.Service{
		Catalog:   catalog.Default(),
		Processor: proc,
		TaxRate:   rate,
		Currency:  "mxn",
		Logger:    zerolog.Nop(),
	}
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

func TestCreateUsesCatalogPrice(t *testing.T) {
	proc := &fakeProcessor{}
	out, err := newService(proc, 0.10).Create(context.Background(), checkout.Input{ProductID: "plan-profesional", Email: "ana@example.com"}, "idem-1")
	require.NoError(t, err)

	require.Equal(t, "pi_1", out.IntentID)
	require.Equal(t, money.PolicyBase, out.Policy)
	require.Equal(t, "mxn", out.Currency)
	require.Equal(t, int64(550000), out.Breakdown.TotalMinorUnits)

	require.Len(t, proc.requests, 1)
	req := proc.requests[0]
	require.Equal(t, "idem-1", req.IdempotencyKey)
	require.Equal(t, "plan-profesional", req.ProductID)
	require.Equal(t, int64(550000), req.Breakdown.TotalMinorUnits)
}

func TestCreateDiscountedTotalUsesTotalPolicy(t *testing.T) {
	proc := &fakeProcessor{}
	// plan-empresarial lists at 13750.00 with tax, so 5500.50 is a discount
	out, err := newService(proc, 0.10).Create(context.Background(), checkout.Input{
		ProductID: "plan-empresarial",
		Amount:    json.RawMessage(`"5500.50"`),
		Email:     "ana@example.com",
	}, "")
	require.NoError(t, err)
	require.Equal(t, money.PolicyTotal, out.Policy)
	require.Equal(t, "5000.45", money.Fixed(out.Breakdown.BaseAmount))
	require.Equal(t, "500.05", money.Fixed(out.Breakdown.TaxAmount))
	require.Equal(t, "5500.50", money.Fixed(out.Breakdown.TotalAmount))
	require.Equal(t, int64(550050), out.Breakdown.TotalMinorUnits)
	require.Len(t, proc.requests, 1)
	require.Equal(t, int64(550050), proc.requests[0].Breakdown.TotalMinorUnits)
}

func TestCreateRejectsTotalAboveListedTotal(t *testing.T) {
	proc := &fakeProcessor{}
	_, err := newService(proc, 0.10).Create(context.Background(), checkout.Input{
		ProductID: "plan-profesional",
		Amount:    json.RawMessage(`"5500.50"`),
		Email:     "ana@example.com",
	}, "")
	require.Equal(t, checkout.CodeAmountExceedsPrice, appCode(t, err))

	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, map[string]string{"maxAmount": "5500.00"}, appErr.Details)
	require.Empty(t, proc.requests)
}

func TestCreateAmountEqualToPriceKeepsBasePolicy(t *testing.T) {
	proc := &fakeProcessor{}
	out, err := newService(proc, 0).Create(context.Background(), checkout.Input{
		ProductID: "plan-basico",
		Amount:    json.RawMessage(`3500.99`),
		Email:     "ana@example.com",
	}, "")
	require.NoError(t, err)
	require.Equal(t, money.PolicyBase, out.Policy)
	require.Equal(t, int64(350099), out.Breakdown.TotalMinorUnits)
}

func TestCreateRejectsInvalidAmounts(t *testing.T) {
	for _, raw := range []string{`0`, `-5`, `"abc"`, `"NaN"`, `true`, `"  "`} {
		t.Run(raw, func(t *testing.T) {
			proc := &fakeProcessor{}
			_, err := newService(proc, 0.10).Create(context.Background(), checkout.Input{
				ProductID: "plan-basico",
				Amount:    json.RawMessage(raw),
				Email:     "ana@example.com",
			}, "")
			require.Equal(t, "INVALID_AMOUNT", appCode(t, err))
			require.ErrorIs(t, err, money.ErrInvalidAmount)
			require.Empty(t, proc.requests)
		})
	}
}

func TestCreateRejectsOverrideAbovePrice(t *testing.T) {
	proc := &fakeProcessor{}
	_, err := newService(proc, 0.10).Create(context.Background(), checkout.Input{
		ProductID: "consulta-inicial",
		Amount:    json.RawMessage(`5000`),
		Email:     "ana@example.com",
	}, "")
	require.Equal(t, checkout.CodeAmountExceedsPrice, appCode(t, err))
	require.Empty(t, proc.requests)
}

func TestCreateUnknownProduct(t *testing.T) {
	_, err := newService(&fakeProcessor{}, 0.10).Create(context.Background(), checkout.Input{ProductID: "nope", Email: "ana@example.com"}, "")
	require.Equal(t, "PRODUCT_NOT_FOUND", appCode(t, err))
}

func TestCreateValidatesInput(t *testing.T) {
	_, err := newService(&fakeProcessor{}, 0.10).Create(context.Background(), checkout.Input{ProductID: "plan-basico", Email: "not-an-email"}, "")
	require.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestCreateDegradedRateChargesNoTax(t *testing.T) {
	proc := &fakeProcessor{}
	out, err := newService(proc, math.NaN()).Create(context.Background(), checkout.Input{ProductID: "consulta-inicial", Email: "ana@example.com"}, "")
	require.NoError(t, err)
	require.True(t, out.Breakdown.TaxRate.IsZero())
	require.Equal(t, int64(99901), out.Breakdown.TotalMinorUnits)
}

func TestCreateTaxOverride(t *testing.T) {
	rate := 0.16
	in := checkout.Input{ProductID: "plan-profesional", Email: "ana@example.com", TaxRate: &rate}

	svc := newService(&fakeProcessor{}, 0.10)
	out, err := svc.Create(context.Background(), in, "")
	require.NoError(t, err)
	require.Equal(t, int64(550000), out.Breakdown.TotalMinorUnits)

	svc.AllowTaxOverride = true
	out, err = svc.Create(context.Background(), in, "")
	require.NoError(t, err)
	require.Equal(t, int64(580000), out.Breakdown.TotalMinorUnits)
}

func TestCreateProcessorFailure(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("stripe down")}
	_, err := newService(proc, 0.10).Create(context.Background(), checkout.Input{ProductID: "plan-basico", Email: "ana@example.com"}, "")
	require.Equal(t, "PAYMENT_PROVIDER_ERROR", appCode(t, err))
}
