package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/noah-isme/payrelay/internal/money"
	"github.com/noah-isme/payrelay/internal/payment"
)

const testSecret = "whsec_test"

type fakeIntents struct {
	last *stripe.PaymentIntentParams
	err  error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.last = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
	}, nil
}

type fakeRefunds struct {
	last *stripe.RefundParams
}

func (f *fakeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.last = params
	return &stripe.Refund{ID: "re_1", Amount: *params.Amount, Status: stripe.RefundStatusSucceeded, Currency: "mxn"}, nil
}

func newProcessor(t *testing.T) (*payment.Stripe, *fakeIntents, *fakeRefunds) {
	t.Helper()
	intents := &fakeIntents{}
	refunds := &fakeRefunds{}
	p, err := payment.NewStripe(payment.StripeConfig{
		WebhookSecret: testSecret,
		AccountID:     "acct_1",
		Clients:       &payment.StripeClients{Intents: intents, Refunds: refunds},
	})
	require.NoError(t, err)
	return p, intents, refunds
}

func sign(payload string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	unix := strconv.FormatInt(ts.Unix(), 10)
	mac.Write([]byte(unix + "." + payload))
	return "t=" + unix + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestCreateIntentChargesTotalMinorUnits(t *testing.T) {
	p, intents, _ := newProcessor(t)
	b := money.FromTotal(decimal.RequireFromString("5500.50"), 0.10)

	intent, err := p.CreateIntent(context.Background(), payment.IntentRequest{
		Breakdown:      b,
		Currency:       "MXN",
		ProductID:      "plan-profesional",
		Email:          "ana@example.com",
		Name:           "Ana",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	require.Equal(t, "pi_123", intent.ID)
	require.Equal(t, "pi_123_secret", intent.ClientSecret)
	require.Equal(t, int64(550050), intent.AmountMinor)

	params := intents.last
	require.Equal(t, int64(550050), *params.Amount)
	require.Equal(t, "mxn", *params.Currency)
	require.Equal(t, "idem-1", *params.IdempotencyKey)
	require.Equal(t, "acct_1", *params.StripeAccount)
	require.Equal(t, "ana@example.com", *params.ReceiptEmail)
	require.Equal(t, "5000.45", params.Metadata[payment.MetaBaseAmount])
	require.Equal(t, "500.05", params.Metadata[payment.MetaTaxAmount])
	require.Equal(t, "5500.50", params.Metadata[payment.MetaTotalAmount])
	require.Equal(t, "500045", params.Metadata[payment.MetaBaseMinorUnits])
	require.Equal(t, "total", params.Metadata[payment.MetaPolicy])
	require.Equal(t, "plan-profesional", params.Metadata[payment.MetaProductID])
}

func TestCreateIntentRejectsZeroAmount(t *testing.T) {
	p, intents, _ := newProcessor(t)
	_, err := p.CreateIntent(context.Background(), payment.IntentRequest{Currency: "mxn"})
	require.ErrorIs(t, err, money.ErrInvalidAmount)
	require.Nil(t, intents.last)
}

func TestCreateIntentWrapsProcessorError(t *testing.T) {
	p, intents, _ := newProcessor(t)
	intents.err = errors.New("card_declined")
	_, err := p.CreateIntent(context.Background(), payment.IntentRequest{
		Breakdown: money.FromBase(decimal.RequireFromString("10"), 0),
		Currency:  "mxn",
	})
	require.ErrorContains(t, err, "card_declined")
}

func TestRefundFloorsMinorUnits(t *testing.T) {
	p, _, refunds := newProcessor(t)
	res, err := p.Refund(context.Background(), payment.RefundRequest{
		IntentID:    "pi_123",
		TotalAmount: decimal.RequireFromString("3500.999"),
		Reason:      "customer",
	})
	require.NoError(t, err)
	require.Equal(t, int64(350099), res.AmountMinor)
	require.Equal(t, "pi_123", *refunds.last.PaymentIntent)
	require.Equal(t, string(stripe.RefundReasonRequestedByCustomer), *refunds.last.Reason)

	_, err = p.Refund(context.Background(), payment.RefundRequest{IntentID: "pi_1", TotalAmount: decimal.RequireFromString("0.004")})
	require.ErrorIs(t, err, money.ErrInvalidAmount)
	_, err = p.Refund(context.Background(), payment.RefundRequest{IntentID: "pi_1", TotalAmount: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, money.ErrInvalidAmount)
}

func TestParseWebhookSucceeded(t *testing.T) {
	p, _, _ := newProcessor(t)
	payload := `{
		"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":"2020-08-27",
		"data":{"object":{"id":"pi_123","object":"payment_intent","amount":550000,"currency":"mxn",
			"receipt_email":"ana@example.com",
			"metadata":{"total_amount":"5500.00","product_id":"plan-profesional"}}}
	}`
	ev, err := p.ParseWebhook([]byte(payload), sign(payload, time.Now()))
	require.NoError(t, err)
	require.Equal(t, "evt_1", ev.ID)
	require.Equal(t, payment.StatusSucceeded, ev.Status)
	require.Equal(t, "pi_123", ev.IntentID)
	require.Equal(t, int64(550000), ev.AmountMinor)
	require.Equal(t, "mxn", ev.Currency)
	require.Equal(t, "5500.00", ev.Metadata[payment.MetaTotalAmount])
	require.Equal(t, "ana@example.com", ev.Metadata[payment.MetaEmail])
}

func TestParseWebhookStatusMapping(t *testing.T) {
	p, _, _ := newProcessor(t)
	cases := map[string]string{
		"payment_intent.payment_failed": payment.StatusFailed,
		"payment_intent.canceled":       payment.StatusCanceled,
		"payment_intent.created":        payment.StatusIgnored,
		"customer.created":              payment.StatusIgnored,
	}
	for typ, want := range cases {
		t.Run(typ, func(t *testing.T) {
			payload := fmt.Sprintf(`{"id":"evt_x","object":"event","type":%q,"data":{"object":{"id":"pi_9","object":"payment_intent","amount":100,"currency":"mxn"}}}`, typ)
			ev, err := p.ParseWebhook([]byte(payload), sign(payload, time.Now()))
			require.NoError(t, err)
			require.Equal(t, want, ev.Status)
		})
	}
}

func TestParseWebhookChargeRefunded(t *testing.T) {
	p, _, _ := newProcessor(t)
	payload := `{"id":"evt_r","object":"event","type":"charge.refunded",
		"data":{"object":{"id":"ch_1","object":"charge","amount":99901,"amount_refunded":99901,"currency":"mxn",
			"payment_intent":"pi_55","billing_details":{"email":"b@example.com","name":"Bea"},"metadata":{}}}}`
	ev, err := p.ParseWebhook([]byte(payload), sign(payload, time.Now()))
	require.NoError(t, err)
	require.Equal(t, payment.StatusRefunded, ev.Status)
	require.Equal(t, "pi_55", ev.IntentID)
	require.Equal(t, int64(99901), ev.AmountMinor)
	require.Equal(t, "b@example.com", ev.Metadata[payment.MetaEmail])
	require.Equal(t, "Bea", ev.Metadata[payment.MetaName])
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	p, _, _ := newProcessor(t)
	payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`

	_, err := p.ParseWebhook([]byte(payload), "t=1,v1=deadbeef")
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	_, err = p.ParseWebhook([]byte(payload), sign(payload, time.Now().Add(-time.Hour)))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)

	_, err = p.ParseWebhook([]byte(payload+" "), sign(payload, time.Now()))
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestNewStripeValidatesConfig(t *testing.T) {
	_, err := payment.NewStripe(payment.StripeConfig{APIKey: "sk_test"})
	require.Error(t, err)
	_, err = payment.NewStripe(payment.StripeConfig{WebhookSecret: testSecret})
	require.Error(t, err)
	p, err := payment.NewStripe(payment.StripeConfig{APIKey: "sk_test", WebhookSecret: testSecret, APIBaseURL: "http://localhost:12111"})
	require.NoError(t, err)
	require.NotNil(t, p)
}
