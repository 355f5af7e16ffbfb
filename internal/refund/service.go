package refund

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payrelay/internal/common"
	"github.com/noah-isme/payrelay/internal/lock"
	"github.com/noah-isme/payrelay/internal/money"
	"github.com/noah-isme/payrelay/internal/obs"
	"github.com/noah-isme/payrelay/internal/payment"
)

// Refunder issues refunds with the processor.
type Refunder interface {
	Refund(ctx context.Context, req payment.RefundRequest) (payment.RefundResult, error)
}

// Locker serialises work per key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Input is the refund request body. TotalAmount is the decimal total that was
// charged, as returned in the checkout breakdown.
type Input struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required,startswith=pi_,max=255"`
	TotalAmount     string `json:"totalAmount" validate:"required"`
	Reason          string `json:"reason,omitempty" validate:"omitempty,oneof=duplicate fraudulent requested_by_customer"`
}

// Output describes the created refund.
type Output struct {
	RefundID        string `json:"refundId"`
	PaymentIntentID string `json:"paymentIntentId"`
	Status          string `json:"status"`
	Currency        string `json:"currency,omitempty"`
	AmountMinor     int64  `json:"amountMinor"`
}

// Service refunds payment intents.
type Service struct {
	Processor Refunder
	// Locks is optional; without it concurrent refunds are not serialised.
	Locks   Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Create validates in and refunds floor(totalAmount × 100) minor units.
func (s *Service) Create(ctx context.Context, in Input, idempotencyKey string) (Output, error) {
	if s == nil || s.Processor == nil {
		return Output{}, errors.New("refund service not configured")
	}
	in.PaymentIntentID = strings.TrimSpace(in.PaymentIntentID)
	if appErr := common.Validate(in); appErr != nil {
		return Output{}, appErr
	}
	total, err := money.Parse(in.TotalAmount)
	if err == nil && money.MinorUnits(total) <= 0 {
		err = money.ErrInvalidAmount
	}
	if err != nil {
		obs.CountRefund("rejected")
		return Output{}, common.NewAppError("INVALID_AMOUNT", "totalAmount must be a positive amount of at least one minor unit", http.StatusUnprocessableEntity, err)
	}

	var out Output
	run := func(ctx context.Context) error {
		res, err := s.Processor.Refund(ctx, payment.RefundRequest{
			IntentID:       in.PaymentIntentID,
			TotalAmount:    total,
			Reason:         in.Reason,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			return err
		}
		out = Output{
			RefundID:        res.ID,
			PaymentIntentID: res.IntentID,
			Status:          res.Status,
			Currency:        res.Currency,
			AmountMinor:     res.AmountMinor,
		}
		return nil
	}

	logger := obs.RequestFields(s.Logger, ctx).With().Str("intent_id", in.PaymentIntentID).Logger()
	if s.Locks != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 15 * time.Second
		}
		err = s.Locks.WithLock(ctx, "refund:"+in.PaymentIntentID, ttl, run)
	} else {
		err = run(ctx)
	}
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrNotAcquired):
		obs.CountRefund("conflict")
		return Output{}, common.NewAppError("REFUND_IN_PROGRESS", "another refund for this payment is in progress", http.StatusConflict, err)
	default:
		obs.CountRefund("error")
		logger.Error().Err(err).Msg("refund_failed")
		return Output{}, common.NewAppError("PAYMENT_PROVIDER_ERROR", "unable to create refund", http.StatusBadGateway, err)
	}
	obs.CountRefund("created")
	logger.Info().Str("refund_id", out.RefundID).Int64("amount_minor", out.AmountMinor).Msg("refund_created")
	return out, nil
}
