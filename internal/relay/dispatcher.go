package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/payrelay/internal/crm"
	"github.com/noah-isme/payrelay/internal/events"
	"github.com/noah-isme/payrelay/internal/marketing"
	"github.com/noah-isme/payrelay/internal/obs"
)

// CRM is the subset of the CRM client used for delivery.
type CRM interface {
	UpsertContact(ctx context.Context, contact crm.Contact) (string, error)
	UpsertInvoice(ctx context.Context, invoice crm.Invoice) error
}

// Tracker pushes marketing-automation events.
type Tracker interface {
	TrackEvent(ctx context.Context, sub marketing.Subscriber) error
}

// RetryScheduler arranges for one more delivery attempt after delay.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, ev events.Event, delay time.Duration) error
}

// RetryFunc runs the retry attempt for an event.
type RetryFunc func(ctx context.Context, ev events.Event) error

var errPermanent = errors.New("relay: permanent failure")

// Dispatcher relays payment events to the CRM and the marketing platform. It
// implements events.Notifier: Notify returns immediately and delivery runs in
// the background. A failed first attempt gets exactly one delayed retry.
type Dispatcher struct {
	CRM        CRM
	Marketing  Tracker
	Scheduler  RetryScheduler
	RetryDelay time.Duration
	Timeout    time.Duration
	Logger     zerolog.Logger

	wg sync.WaitGroup
}

// Notify implements events.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, ev events.Event) error {
	if d == nil {
		return nil
	}
	if !strings.HasPrefix(ev.Topic, "payment.") {
		return nil
	}
	// the inbound request is answered before delivery finishes
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.firstAttempt(detached, ev)
	}()
	return nil
}

// Retry performs the final delivery attempt. Failures are logged and counted
// and the error is returned so the caller can report it; nothing retries again.
func (d *Dispatcher) Retry(ctx context.Context, ev events.Event) error {
	err := d.attempt(ctx, ev, 2)
	if err != nil {
		d.Logger.Error().Err(err).
			Str("event_id", ev.ID).
			Str("topic", ev.Topic).
			Str("intent_id", ev.AggregateID).
			Msg("relay_retry_failed")
	}
	return err
}

// Wait blocks until in-flight first attempts finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) firstAttempt(ctx context.Context, ev events.Event) {
	err := d.attempt(ctx, ev, 1)
	if err == nil {
		return
	}
	logger := d.Logger.With().Str("event_id", ev.ID).Str("topic", ev.Topic).Str("intent_id", ev.AggregateID).Logger()
	if errors.Is(err, errPermanent) {
		logger.Error().Err(err).Msg("relay_delivery_dropped")
		return
	}
	if d.Scheduler == nil {
		logger.Error().Err(err).Msg("relay_delivery_failed_no_retry")
		return
	}
	delay := d.RetryDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	if schedErr := d.Scheduler.ScheduleRetry(ctx, ev, delay); schedErr != nil {
		logger.Error().Err(schedErr).AnErr("delivery_error", err).Msg("relay_retry_schedule_failed")
		return
	}
	logger.Warn().Err(err).Dur("retry_in", delay).Msg("relay_delivery_failed")
}

func (d *Dispatcher) attempt(ctx context.Context, ev events.Event, attempt int) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("relay.Dispatcher").Start(ctx, "Dispatcher.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("relay.event_id", ev.ID),
		attribute.String("relay.topic", ev.Topic),
		attribute.Int("relay.attempt", attempt),
	)

	start := time.Now()
	result, err := d.deliver(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
	}
	obs.ObserveRelayDelivery(ev.Topic, strconv.Itoa(attempt), result, obs.DurationMillis(time.Since(start)))
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, ev events.Event) (string, error) {
	p, err := events.DecodePayment(ev)
	if err != nil {
		return "dropped", fmt.Errorf("%w: %v", errPermanent, err)
	}
	if strings.TrimSpace(p.Email) == "" {
		d.Logger.Info().Str("event_id", ev.ID).Str("intent_id", p.IntentID).Msg("relay_skipped_no_email")
		return "skipped", nil
	}
	if d.CRM != nil {
		contactID, err := d.CRM.UpsertContact(ctx, crm.Contact{
			Email:  p.Email,
			Name:   p.Name,
			Phone:  p.Phone,
			Tags:   p.Tags,
			Source: "payrelay",
		})
		if err != nil {
			return "failed", fmt.Errorf("crm contact: %w", err)
		}
		if err := d.CRM.UpsertInvoice(ctx, invoiceFor(ev, p, contactID)); err != nil {
			return "failed", fmt.Errorf("crm invoice: %w", err)
		}
	}
	if d.Marketing != nil {
		if err := d.Marketing.TrackEvent(ctx, subscriberFor(ev, p)); err != nil {
			return "failed", fmt.Errorf("marketing: %w", err)
		}
	}
	return "delivered", nil
}

func invoiceFor(ev events.Event, p events.PaymentPayload, contactID string) crm.Invoice {
	total := p.TotalAmount
	if total == "" {
		total = decimal.New(p.AmountMinor, -2).StringFixed(2)
	}
	return crm.Invoice{
		ExternalID:      p.IntentID,
		ContactID:       contactID,
		Status:          invoiceStatus(p.Status),
		Currency:        p.Currency,
		ProductID:       p.ProductID,
		BaseAmount:      p.BaseAmount,
		TaxAmount:       p.TaxAmount,
		TotalAmount:     total,
		TaxRate:         p.TaxRate,
		TotalMinorUnits: p.AmountMinor,
		EventID:         ev.ID,
		OccurredAt:      ev.OccurredAt,
	}
}

func invoiceStatus(status string) string {
	switch status {
	case "succeeded":
		return "paid"
	case "canceled":
		return "void"
	default:
		return status
	}
}

func subscriberFor(ev events.Event, p events.PaymentPayload) marketing.Subscriber {
	tags := []string{"payment-" + p.Status}
	if p.ProductID != "" {
		tags = append(tags, p.ProductID)
	}
	tags = append(tags, p.Tags...)
	fields := map[string]string{
		"intent_id":    p.IntentID,
		"currency":     p.Currency,
		"amount_minor": strconv.FormatInt(p.AmountMinor, 10),
	}
	if p.TotalAmount != "" {
		fields["total_amount"] = p.TotalAmount
	}
	if p.ProductID != "" {
		fields["product_id"] = p.ProductID
	}
	return marketing.Subscriber{
		Email:  p.Email,
		Name:   p.Name,
		Phone:  p.Phone,
		Tags:   dedupe(tags),
		Event:  ev.Topic,
		Fields: fields,
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
