package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/obs"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

// Fulfiller owns the pending -> paid transition of queued payments. It must
// perform that transition at most once and report later calls with
// billing.ErrAlreadyFulfilled.
type Fulfiller interface {
	FulfillQueuedPayment(ctx context.Context, qp billing.QueuedPayment, method string) error
}

// Locker serialises work on a key across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Coordinator applies a verified paid status to a queued payment. It is safe
// to call repeatedly for the same payment.
type Coordinator struct {
	Billing Fulfiller
	Method  string
	// Lock, when set, keeps concurrent returns for one payment from racing
	// into the billing store. Correctness does not depend on it.
	Lock    Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Fulfill marks qp paid when status says so. A status that is not paid, or
// that belongs to a different payment or amount, never fulfills.
func (c *Coordinator) Fulfill(ctx context.Context, qp billing.QueuedPayment, status VerifiedStatus) error {
	ctx, span := otel.Tracer("payment.Coordinator").Start(ctx, "Coordinator.Fulfill")
	defer span.End()
	span.SetAttributes(attribute.Int64("queued_payment.id", qp.ID), attribute.String("payment.reference", status.Reference()))

	if err := matches(qp, status); err != nil {
		obs.Inc(obs.PaymentFulfillmentTotal, "refused")
		return err
	}

	ran := false
	fulfill := func(ctx context.Context) error {
		ran = true
		return c.Billing.FulfillQueuedPayment(ctx, qp, c.Method)
	}
	var err error
	if c.Lock != nil {
		ttl := c.LockTTL
		if ttl <= 0 {
			ttl = 15 * time.Second
		}
		key := tenant.Key(qp.TenantID, "fulfill", strconv.FormatInt(qp.ID, 10))
		err = c.Lock.WithLock(ctx, key, ttl, fulfill)
		if err != nil && !ran && ctx.Err() == nil {
			c.Logger.Warn().Err(err).Int64("queued_payment_id", qp.ID).Msg("fulfill lock unavailable; relying on billing guard")
			err = fulfill(ctx)
		}
	} else {
		err = fulfill(ctx)
	}

	switch {
	case err == nil:
		obs.Inc(obs.PaymentFulfillmentTotal, "fulfilled")
		c.Logger.Info().
			Str("tenant_id", qp.TenantID).
			Int64("queued_payment_id", qp.ID).
			Str("reference", status.Reference()).
			Msg("queued payment fulfilled")
		return nil
	case errors.Is(err, billing.ErrAlreadyFulfilled):
		obs.Inc(obs.PaymentFulfillmentTotal, "already_fulfilled")
		c.Logger.Info().
			Str("tenant_id", qp.TenantID).
			Int64("queued_payment_id", qp.ID).
			Str("reference", status.Reference()).
			Msg("queued payment already fulfilled")
		return nil
	default:
		obs.Inc(obs.PaymentFulfillmentTotal, "error")
		span.RecordError(err)
		return fmt.Errorf("fulfill queued payment %d: %w", qp.ID, err)
	}
}

func matches(qp billing.QueuedPayment, status VerifiedStatus) error {
	if !status.Paid() {
		return fmt.Errorf("%w: provider status %s", ErrPaymentNotCompleted, status.Status())
	}
	if status.ClientReference() != strconv.FormatInt(qp.ID, 10) {
		return fmt.Errorf("%w: session %s is for payment %q", ErrPaymentNotCompleted, status.Reference(), status.ClientReference())
	}
	st := status.status
	if st.AmountMinor > 0 && st.AmountMinor != MinorUnits(qp.Amount) {
		return fmt.Errorf("%w: amount mismatch on session %s", ErrPaymentNotCompleted, status.Reference())
	}
	if st.Currency != "" && !strings.EqualFold(st.Currency, qp.CurrencyCode) {
		return fmt.Errorf("%w: currency mismatch on session %s", ErrPaymentNotCompleted, status.Reference())
	}
	return nil
}
