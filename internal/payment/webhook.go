package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/obs"
	"github.com/noah-isme/emspub-checkout/internal/settings"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

// ErrInvalidSignature is returned for notifications that fail verification.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// Event types that can complete a payment.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventIntentSucceeded        = "payment_intent.succeeded"
)

// WebhookEvent is a verified provider notification. Reference is the id of
// the session or intent the event is about.
type WebhookEvent struct {
	ID        string
	Type      string
	Reference string
}

// EventVerifier checks a notification signature against the tenant secret.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature, secret string) (WebhookEvent, error)
}

// ReplayStore remembers processed event ids.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// WebhookResult describes what a notification led to.
type WebhookResult string

const (
	WebhookSandbox      WebhookResult = "sandbox"
	WebhookIgnored      WebhookResult = "ignored"
	WebhookDuplicate    WebhookResult = "duplicate"
	WebhookNotCompleted WebhookResult = "not_completed"
	WebhookFulfilled    WebhookResult = "fulfilled"
)

// WebhookProcessor fulfills payments from asynchronous provider
// notifications. The event body is only a hint: the session status is
// re-read from the provider before anything is fulfilled.
type WebhookProcessor struct {
	Payments    PaymentReader
	Settings    SettingsLoader
	Gateways    GatewayFactory
	Verifier    EventVerifier
	Coordinator *Coordinator
	Replay      ReplayStore
	ReplayTTL   time.Duration
	Logger      zerolog.Logger
	Diagnostics zerolog.Logger
}

// Process verifies and applies one notification for tenantID.
func (p *WebhookProcessor) Process(ctx context.Context, rc RequestConfig, tenantID string, payload []byte, signature string) (WebhookResult, error) {
	ctx, span := otel.Tracer("payment.WebhookProcessor").Start(ctx, "WebhookProcessor.Process")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID))

	res, err := p.process(ctx, rc, tenantID, payload, signature)
	label := string(res)
	if err != nil {
		label = Label(err)
		if errors.Is(err, ErrInvalidSignature) {
			label = "invalid_signature"
		}
		span.RecordError(err)
	}
	obs.Inc(obs.PaymentWebhookTotal, label)
	span.SetAttributes(attribute.String("payment.webhook.result", label))
	return res, err
}

func (p *WebhookProcessor) process(ctx context.Context, rc RequestConfig, tenantID string, payload []byte, signature string) (WebhookResult, error) {
	if rc.Sandbox {
		return WebhookSandbox, nil
	}
	if tenantID == "" {
		return "", ErrNotConfigured
	}
	cfg, err := p.Settings.Load(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if !cfg.Configured() || cfg.WebhookSecret == "" {
		return "", ErrNotConfigured
	}
	evt, err := p.Verifier.VerifyEvent(payload, signature, cfg.WebhookSecret)
	if err != nil {
		return "", err
	}
	switch evt.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventIntentSucceeded:
	default:
		p.Logger.Debug().Str("tenant_id", tenantID).Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("webhook event ignored")
		return WebhookIgnored, nil
	}
	if evt.Reference == "" {
		return "", fmt.Errorf("%w: event %s has no object id", ErrMissingCorrelation, evt.ID)
	}

	replayKey := ""
	if p.Replay != nil && evt.ID != "" {
		ttl := p.ReplayTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		replayKey = tenant.Key(tenantID, "whevt", evt.ID)
		fresh, err := p.Replay.SetNX(ctx, replayKey, "1", ttl).Result()
		if err != nil {
			return "", fmt.Errorf("webhook replay guard: %w", err)
		}
		if !fresh {
			return WebhookDuplicate, nil
		}
	}

	res, err := p.apply(ctx, tenantID, cfg, evt)
	if err != nil && replayKey != "" {
		// let the provider's retry run again
		_ = p.Replay.Del(context.WithoutCancel(ctx), replayKey).Err()
	}
	return res, err
}

func (p *WebhookProcessor) apply(ctx context.Context, tenantID string, cfg settings.PaymentSettings, evt WebhookEvent) (WebhookResult, error) {
	gw, err := p.Gateways.ForTenant(cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	status, raw, err := fetchVerified(ctx, gw, evt.Reference)
	if err != nil {
		p.Diagnostics.Error().Err(err).Str("event_id", evt.ID).Str("reference", evt.Reference).Msg("fetch session status failed")
		return "", err
	}
	if !status.Paid() {
		entry := p.Diagnostics.Info().Str("event_id", evt.ID).Str("reference", status.Reference()).Str("status", string(status.Status()))
		if len(raw) > 0 {
			entry = entry.RawJSON("payload", raw)
		}
		entry.Msg("webhook session not paid")
		return WebhookNotCompleted, nil
	}

	qpID, err := strconv.ParseInt(status.ClientReference(), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: client reference %q", ErrUnknownPayment, status.ClientReference())
	}
	qp, err := p.Payments.GetQueuedPayment(ctx, qpID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return "", fmt.Errorf("%w: %d", ErrUnknownPayment, qpID)
		}
		return "", fmt.Errorf("load queued payment: %w", err)
	}
	if qp.TenantID != tenantID {
		return "", fmt.Errorf("%w: %d belongs to another tenant", ErrUnknownPayment, qpID)
	}
	if err := p.Coordinator.Fulfill(ctx, qp, status); err != nil {
		return "", err
	}
	return WebhookFulfilled, nil
}
