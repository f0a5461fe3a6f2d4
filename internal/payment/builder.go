package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/obs"
	"github.com/noah-isme/emspub-checkout/internal/settings"
)

// RequestConfig is the deployment state read once at the start of a request.
type RequestConfig struct {
	Sandbox bool
}

// PaymentReader loads queued payments.
type PaymentReader interface {
	GetQueuedPayment(ctx context.Context, id int64) (billing.QueuedPayment, error)
}

// SettingsLoader loads a tenant's payment settings.
type SettingsLoader interface {
	Load(ctx context.Context, tenantID string) (settings.PaymentSettings, error)
}

// SessionRedirect is the single redirect decision of a successful Begin.
type SessionRedirect struct {
	URL               string `json:"redirectUrl"`
	ProviderReference string `json:"providerReference,omitempty"`
	Strategy          string `json:"strategy"`
}

// SessionBuilder turns a queued payment into a provider session.
type SessionBuilder struct {
	Payments    PaymentReader
	Settings    SettingsLoader
	Gateways    GatewayFactory
	Strategies  []Strategy
	Links       Links
	MethodTypes []string
	Logger      zerolog.Logger
	// Diagnostics receives raw provider payloads of failed attempts.
	Diagnostics zerolog.Logger
}

var currencyPattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// Begin opens a session for queued payment qpID and returns where to send the
// browser. It never waits for the payment itself. Exactly one of the redirect
// and the error is meaningful.
func (b *SessionBuilder) Begin(ctx context.Context, rc RequestConfig, tenantID string, qpID int64) (SessionRedirect, error) {
	ctx, span := otel.Tracer("payment.SessionBuilder").Start(ctx, "SessionBuilder.Begin")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.Int64("queued_payment.id", qpID))

	redirect, err := b.begin(ctx, rc, tenantID, qpID)
	if err != nil {
		span.SetAttributes(attribute.String("payment.session.result", Label(err)))
		if Classify(err).Kind == ViewError {
			span.SetStatus(codes.Error, Label(err))
		}
		return SessionRedirect{}, err
	}
	span.SetAttributes(attribute.String("payment.session.strategy", redirect.Strategy))
	return redirect, nil
}

func (b *SessionBuilder) begin(ctx context.Context, rc RequestConfig, tenantID string, qpID int64) (SessionRedirect, error) {
	if rc.Sandbox {
		return SessionRedirect{}, ErrSandbox
	}
	if tenantID == "" {
		return SessionRedirect{}, ErrNotConfigured
	}
	cfg, err := b.Settings.Load(ctx, tenantID)
	if err != nil {
		return SessionRedirect{}, fmt.Errorf("load settings: %w", err)
	}
	if !cfg.Configured() {
		return SessionRedirect{}, ErrNotConfigured
	}

	qp, err := b.Payments.GetQueuedPayment(ctx, qpID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return SessionRedirect{}, fmt.Errorf("%w: %d", ErrUnknownPayment, qpID)
		}
		return SessionRedirect{}, fmt.Errorf("load queued payment: %w", err)
	}
	if qp.TenantID != tenantID {
		return SessionRedirect{}, fmt.Errorf("%w: %d belongs to another tenant", ErrUnknownPayment, qpID)
	}
	if qp.Paid() {
		return SessionRedirect{}, ErrAlreadyPaid
	}
	if err := validateAmount(qp); err != nil {
		return SessionRedirect{}, err
	}

	gw, err := b.Gateways.ForTenant(cfg)
	if err != nil {
		return SessionRedirect{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	strategies := b.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	in := SessionInput{
		TenantID:    tenantID,
		Payment:     qp,
		Settings:    cfg,
		Links:       b.Links,
		MethodTypes: b.MethodTypes,
	}
	if cfg.TestMode {
		b.Logger.Debug().Str("tenant_id", tenantID).Int64("queued_payment_id", qp.ID).Msg("opening session in test mode")
	}

	var last Attempt
	rejected := false
	for _, s := range strategies {
		start := time.Now()
		attempt := s.Attempt(ctx, gw, in)
		obs.Inc(obs.PaymentSessionTotal, s.Name(), attempt.Outcome.String())
		evt := b.Logger.Info()
		if attempt.Outcome == Failed {
			evt = b.Logger.Warn().Str("failure", string(attempt.Failure))
		}
		evt.Str("tenant_id", tenantID).
			Int64("queued_payment_id", qp.ID).
			Str("strategy", s.Name()).
			Str("outcome", attempt.Outcome.String()).
			Dur("elapsed", time.Since(start)).
			Msg("session strategy attempted")

		if attempt.Outcome == Redirect {
			return SessionRedirect{URL: attempt.RedirectURL, ProviderReference: attempt.ProviderReference, Strategy: s.Name()}, nil
		}
		if attempt.Outcome == Failed {
			b.diagnose(s.Name(), qp.ID, attempt)
			last = attempt
			if attempt.Failure == FailureRejected {
				rejected = true
			}
		}
	}

	// An outage on the final strategy stays retryable even when an earlier
	// strategy was rejected: the fallback never got an answer.
	switch {
	case last.Failure == FailureGatewayUnavailable:
		return SessionRedirect{}, fmt.Errorf("%w: %w", ErrSessionCreationFailed, ErrGatewayUnavailable)
	case rejected:
		return SessionRedirect{}, fmt.Errorf("%w: %w", ErrSessionCreationFailed, ErrRejected)
	default:
		return SessionRedirect{}, ErrSessionCreationFailed
	}
}

func (b *SessionBuilder) diagnose(strategy string, qpID int64, a Attempt) {
	evt := b.Diagnostics.Error().Str("strategy", strategy).Int64("queued_payment_id", qpID).Str("failure", string(a.Failure))
	if a.Err != nil {
		evt = evt.Err(a.Err)
	}
	if len(a.Raw) > 0 {
		evt = evt.RawJSON("payload", a.Raw)
	}
	evt.Msg("session strategy failed")
}

func validateAmount(qp billing.QueuedPayment) error {
	if !qp.Amount.IsPositive() {
		return fmt.Errorf("%w: %s is not positive", ErrInvalidAmount, qp.Amount.String())
	}
	if !qp.Amount.Equal(qp.Amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimals", ErrInvalidAmount, qp.Amount.String())
	}
	if !currencyPattern.MatchString(qp.CurrencyCode) {
		return fmt.Errorf("%w: currency %q", ErrRejected, qp.CurrencyCode)
	}
	return nil
}
