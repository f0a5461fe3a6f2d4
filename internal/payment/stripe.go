package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/noah-isme/emspub-checkout/internal/obs"
	"github.com/noah-isme/emspub-checkout/internal/settings"
)

// StripeConfig configures Stripe gateways.
type StripeConfig struct {
	// BaseURL overrides https://api.stripe.com, e.g. for stripe-mock.
	BaseURL           string
	HTTPClient        *http.Client
	MaxNetworkRetries int64
	Logger            zerolog.Logger
}

// StripeFactory builds a Stripe gateway per tenant secret.
type StripeFactory struct {
	cfg StripeConfig
}

// NewStripeFactory returns a GatewayFactory for Stripe.
func NewStripeFactory(cfg StripeConfig) *StripeFactory {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxNetworkRetries < 0 {
		cfg.MaxNetworkRetries = 0
	}
	return &StripeFactory{cfg: cfg}
}

// ForTenant implements GatewayFactory.
func (f *StripeFactory) ForTenant(s settings.PaymentSettings) (Gateway, error) {
	secret := strings.TrimSpace(s.SecretKey)
	if secret == "" {
		return nil, errors.New("stripe: secret key not set")
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        f.cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(f.cfg.MaxNetworkRetries),
		LeveledLogger:     stripeLogger{l: f.cfg.Logger},
	}
	if base := strings.TrimRight(strings.TrimSpace(f.cfg.BaseURL), "/"); base != "" {
		backendCfg.URL = stripe.String(base)
	}
	api := client.New(secret, &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
	})
	return &Stripe{api: api}, nil
}

// Stripe implements Gateway on the Stripe API.
type Stripe struct {
	api *client.API
}

// CreateCheckoutSession implements Gateway.
func (g *Stripe) CreateCheckoutSession(ctx context.Context, req SessionRequest) (res SessionResult, err error) {
	start := time.Now()
	defer func() {
		if obs.GatewayRequestDuration != nil {
			obs.GatewayRequestDuration.WithLabelValues(string(req.Mode), res.Outcome.String()).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()
	switch req.Mode {
	case ModeDirectIntent:
		return g.createIntent(ctx, req)
	case ModeHostedPage:
		return g.createHosted(ctx, req)
	default:
		return SessionResult{Outcome: Failed, Failure: FailureInvalidRequest, Message: fmt.Sprintf("unsupported mode %q", req.Mode)}, nil
	}
}

func (g *Stripe) createIntent(ctx context.Context, req SessionRequest) (SessionResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(MinorUnits(req.Amount)),
		Currency:           stripe.String(normaliseCurrency(req.Currency)),
		Description:        stripe.String(req.Descriptor),
		Confirm:            stripe.Bool(true),
		ReturnURL:          stripe.String(req.ReturnURL),
		PaymentMethodTypes: stripe.StringSlice(req.PaymentMethodTypes),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return mapCreateError(err)
	}
	res := SessionResult{ProviderReference: pi.ID, Outcome: NoAction}
	if pi.LastResponse != nil {
		res.Raw = pi.LastResponse.RawJSON
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil && pi.NextAction.RedirectToURL.URL != "" {
		res.Outcome = Redirect
		res.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return res, nil
}

func (g *Stripe) createHosted(ctx context.Context, req SessionRequest) (SessionResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(strconv.FormatInt(req.QueuedPaymentID, 10)),
		PaymentMethodTypes: stripe.StringSlice(req.PaymentMethodTypes),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(normaliseCurrency(req.Currency)),
				UnitAmount: stripe.Int64(MinorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Descriptor),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Description: stripe.String(req.Descriptor),
			Metadata:    req.Metadata,
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return mapCreateError(err)
	}
	res := SessionResult{ProviderReference: sess.ID, Outcome: NoAction}
	if sess.LastResponse != nil {
		res.Raw = sess.LastResponse.RawJSON
	}
	if sess.URL != "" {
		res.Outcome = Redirect
		res.RedirectURL = sess.URL
	}
	return res, nil
}

// FetchSessionStatus implements Gateway. References starting with "pi_" are
// payment intents; anything else is read as a checkout session.
func (g *Stripe) FetchSessionStatus(ctx context.Context, reference string) (SessionStatus, error) {
	reference = strings.TrimSpace(reference)
	if strings.HasPrefix(reference, "pi_") {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := g.api.PaymentIntents.Get(reference, params)
		if err != nil {
			return mapFetchError(reference, err)
		}
		st := SessionStatus{
			Reference:       pi.ID,
			Status:          intentStatus(pi.Status),
			ClientReference: pi.Metadata["queued_payment_id"],
			AmountMinor:     pi.Amount,
			Currency:        string(pi.Currency),
		}
		if pi.LastResponse != nil {
			st.Raw = pi.LastResponse.RawJSON
		}
		return st, nil
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.api.CheckoutSessions.Get(reference, params)
	if err != nil {
		return mapFetchError(reference, err)
	}
	st := SessionStatus{
		Reference:       sess.ID,
		Status:          hostedStatus(sess),
		ClientReference: sess.ClientReferenceID,
		AmountMinor:     sess.AmountTotal,
		Currency:        string(sess.Currency),
	}
	if sess.LastResponse != nil {
		st.Raw = sess.LastResponse.RawJSON
	}
	return st, nil
}

func hostedStatus(sess *stripe.CheckoutSession) ProviderStatus {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return StatusPaid
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return StatusCancelled
	case sess.Status == stripe.CheckoutSessionStatusOpen:
		return StatusCreated
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid:
		return StatusUnpaid
	default:
		return StatusUnknown
	}
}

func intentStatus(status stripe.PaymentIntentStatus) ProviderStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusPaid
	case stripe.PaymentIntentStatusCanceled:
		return StatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusUnpaid
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return StatusCreated
	default:
		return StatusUnknown
	}
}

// mapCreateError turns business rejections into results and everything that
// means "cannot talk to Stripe" into ErrGatewayUnavailable.
func mapCreateError(err error) (SessionResult, error) {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return SessionResult{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	raw, _ := json.Marshal(se)
	if unavailable(se) {
		return SessionResult{Raw: raw}, fmt.Errorf("%w: stripe %d %s", ErrGatewayUnavailable, se.HTTPStatusCode, se.Type)
	}
	res := SessionResult{Outcome: Failed, Failure: FailureInvalidRequest, Message: se.Msg, Raw: raw}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		res.Failure = FailureRejected
	case se.Param == "currency" || strings.HasSuffix(se.Param, "[currency]"):
		res.Failure = FailureRejected
	case se.Code == stripe.ErrorCodeAmountTooSmall || se.Code == stripe.ErrorCodeAmountTooLarge:
		res.Failure = FailureRejected
	}
	return res, nil
}

// mapFetchError reports an unknown reference as StatusUnknown so a forged id
// classifies as not completed rather than as an outage.
func mapFetchError(reference string, err error) (SessionStatus, error) {
	var se *stripe.Error
	if errors.As(err, &se) && !unavailable(se) {
		raw, _ := json.Marshal(se)
		return SessionStatus{Reference: reference, Status: StatusUnknown, Raw: raw}, nil
	}
	return SessionStatus{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
}

func unavailable(se *stripe.Error) bool {
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized, se.HTTPStatusCode == http.StatusForbidden:
		return true
	case se.HTTPStatusCode == http.StatusTooManyRequests:
		return true
	case se.HTTPStatusCode >= http.StatusInternalServerError:
		return true
	case se.Type == stripe.ErrorTypeAPI:
		return true
	default:
		return false
	}
}

// VerifyEvent implements EventVerifier for Stripe-Signature headers.
func (f *StripeFactory) VerifyEvent(payload []byte, signature, secret string) (WebhookEvent, error) {
	if strings.TrimSpace(secret) == "" {
		return WebhookEvent{}, ErrNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := WebhookEvent{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data != nil && len(evt.Data.Raw) > 0 {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(evt.Data.Raw, &obj); err == nil {
			out.Reference = obj.ID
		}
	}
	return out, nil
}

type stripeLogger struct {
	l zerolog.Logger
}

func (s stripeLogger) Debugf(format string, v ...interface{}) { s.l.Debug().Msgf(format, v...) }
func (s stripeLogger) Infof(format string, v ...interface{})  { s.l.Debug().Msgf(format, v...) }
func (s stripeLogger) Warnf(format string, v ...interface{})  { s.l.Warn().Msgf(format, v...) }
func (s stripeLogger) Errorf(format string, v ...interface{}) { s.l.Error().Msgf(format, v...) }
