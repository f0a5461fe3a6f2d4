package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/settings"
)

// Strategy names.
const (
	StrategyDirectIntent = "direct_intent"
	StrategyHostedPage   = "hosted_page"
)

// SessionInput is what a strategy needs to build its gateway request.
type SessionInput struct {
	TenantID    string
	Payment     billing.QueuedPayment
	Settings    settings.PaymentSettings
	Links       Links
	MethodTypes []string
}

func (in SessionInput) metadata() map[string]string {
	return map[string]string{
		"queued_payment_id": strconv.FormatInt(in.Payment.ID, 10),
		"tenant_id":         in.TenantID,
		"test_mode":         strconv.FormatBool(in.Settings.TestMode),
	}
}

// Attempt is a strategy's tagged result. Err holds the cause of a Failed
// attempt for operator logs.
type Attempt struct {
	Outcome           Outcome
	RedirectURL       string
	ProviderReference string
	Failure           FailureKind
	Raw               []byte
	Err               error
}

// Strategy is one way of opening a session.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, gw Gateway, in SessionInput) Attempt
}

// DirectIntent confirms a payment intent straight away. It only yields a
// redirect when the provider asks for a 3-D Secure style hand-off.
type DirectIntent struct{}

// Name implements Strategy.
func (DirectIntent) Name() string { return StrategyDirectIntent }

// Attempt implements Strategy.
func (DirectIntent) Attempt(ctx context.Context, gw Gateway, in SessionInput) Attempt {
	return run(ctx, gw, SessionRequest{
		Mode:               ModeDirectIntent,
		QueuedPaymentID:    in.Payment.ID,
		Amount:             in.Payment.Amount,
		Currency:           in.Payment.CurrencyCode,
		Descriptor:         in.Payment.Name(),
		ReturnURL:          in.Links.Return(in.Payment.ID),
		PaymentMethodTypes: in.MethodTypes,
		Metadata:           in.metadata(),
	})
}

// HostedPage opens a provider-hosted checkout page with a single line item.
type HostedPage struct{}

// Name implements Strategy.
func (HostedPage) Name() string { return StrategyHostedPage }

// Attempt implements Strategy.
func (HostedPage) Attempt(ctx context.Context, gw Gateway, in SessionInput) Attempt {
	return run(ctx, gw, SessionRequest{
		Mode:               ModeHostedPage,
		QueuedPaymentID:    in.Payment.ID,
		Amount:             in.Payment.Amount,
		Currency:           in.Payment.CurrencyCode,
		Descriptor:         in.Payment.Name(),
		SuccessURL:         in.Links.Success(in.Payment.ID),
		CancelURL:          in.Links.Cancel(in.Payment.ID),
		PaymentMethodTypes: in.MethodTypes,
		Metadata:           in.metadata(),
	})
}

func run(ctx context.Context, gw Gateway, req SessionRequest) Attempt {
	res, err := gw.CreateCheckoutSession(ctx, req)
	if err != nil {
		kind := FailureGatewayUnavailable
		if !errors.Is(err, ErrGatewayUnavailable) {
			kind = FailureInvalidRequest
		}
		return Attempt{Outcome: Failed, Failure: kind, Raw: res.Raw, Err: err}
	}
	switch res.Outcome {
	case Redirect:
		if strings.TrimSpace(res.RedirectURL) == "" {
			return Attempt{Outcome: NoAction, ProviderReference: res.ProviderReference, Raw: res.Raw}
		}
		return Attempt{Outcome: Redirect, RedirectURL: res.RedirectURL, ProviderReference: res.ProviderReference, Raw: res.Raw}
	case NoAction:
		return Attempt{Outcome: NoAction, ProviderReference: res.ProviderReference, Raw: res.Raw}
	default:
		kind := res.Failure
		if kind == FailureNone {
			kind = FailureInvalidRequest
		}
		return Attempt{Outcome: Failed, Failure: kind, Raw: res.Raw, Err: fmt.Errorf("%s: %s", kind, res.Message)}
	}
}

// StrategiesByName resolves configured strategy names in order. Unknown names
// are reported.
func StrategiesByName(names []string) ([]Strategy, error) {
	known := map[string]Strategy{
		StrategyDirectIntent: DirectIntent{},
		StrategyHostedPage:   HostedPage{},
	}
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, ok := known[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("payment: unknown session strategy %q", name)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return DefaultStrategies(), nil
	}
	return out, nil
}

// DefaultStrategies tries a direct intent first and falls back to a hosted page.
func DefaultStrategies() []Strategy {
	return []Strategy{DirectIntent{}, HostedPage{}}
}
