// Package payment drives a queued payment through a hosted checkout: it opens
// a gateway session, interprets the browser's return and fulfills the payment
// exactly once.
package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/emspub-checkout/internal/settings"
)

// SessionMode selects the kind of provider session to open.
type SessionMode string

const (
	// ModeDirectIntent confirms a payment intent immediately and follows any
	// 3-D Secure redirect the provider asks for.
	ModeDirectIntent SessionMode = "payment_intent"
	// ModeHostedPage opens a provider-hosted checkout page.
	ModeHostedPage SessionMode = "checkout_session"
)

// Outcome tags a session creation result.
type Outcome int

const (
	// Failed means the attempt produced nothing usable.
	Failed Outcome = iota
	// Redirect carries a URL the browser must be sent to.
	Redirect
	// NoAction means the call succeeded without anything to redirect to.
	NoAction
)

func (o Outcome) String() string {
	switch o {
	case Redirect:
		return "redirect"
	case NoAction:
		return "no_action"
	default:
		return "failed"
	}
}

// FailureKind classifies a failed session creation.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureGatewayUnavailable FailureKind = "gateway_unavailable"
	FailureInvalidRequest     FailureKind = "invalid_request"
	FailureRejected           FailureKind = "rejected"
)

// SessionRequest is everything a gateway needs to open one payment attempt.
type SessionRequest struct {
	Mode            SessionMode
	QueuedPaymentID int64
	Amount          decimal.Decimal
	Currency        string
	Descriptor      string
	// SuccessURL and CancelURL are used by hosted pages. SuccessURL carries the
	// provider's session placeholder.
	SuccessURL string
	CancelURL  string
	// ReturnURL is where a direct intent sends the browser after 3-D Secure.
	ReturnURL          string
	PaymentMethodTypes []string
	Metadata           map[string]string
}

// SessionResult is the typed answer to CreateCheckoutSession. Business
// rejections are results, not errors.
type SessionResult struct {
	Outcome           Outcome
	RedirectURL       string
	ProviderReference string
	Failure           FailureKind
	Message           string
	Raw               []byte
}

// ProviderStatus is the provider's view of a session.
type ProviderStatus string

const (
	StatusCreated   ProviderStatus = "created"
	StatusPaid      ProviderStatus = "paid"
	StatusUnpaid    ProviderStatus = "unpaid"
	StatusCancelled ProviderStatus = "cancelled"
	StatusUnknown   ProviderStatus = "unknown"
)

// SessionStatus is a fresh read of a session from the provider.
type SessionStatus struct {
	Reference       string
	Status          ProviderStatus
	ClientReference string
	AmountMinor     int64
	Currency        string
	Raw             []byte
}

// Gateway is the typed client of the external checkout provider.
type Gateway interface {
	// CreateCheckoutSession opens a session. Transport and authentication
	// failures are returned as errors wrapping ErrGatewayUnavailable.
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (SessionResult, error)
	// FetchSessionStatus reads the current status. It has no side effects.
	FetchSessionStatus(ctx context.Context, reference string) (SessionStatus, error)
}

// GatewayFactory builds a Gateway authenticated with a tenant's credentials.
type GatewayFactory interface {
	ForTenant(s settings.PaymentSettings) (Gateway, error)
}

// GatewayFactoryFunc adapts a function to GatewayFactory.
type GatewayFactoryFunc func(s settings.PaymentSettings) (Gateway, error)

// ForTenant implements GatewayFactory.
func (f GatewayFactoryFunc) ForTenant(s settings.PaymentSettings) (Gateway, error) { return f(s) }

// MinorUnits converts a two-decimal amount into provider minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func normaliseCurrency(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
