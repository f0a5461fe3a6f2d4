package payment

import (
	"errors"
	"net/http"
	"strings"
)

// Error taxonomy. Every failure leaving this package wraps one of these.
var (
	ErrNotConfigured         = errors.New("payment: method not configured for tenant")
	ErrInvalidAmount         = errors.New("payment: invalid amount")
	ErrRejected              = errors.New("payment: rejected by provider")
	ErrSessionCreationFailed = errors.New("payment: session creation failed")
	ErrUnknownPayment        = errors.New("payment: unknown queued payment")
	ErrMissingCorrelation    = errors.New("payment: missing session correlation")
	ErrPaymentNotCompleted   = errors.New("payment: payment not completed")
	ErrGatewayUnavailable    = errors.New("payment: gateway unavailable")

	// ErrSandbox is informational: the deployment processes no payments.
	ErrSandbox = errors.New("payment: sandbox mode")
	// ErrAlreadyPaid is informational: the queued payment needs no session.
	ErrAlreadyPaid = errors.New("payment: queued payment already paid")
)

// GenericMessage is the only failure text an end user ever sees.
const GenericMessage = "payment could not be completed"

// Class is the presentation of an error.
type Class struct {
	Kind       ViewKind
	Code       string
	Message    string
	HTTPStatus int
	Retry      bool
}

// Classify maps err onto the taxonomy. Unrecognised errors present as a
// generic failure.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Class{Kind: ViewSuccess, HTTPStatus: http.StatusOK}
	case errors.Is(err, ErrSandbox):
		return Class{Kind: ViewSandbox, Code: "SANDBOX", Message: "payment processing is disabled in this environment", HTTPStatus: http.StatusOK}
	case errors.Is(err, ErrNotConfigured):
		return Class{Kind: ViewNotConfigured, Code: "NOT_CONFIGURED", Message: "this payment method is not configured", HTTPStatus: http.StatusOK}
	case errors.Is(err, ErrAlreadyPaid):
		return Class{Kind: ViewSuccess, Code: "ALREADY_PAID", Message: "this payment has already been completed", HTTPStatus: http.StatusOK}
	case errors.Is(err, ErrGatewayUnavailable):
		return Class{Kind: ViewError, Code: "GATEWAY_UNAVAILABLE", Message: GenericMessage, HTTPStatus: http.StatusBadGateway, Retry: true}
	case errors.Is(err, ErrInvalidAmount):
		return Class{Kind: ViewError, Code: "INVALID_AMOUNT", Message: GenericMessage, HTTPStatus: http.StatusUnprocessableEntity}
	case errors.Is(err, ErrRejected):
		return Class{Kind: ViewError, Code: "REJECTED", Message: GenericMessage, HTTPStatus: http.StatusPaymentRequired}
	case errors.Is(err, ErrSessionCreationFailed):
		return Class{Kind: ViewError, Code: "SESSION_CREATION_FAILED", Message: GenericMessage, HTTPStatus: http.StatusBadGateway}
	case errors.Is(err, ErrUnknownPayment):
		return Class{Kind: ViewError, Code: "UNKNOWN_PAYMENT", Message: GenericMessage, HTTPStatus: http.StatusNotFound}
	case errors.Is(err, ErrMissingCorrelation):
		return Class{Kind: ViewError, Code: "MISSING_CORRELATION", Message: GenericMessage, HTTPStatus: http.StatusBadRequest}
	case errors.Is(err, ErrPaymentNotCompleted):
		return Class{Kind: ViewError, Code: "PAYMENT_NOT_COMPLETED", Message: GenericMessage, HTTPStatus: http.StatusConflict}
	default:
		return Class{Kind: ViewError, Code: "PAYMENT_FAILED", Message: GenericMessage, HTTPStatus: http.StatusInternalServerError}
	}
}

// Label is a stable metric label for err.
func Label(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(Classify(err).Code)
}
