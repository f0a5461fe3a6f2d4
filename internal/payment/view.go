package payment

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/noah-isme/emspub-checkout/internal/billing"
)

// ViewKind names the page the display layer renders.
type ViewKind string

const (
	ViewSandbox       ViewKind = "sandbox"
	ViewNotConfigured ViewKind = "not_configured"
	ViewCancelled     ViewKind = "cancelled"
	ViewSuccess       ViewKind = "success"
	ViewError         ViewKind = "error"
)

// View is the data handed to the display layer. It never carries provider
// detail.
type View struct {
	Kind     ViewKind `json:"kind"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message,omitempty"`
	ItemName string   `json:"itemName,omitempty"`
	Amount   string   `json:"amount,omitempty"`
	Currency string   `json:"currency,omitempty"`
	BackLink string   `json:"backLink,omitempty"`
	Retry    bool     `json:"retry,omitempty"`
}

// SessionPlaceholder is substituted by the provider with the session id.
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// Links builds the public URLs of the checkout flow.
type Links struct {
	BaseURL string
	Method  string
}

func (l Links) base() string { return strings.TrimRight(l.BaseURL, "/") }

// Pay is the browser entry point that starts a session.
func (l Links) Pay(queuedPaymentID int64) string {
	return fmt.Sprintf("%s/payment/plugin/%s/pay/%d", l.base(), url.PathEscape(l.Method), queuedPaymentID)
}

// Return is the provider callback URL correlated by queued payment id.
func (l Links) Return(queuedPaymentID int64) string {
	q := url.Values{"queuedPaymentId": {strconv.FormatInt(queuedPaymentID, 10)}}
	return fmt.Sprintf("%s/payment/plugin/%s/return?%s", l.base(), url.PathEscape(l.Method), q.Encode())
}

// Success appends the provider placeholder unescaped so the provider can
// substitute it.
func (l Links) Success(queuedPaymentID int64) string {
	return l.Return(queuedPaymentID) + "&session_id=" + SessionPlaceholder
}

// Cancel marks the callback as a cancellation.
func (l Links) Cancel(queuedPaymentID int64) string {
	return l.Return(queuedPaymentID) + "&status=cancel"
}

// Dashboard is the back link after a cancellation.
func (l Links) Dashboard() string { return l.base() + "/dashboard" }

// PendingPayments is the back link after a successful payment.
func (l Links) PendingPayments() string { return l.base() + "/emspubcore/pendingPayments" }

func withPayment(v View, qp *billing.QueuedPayment) View {
	if qp == nil {
		return v
	}
	v.ItemName = qp.Name()
	v.Amount = qp.FormattedAmount()
	v.Currency = qp.CurrencyCode
	return v
}

// SuccessView is shown after fulfillment.
func (l Links) SuccessView(qp billing.QueuedPayment) View {
	return withPayment(View{Kind: ViewSuccess, Message: "payment completed", BackLink: l.PendingPayments()}, &qp)
}

// CancelledView is shown when the payer abandons the hosted page.
func (l Links) CancelledView(qp billing.QueuedPayment) View {
	return withPayment(View{Kind: ViewCancelled, Message: "payment cancelled", BackLink: l.Dashboard()}, &qp)
}

// ErrorView presents err. qp may be nil when the payment could not be loaded.
func (l Links) ErrorView(err error, qp *billing.QueuedPayment) (View, int) {
	c := Classify(err)
	v := View{Kind: c.Kind, Code: c.Code, Message: c.Message, Retry: c.Retry}
	switch c.Kind {
	case ViewSuccess:
		v.BackLink = l.PendingPayments()
	case ViewError:
		if qp != nil && c.Retry {
			v.BackLink = l.Pay(qp.ID)
		} else {
			v.BackLink = l.Dashboard()
		}
	default:
		v.BackLink = l.Dashboard()
	}
	return withPayment(v, qp), c.HTTPStatus
}
