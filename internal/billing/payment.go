// Package billing owns QueuedPayment records and their single pending -> paid
// transition. The checkout orchestrator reads payments through it and asks it
// to fulfill them; it never writes payment state directly.
package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/emspub-checkout/internal/db"
)

var (
	// ErrNotFound is returned when no queued payment exists for the id.
	ErrNotFound = errors.New("billing: queued payment not found")
	// ErrAlreadyFulfilled signals that the payment reached the paid state earlier.
	// Callers fulfilling at-least-once treat it as success.
	ErrAlreadyFulfilled = errors.New("billing: queued payment already fulfilled")
)

// QueuedPayment is an internal billing intent awaiting settlement.
type QueuedPayment struct {
	ID           int64
	TenantID     string
	UserID       string
	Amount       decimal.Decimal
	CurrencyCode string
	Descriptor   string
	Status       string
	PaidMethod   string
	PaidAt       *time.Time
}

// Paid reports whether the payment already reached its terminal state.
func (p QueuedPayment) Paid() bool {
	return p.Status == db.QueuedPaymentStatusPaid
}

// Name returns the human readable line-item name shown to the payer.
func (p QueuedPayment) Name() string {
	if name := strings.TrimSpace(p.Descriptor); name != "" {
		return name
	}
	return fmt.Sprintf("Payment #%d", p.ID)
}

// FormattedAmount renders the amount with the two decimals used on views.
func (p QueuedPayment) FormattedAmount() string {
	return p.Amount.StringFixed(2)
}

func fromRow(row db.QueuedPayment) (QueuedPayment, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(row.Amount))
	if err != nil {
		return QueuedPayment{}, fmt.Errorf("billing: parse amount for payment %d: %w", row.ID, err)
	}
	qp := QueuedPayment{
		ID:           row.ID,
		TenantID:     row.TenantID,
		Amount:       amount,
		CurrencyCode: strings.ToUpper(strings.TrimSpace(row.CurrencyCode)),
		Descriptor:   row.Descriptor,
		Status:       row.Status,
	}
	if row.UserID.Valid {
		qp.UserID = row.UserID.String
	}
	if row.PaidMethod.Valid {
		qp.PaidMethod = row.PaidMethod.String
	}
	if row.PaidAt.Valid {
		t := row.PaidAt.Time
		qp.PaidAt = &t
	}
	return qp, nil
}
