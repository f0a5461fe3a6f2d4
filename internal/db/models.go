package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	QueuedPaymentStatusPending = "pending"
	QueuedPaymentStatusPaid    = "paid"
)

// QueuedPayment mirrors a queued_payments row. Amount is carried as the
// NUMERIC text representation to avoid float rounding.
type QueuedPayment struct {
	ID           int64
	TenantID     string
	UserID       pgtype.Text
	Amount       string
	CurrencyCode string
	Descriptor   string
	Status       string
	PaidMethod   pgtype.Text
	PaidAt       pgtype.Timestamptz
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type PaymentSetting struct {
	TenantID     string
	PluginName   string
	SettingName  string
	SettingValue string
	SettingType  string
	UpdatedAt    pgtype.Timestamptz
}

type AuditLog struct {
	ID        int64              `json:"id"`
	TenantID  string             `json:"tenantId"`
	Actor     string             `json:"actor"`
	Action    string             `json:"action"`
	Resource  string             `json:"resource"`
	Method    string             `json:"method"`
	Path      string             `json:"path"`
	Status    int32              `json:"status"`
	IP        pgtype.Text        `json:"ip"`
	UserAgent pgtype.Text        `json:"userAgent"`
	RequestID pgtype.Text        `json:"requestId"`
	Metadata  []byte             `json:"-"`
	CreatedAt pgtype.Timestamptz `json:"createdAt"`
}
