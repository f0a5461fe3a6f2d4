package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getQueuedPayment = `-- name: GetQueuedPayment :one
SELECT id, tenant_id, user_id, amount::text, currency_code, descriptor, status, paid_method, paid_at, created_at, updated_at
FROM queued_payments
WHERE id = $1
`

func (q *Queries) GetQueuedPayment(ctx context.Context, id int64) (QueuedPayment, error) {
	row := q.db.QueryRow(ctx, getQueuedPayment, id)
	var i QueuedPayment
	err := row.Scan(
		&i.ID,
		&i.TenantID,
		&i.UserID,
		&i.Amount,
		&i.CurrencyCode,
		&i.Descriptor,
		&i.Status,
		&i.PaidMethod,
		&i.PaidAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const markQueuedPaymentPaid = `-- name: MarkQueuedPaymentPaid :execrows
UPDATE queued_payments
SET status = 'paid', paid_method = $2, paid_at = now(), updated_at = now()
WHERE id = $1 AND status = 'pending'
`

type MarkQueuedPaymentPaidParams struct {
	ID     int64
	Method string
}

// MarkQueuedPaymentPaid performs the guarded pending -> paid transition and
// reports how many rows moved. Zero means another request already won.
func (q *Queries) MarkQueuedPaymentPaid(ctx context.Context, arg MarkQueuedPaymentPaidParams) (int64, error) {
	result, err := q.db.Exec(ctx, markQueuedPaymentPaid, arg.ID, arg.Method)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const insertCompletedPayment = `-- name: InsertCompletedPayment :exec
INSERT INTO completed_payments (queued_payment_id, tenant_id, amount, currency_code, payment_method)
VALUES ($1, $2, $3::numeric, $4, $5)
`

type InsertCompletedPaymentParams struct {
	QueuedPaymentID int64
	TenantID        string
	Amount          string
	CurrencyCode    string
	PaymentMethod   string
}

func (q *Queries) InsertCompletedPayment(ctx context.Context, arg InsertCompletedPaymentParams) error {
	_, err := q.db.Exec(ctx, insertCompletedPayment,
		arg.QueuedPaymentID,
		arg.TenantID,
		arg.Amount,
		arg.CurrencyCode,
		arg.PaymentMethod,
	)
	return err
}

const getPaymentSetting = `-- name: GetPaymentSetting :one
SELECT tenant_id, plugin_name, setting_name, setting_value, setting_type, updated_at
FROM payment_settings
WHERE tenant_id = $1 AND plugin_name = $2 AND setting_name = $3
`

type GetPaymentSettingParams struct {
	TenantID    string
	PluginName  string
	SettingName string
}

func (q *Queries) GetPaymentSetting(ctx context.Context, arg GetPaymentSettingParams) (PaymentSetting, error) {
	row := q.db.QueryRow(ctx, getPaymentSetting, arg.TenantID, arg.PluginName, arg.SettingName)
	var i PaymentSetting
	err := row.Scan(
		&i.TenantID,
		&i.PluginName,
		&i.SettingName,
		&i.SettingValue,
		&i.SettingType,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertPaymentSetting = `-- name: UpsertPaymentSetting :exec
INSERT INTO payment_settings (tenant_id, plugin_name, setting_name, setting_value, setting_type)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, plugin_name, setting_name)
DO UPDATE SET setting_value = EXCLUDED.setting_value, setting_type = EXCLUDED.setting_type, updated_at = now()
`

type UpsertPaymentSettingParams struct {
	TenantID     string
	PluginName   string
	SettingName  string
	SettingValue string
	SettingType  string
}

func (q *Queries) UpsertPaymentSetting(ctx context.Context, arg UpsertPaymentSettingParams) error {
	_, err := q.db.Exec(ctx, upsertPaymentSetting,
		arg.TenantID,
		arg.PluginName,
		arg.SettingName,
		arg.SettingValue,
		arg.SettingType,
	)
	return err
}

const insertQueuedPayment = `-- name: InsertQueuedPayment :one
INSERT INTO queued_payments (tenant_id, user_id, amount, currency_code, descriptor)
VALUES ($1, $2, $3::numeric, $4, $5)
RETURNING id
`

type InsertQueuedPaymentParams struct {
	TenantID     string
	UserID       pgtype.Text
	Amount       string
	CurrencyCode string
	Descriptor   string
}

func (q *Queries) InsertQueuedPayment(ctx context.Context, arg InsertQueuedPaymentParams) (int64, error) {
	row := q.db.QueryRow(ctx, insertQueuedPayment,
		arg.TenantID,
		arg.UserID,
		arg.Amount,
		arg.CurrencyCode,
		arg.Descriptor,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const insertAuditLog = `-- name: InsertAuditLog :exec
INSERT INTO audit_logs (tenant_id, actor, action, resource, method, path, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

type InsertAuditLogParams struct {
	TenantID  string
	Actor     string
	Action    string
	Resource  string
	Method    string
	Path      string
	Status    int32
	IP        pgtype.Text
	UserAgent pgtype.Text
	RequestID pgtype.Text
	Metadata  []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, insertAuditLog,
		arg.TenantID,
		arg.Actor,
		arg.Action,
		arg.Resource,
		arg.Method,
		arg.Path,
		arg.Status,
		arg.IP,
		arg.UserAgent,
		arg.RequestID,
		arg.Metadata,
	)
	return err
}

const listAuditLogs = `-- name: ListAuditLogs :many
SELECT id, tenant_id, actor, action, resource, method, path, status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs
WHERE tenant_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`

type ListAuditLogsParams struct {
	TenantID string
	Limit    int32
	Offset   int32
}

func (q *Queries) ListAuditLogs(ctx context.Context, arg ListAuditLogsParams) ([]AuditLog, error) {
	rows, err := q.db.Query(ctx, listAuditLogs, arg.TenantID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []AuditLog{}
	for rows.Next() {
		var i AuditLog
		if err := rows.Scan(
			&i.ID,
			&i.TenantID,
			&i.Actor,
			&i.Action,
			&i.Resource,
			&i.Method,
			&i.Path,
			&i.Status,
			&i.IP,
			&i.UserAgent,
			&i.RequestID,
			&i.Metadata,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
