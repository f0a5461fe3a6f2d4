package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/emspub-checkout/internal/db"
)

// Querier lists the queries the billing store depends on.
type Querier interface {
	GetQueuedPayment(ctx context.Context, id int64) (db.QueuedPayment, error)
	MarkQueuedPaymentPaid(ctx context.Context, arg db.MarkQueuedPaymentPaidParams) (int64, error)
	InsertCompletedPayment(ctx context.Context, arg db.InsertCompletedPaymentParams) error
}

// TxRunner executes fn inside a single database transaction.
type TxRunner func(ctx context.Context, fn func(Querier) error) error

// Store reads queued payments and applies fulfillment.
type Store struct {
	Q    Querier
	InTx TxRunner
}

// NewStore wires a Store backed by the pool, running fulfillment in a transaction.
func NewStore(pool *pgxpool.Pool) *Store {
	q := db.New(pool)
	return &Store{
		Q: q,
		InTx: func(ctx context.Context, fn func(Querier) error) error {
			tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback(ctx) }()
			if err := fn(q.WithTx(tx)); err != nil {
				return err
			}
			return tx.Commit(ctx)
		},
	}
}

// GetQueuedPayment loads a queued payment by id.
func (s *Store) GetQueuedPayment(ctx context.Context, id int64) (QueuedPayment, error) {
	if s == nil || s.Q == nil {
		return QueuedPayment{}, errors.New("billing store not configured")
	}
	row, err := s.Q.GetQueuedPayment(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QueuedPayment{}, ErrNotFound
		}
		return QueuedPayment{}, err
	}
	return fromRow(row)
}

// FulfillQueuedPayment marks the payment paid and records the completed
// payment. The status-guarded update makes the transition unique: when the
// row is no longer pending, ErrAlreadyFulfilled is returned and nothing is
// credited a second time.
func (s *Store) FulfillQueuedPayment(ctx context.Context, qp QueuedPayment, method string) error {
	if s == nil || s.Q == nil {
		return errors.New("billing store not configured")
	}
	ctx, span := otel.Tracer("billing.Store").Start(ctx, "BillingStore.FulfillQueuedPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("queued_payment.id", qp.ID), attribute.String("payment.method", method))

	run := s.InTx
	if run == nil {
		run = func(ctx context.Context, fn func(Querier) error) error { return fn(s.Q) }
	}
	err := run(ctx, func(q Querier) error {
		moved, err := q.MarkQueuedPaymentPaid(ctx, db.MarkQueuedPaymentPaidParams{ID: qp.ID, Method: method})
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if moved == 0 {
			current, err := q.GetQueuedPayment(ctx, qp.ID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrNotFound
				}
				return err
			}
			if current.Status == db.QueuedPaymentStatusPaid {
				return ErrAlreadyFulfilled
			}
			return fmt.Errorf("billing: payment %d in unexpected status %q", qp.ID, current.Status)
		}
		return q.InsertCompletedPayment(ctx, db.InsertCompletedPaymentParams{
			QueuedPaymentID: qp.ID,
			TenantID:        qp.TenantID,
			Amount:          qp.Amount.StringFixed(2),
			CurrencyCode:    qp.CurrencyCode,
			PaymentMethod:   method,
		})
	})
	if err != nil && !errors.Is(err, ErrAlreadyFulfilled) {
		span.RecordError(err)
	}
	return err
}
