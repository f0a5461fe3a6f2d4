package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/db"
)

type stubQueries struct {
	mu        sync.Mutex
	payments  map[int64]db.QueuedPayment
	completed []db.InsertCompletedPaymentParams
}

func newStubQueries(rows ...db.QueuedPayment) *stubQueries {
	s := &stubQueries{payments: make(map[int64]db.QueuedPayment)}
	for _, row := range rows {
		s.payments[row.ID] = row
	}
	return s
}

func (s *stubQueries) GetQueuedPayment(_ context.Context, id int64) (db.QueuedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.payments[id]
	if !ok {
		return db.QueuedPayment{}, pgx.ErrNoRows
	}
	return row, nil
}

func (s *stubQueries) MarkQueuedPaymentPaid(_ context.Context, arg db.MarkQueuedPaymentPaidParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.payments[arg.ID]
	if !ok || row.Status != db.QueuedPaymentStatusPending {
		return 0, nil
	}
	row.Status = db.QueuedPaymentStatusPaid
	row.PaidMethod = pgtype.Text{String: arg.Method, Valid: true}
	s.payments[arg.ID] = row
	return 1, nil
}

func (s *stubQueries) InsertCompletedPayment(_ context.Context, arg db.InsertCompletedPaymentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, arg)
	return nil
}

func pendingRow(id int64) db.QueuedPayment {
	return db.QueuedPayment{
		ID:           id,
		TenantID:     "journal-1",
		Amount:       "19.99",
		CurrencyCode: "usd",
		Descriptor:   "Article processing charge",
		Status:       db.QueuedPaymentStatusPending,
	}
}

func TestGetQueuedPayment(t *testing.T) {
	store := &billing.Store{Q: newStubQueries(pendingRow(7))}

	qp, err := store.GetQueuedPayment(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "19.99", qp.FormattedAmount())
	require.Equal(t, "USD", qp.CurrencyCode)
	require.Equal(t, "Article processing charge", qp.Name())
	require.False(t, qp.Paid())

	_, err = store.GetQueuedPayment(context.Background(), 8)
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func TestGetQueuedPaymentRejectsCorruptAmount(t *testing.T) {
	row := pendingRow(3)
	row.Amount = "nineteen"
	store := &billing.Store{Q: newStubQueries(row)}
	_, err := store.GetQueuedPayment(context.Background(), 3)
	require.Error(t, err)
}

func TestFulfillQueuedPaymentIsSingleTransition(t *testing.T) {
	stub := newStubQueries(pendingRow(7))
	store := &billing.Store{Q: stub}
	qp, err := store.GetQueuedPayment(context.Background(), 7)
	require.NoError(t, err)

	require.NoError(t, store.FulfillQueuedPayment(context.Background(), qp, "EmsPubStripePayment"))
	err = store.FulfillQueuedPayment(context.Background(), qp, "EmsPubStripePayment")
	require.ErrorIs(t, err, billing.ErrAlreadyFulfilled)

	require.Len(t, stub.completed, 1)
	require.Equal(t, "19.99", stub.completed[0].Amount)
	require.Equal(t, "EmsPubStripePayment", stub.completed[0].PaymentMethod)

	reloaded, err := store.GetQueuedPayment(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, reloaded.Paid())
	require.Equal(t, "EmsPubStripePayment", reloaded.PaidMethod)
}

func TestFulfillQueuedPaymentConcurrentCallsCreditOnce(t *testing.T) {
	stub := newStubQueries(pendingRow(9))
	store := &billing.Store{Q: stub}
	qp, err := store.GetQueuedPayment(context.Background(), 9)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.FulfillQueuedPayment(context.Background(), qp, "stripe")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, billing.ErrAlreadyFulfilled)
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, stub.completed, 1)
}

func TestFulfillQueuedPaymentRunsInsideTransaction(t *testing.T) {
	stub := newStubQueries(pendingRow(11))
	calls := 0
	store := &billing.Store{
		Q: stub,
		InTx: func(ctx context.Context, fn func(billing.Querier) error) error {
			calls++
			return fn(stub)
		},
	}
	qp, err := store.GetQueuedPayment(context.Background(), 11)
	require.NoError(t, err)
	require.NoError(t, store.FulfillQueuedPayment(context.Background(), qp, "stripe"))
	require.Equal(t, 1, calls)
}

func TestFulfillQueuedPaymentMissing(t *testing.T) {
	store := &billing.Store{Q: newStubQueries()}
	err := store.FulfillQueuedPayment(context.Background(), billing.QueuedPayment{ID: 404}, "stripe")
	require.True(t, errors.Is(err, billing.ErrNotFound))
}
