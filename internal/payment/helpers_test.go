package payment_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/db"
	"github.com/noah-isme/emspub-checkout/internal/payment"
	"github.com/noah-isme/emspub-checkout/internal/settings"
)

const (
	testTenant = "ijcs"
	testMethod = "EmsPubStripePayment"
)

type fakeBilling struct {
	mu       sync.Mutex
	payments map[int64]billing.QueuedPayment
	credits  int
}

func newFakeBilling(qps ...billing.QueuedPayment) *fakeBilling {
	f := &fakeBilling{payments: make(map[int64]billing.QueuedPayment)}
	for _, qp := range qps {
		f.payments[qp.ID] = qp
	}
	return f
}

func (f *fakeBilling) GetQueuedPayment(_ context.Context, id int64) (billing.QueuedPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qp, ok := f.payments[id]
	if !ok {
		return billing.QueuedPayment{}, billing.ErrNotFound
	}
	return qp, nil
}

func (f *fakeBilling) FulfillQueuedPayment(_ context.Context, qp billing.QueuedPayment, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.payments[qp.ID]
	if !ok {
		return billing.ErrNotFound
	}
	if cur.Paid() {
		return billing.ErrAlreadyFulfilled
	}
	cur.Status = db.QueuedPaymentStatusPaid
	cur.PaidMethod = method
	f.payments[qp.ID] = cur
	f.credits++
	return nil
}

func (f *fakeBilling) status(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payments[id].Status
}

func (f *fakeBilling) creditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits
}

type fakeSettings map[string]settings.PaymentSettings

func (f fakeSettings) Load(_ context.Context, tenantID string) (settings.PaymentSettings, error) {
	if tenantID == "" {
		return settings.PaymentSettings{}, settings.ErrNoTenant
	}
	return f[tenantID], nil
}

type fakeGateway struct {
	mu       sync.Mutex
	results  map[payment.SessionMode]payment.SessionResult
	errs     map[payment.SessionMode]error
	statuses map[string]payment.SessionStatus
	fetchErr error
	requests []payment.SessionRequest
	fetches  []string
	calls    atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		results:  make(map[payment.SessionMode]payment.SessionResult),
		errs:     make(map[payment.SessionMode]error),
		statuses: make(map[string]payment.SessionStatus),
	}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payment.SessionRequest) (payment.SessionResult, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if err := g.errs[req.Mode]; err != nil {
		return payment.SessionResult{}, err
	}
	res, ok := g.results[req.Mode]
	if !ok {
		return payment.SessionResult{Outcome: payment.NoAction}, nil
	}
	return res, nil
}

func (g *fakeGateway) FetchSessionStatus(_ context.Context, reference string) (payment.SessionStatus, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches = append(g.fetches, reference)
	if g.fetchErr != nil {
		return payment.SessionStatus{}, g.fetchErr
	}
	st, ok := g.statuses[reference]
	if !ok {
		return payment.SessionStatus{Reference: reference, Status: payment.StatusUnknown}, nil
	}
	return st, nil
}

type fixture struct {
	billing  *fakeBilling
	settings fakeSettings
	gateway  *fakeGateway
	builds   atomic.Int32
	links    payment.Links
}

func pendingPayment(id int64, amount, currency string) billing.QueuedPayment {
	return billing.QueuedPayment{
		ID:           id,
		TenantID:     testTenant,
		Amount:       decimal.RequireFromString(amount),
		CurrencyCode: currency,
		Descriptor:   "Article processing charge",
		Status:       db.QueuedPaymentStatusPending,
	}
}

func newFixture(t *testing.T, qps ...billing.QueuedPayment) *fixture {
	t.Helper()
	return &fixture{
		billing: newFakeBilling(qps...),
		settings: fakeSettings{testTenant: {
			SecretKey:   "sk_test_123",
			AccountName: "IJCS Press",
			TestMode:    true,
		}},
		gateway: newFakeGateway(),
		links:   payment.Links{BaseURL: "https://journal.example", Method: testMethod},
	}
}

func (f *fixture) factory() payment.GatewayFactory {
	return payment.GatewayFactoryFunc(func(s settings.PaymentSettings) (payment.Gateway, error) {
		f.builds.Add(1)
		if s.SecretKey == "" {
			return nil, errors.New("no secret")
		}
		return f.gateway, nil
	})
}

func (f *fixture) builder() *payment.SessionBuilder {
	return &payment.SessionBuilder{
		Payments:    f.billing,
		Settings:    f.settings,
		Gateways:    f.factory(),
		Links:       f.links,
		MethodTypes: []string{"card"},
		Logger:      zerolog.Nop(),
		Diagnostics: zerolog.Nop(),
	}
}

func (f *fixture) coordinator() *payment.Coordinator {
	return &payment.Coordinator{Billing: f.billing, Method: testMethod, Logger: zerolog.Nop()}
}

func (f *fixture) returns() *payment.ReturnHandler {
	return &payment.ReturnHandler{
		Payments:    f.billing,
		Settings:    f.settings,
		Gateways:    f.factory(),
		Coordinator: f.coordinator(),
		Links:       f.links,
		Logger:      zerolog.Nop(),
		Diagnostics: zerolog.Nop(),
	}
}

func (f *fixture) paidSession(ref string, qp billing.QueuedPayment) {
	f.gateway.mu.Lock()
	defer f.gateway.mu.Unlock()
	f.gateway.statuses[ref] = payment.SessionStatus{
		Reference:       ref,
		Status:          payment.StatusPaid,
		ClientReference: strconv.FormatInt(qp.ID, 10),
		AmountMinor:     payment.MinorUnits(qp.Amount),
		Currency:        strings.ToLower(qp.CurrencyCode),
	}
}
