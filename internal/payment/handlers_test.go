package payment_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/emspub-checkout/internal/payment"
	"github.com/noah-isme/emspub-checkout/internal/sandbox"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

func (f *fixture) router(t *testing.T, sandboxOn bool) http.Handler {
	t.Helper()
	h := &payment.Handler{
		Guard:   sandbox.Guard{Flag: sandbox.Static(sandboxOn), Logger: zerolog.Nop()},
		Builder: f.builder(),
		Returns: f.returns(),
		Links:   f.links,
		Logger:  zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(tenant.With(r.Context(), testTenant)))
		})
	})
	r.Route("/payment/plugin/{method}", h.Routes)
	return r
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) payment.View {
	t.Helper()
	var v payment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPayRedirects(t *testing.T) {
	qp := pendingPayment(7, "19.99", "USD")
	f := newFixture(t, qp)
	f.gateway.results[payment.ModeHostedPage] = payment.SessionResult{Outcome: payment.Redirect, RedirectURL: "https://checkout.stripe.test/cs_7"}

	rec := httptest.NewRecorder()
	f.router(t, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment/plugin/"+testMethod+"/pay/7", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "https://checkout.stripe.test/cs_7", rec.Header().Get("Location"))
}

func TestPaySandboxView(t *testing.T) {
	f := newFixture(t, pendingPayment(7, "19.99", "USD"))

	rec := httptest.NewRecorder()
	f.router(t, true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment/plugin/"+testMethod+"/pay/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payment.ViewSandbox, decodeView(t, rec).Kind)
	require.Zero(t, f.gateway.calls.Load())
}

func TestCreateSessionJSON(t *testing.T) {
	f := newFixture(t, pendingPayment(7, "19.99", "USD"))
	f.gateway.results[payment.ModeHostedPage] = payment.SessionResult{Outcome: payment.Redirect, RedirectURL: "https://checkout.stripe.test/cs_7", ProviderReference: "cs_7"}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/payment/plugin/"+testMethod+"/sessions", strings.NewReader(`{"queuedPaymentId":7}`))
	f.router(t, false).ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body payment.SessionRedirect
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://checkout.stripe.test/cs_7", body.URL)
	require.Equal(t, "cs_7", body.ProviderReference)
}

func TestReturnRoute(t *testing.T) {
	qp := pendingPayment(7, "19.99", "USD")
	f := newFixture(t, qp)
	f.paidSession("cs_test_7", qp)
	router := f.router(t, false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment/plugin/"+testMethod+"/return?queuedPaymentId=7&session_id=cs_test_7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeView(t, rec)
	require.Equal(t, payment.ViewSuccess, v.Kind)
	require.Equal(t, "19.99", v.Amount)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment/plugin/"+testMethod+"/return?queuedPaymentId=nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	v = decodeView(t, rec)
	require.Equal(t, payment.ViewError, v.Kind)
	require.Equal(t, payment.GenericMessage, v.Message)
	require.NotContains(t, rec.Body.String(), "queuedPaymentId")
}

func TestUnknownMethodIs404(t *testing.T) {
	f := newFixture(t, pendingPayment(7, "19.99", "USD"))
	rec := httptest.NewRecorder()
	f.router(t, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payment/plugin/PayPal/pay/7", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Zero(t, f.gateway.calls.Load())
}

func TestLinks(t *testing.T) {
	l := payment.Links{BaseURL: "https://journal.example/", Method: testMethod}
	require.Equal(t, "https://journal.example/payment/plugin/"+testMethod+"/pay/7", l.Pay(7))
	require.Equal(t, "https://journal.example/payment/plugin/"+testMethod+"/return?queuedPaymentId=7", l.Return(7))
	require.Equal(t, l.Return(7)+"&session_id={CHECKOUT_SESSION_ID}", l.Success(7))
	require.Equal(t, l.Return(7)+"&status=cancel", l.Cancel(7))
}
