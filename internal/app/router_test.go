package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	validator "github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/config"
	"github.com/noah-isme/emspub-checkout/internal/payment"
	"github.com/noah-isme/emspub-checkout/internal/ratelimit"
)

func testConfig() *config.Config {
	return &config.Config{
		PublicBaseURL:          "https://journal.example",
		MetricsNamespace:       "emspub_test",
		TenantHeader:           "X-Tenant-ID",
		PaymentSandboxRedisKey: "config:general:sandbox",
		PaymentMethodName:      "EmsPubStripePayment",
		PaymentMethodTypes:     []string{"card"},
		PaymentStrategies:      []string{"direct_intent", "hosted_page"},
		GatewayTimeout:         time.Second,
		FulfillLockTTL:         time.Second,
		IdempotencyTTL:         time.Minute,
		PayRateLimitMax:        10,
		PayRateLimitWindow:     time.Minute,
		ReturnRateLimitMax:     30,
		ReturnRateLimitWindow:  time.Minute,
		MaxRequestBodyBytes:    64 << 10,
		SecurityHeadersEnabled: true,
		AdminRateLimit:         "100-M",
		AdminRateLimitKey:      "rl:admin",
	}
}

func testDeps(t *testing.T, withTokens bool) (*Dependencies, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := ratelimit.NewStore(rdb, "rl:admin")
	require.NoError(t, err)
	deps := &Dependencies{Redis: rdb, Validator: validator.New(), LimiterStore: store}
	deps.Breaker, deps.HTTPClient = GatewayClient(testConfig(), zerolog.Nop())
	if withTokens {
		deps.Tokens, err = auth.NewTokens(auth.Config{Secret: "s3cret"})
		require.NoError(t, err)
	}
	return deps, mr
}

func serve(t *testing.T, h http.Handler, method, target, tenantID, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndMetrics(t *testing.T) {
	deps, _ := testDeps(t, false)
	h, err := NewRouter(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/health/live", "", "", "").Code)

	rec := serve(t, h, http.MethodGet, "/health/ready", "", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "ok", status["redis"])
	require.Equal(t, "closed", status["gateway"])

	rec = serve(t, h, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "emspub_test_http_requests_total")
}

func TestRouterCheckoutRequiresTenantAndMethod(t *testing.T) {
	deps, _ := testDeps(t, false)
	h, err := NewRouter(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)

	rec := serve(t, h, http.MethodGet, "/payment/plugin/EmsPubStripePayment/pay/7", "", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "TENANT_REQUIRED")

	rec = serve(t, h, http.MethodGet, "/payment/plugin/PayPal/pay/7", "ijcs", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRouterSandboxShortCircuitsCheckout(t *testing.T) {
	deps, mr := testDeps(t, false)
	require.NoError(t, mr.Set("config:general:sandbox", "true"))
	h, err := NewRouter(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)

	rec := serve(t, h, http.MethodGet, "/payment/plugin/EmsPubStripePayment/pay/7", "ijcs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v payment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, payment.ViewSandbox, v.Kind)
}

func TestRouterAdminRoutes(t *testing.T) {
	deps, mr := testDeps(t, false)
	h, err := NewRouter(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/admin/sandbox", "", "", "").Code)

	deps, mr = testDeps(t, true)
	h, err = NewRouter(testConfig(), deps, zerolog.Nop())
	require.NoError(t, err)
	global, _, err := deps.Tokens.Issue("ops", auth.AnyTenant)
	require.NoError(t, err)
	scoped, _, err := deps.Tokens.Issue("editor", "ijcs")
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, serve(t, h, http.MethodGet, "/admin/sandbox", "", "", "").Code)

	rec := serve(t, h, http.MethodPut, "/admin/sandbox", "ijcs", scoped, `{"sandbox":true}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.False(t, mr.Exists("config:general:sandbox"))

	rec = serve(t, h, http.MethodPut, "/admin/sandbox", "", global, `{"sandbox":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := mr.Get("config:general:sandbox")
	require.NoError(t, err)
	require.Equal(t, "true", got)

	rec = serve(t, h, http.MethodGet, "/admin/payment-settings", "", global, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "TENANT_REQUIRED")
}

func TestRouterRejectsUnknownStrategy(t *testing.T) {
	deps, _ := testDeps(t, false)
	cfg := testConfig()
	cfg.PaymentStrategies = []string{"paypal_express"}
	_, err := NewRouter(cfg, deps, zerolog.Nop())
	require.Error(t, err)
}

func TestRouterPayAndReturnKeepSeparateBudgets(t *testing.T) {
	deps, mr := testDeps(t, false)
	require.NoError(t, mr.Set("config:general:sandbox", "true"))
	cfg := testConfig()
	cfg.ReturnRateLimitMax = 1
	cfg.PayRateLimitMax = 2
	h, err := NewRouter(cfg, deps, zerolog.Nop())
	require.NoError(t, err)

	returnURL := "/payment/plugin/EmsPubStripePayment/return?queuedPaymentId=abc"
	rec := serve(t, h, http.MethodGet, returnURL, "ijcs", "", "")
	require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, http.StatusTooManyRequests, serve(t, h, http.MethodGet, returnURL, "ijcs", "", "").Code)

	// An exhausted return budget leaves the pay route untouched.
	rec = serve(t, h, http.MethodGet, "/payment/plugin/EmsPubStripePayment/pay/7", "ijcs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	require.True(t, mr.Exists("rl:return:ijcs:return:192.0.2.1"))
	require.True(t, mr.Exists("rl:pay:ijcs:pay:192.0.2.1"))
}
