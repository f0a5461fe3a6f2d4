package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestHeadersOnCheckoutResponses(t *testing.T) {
	handler := Headers{Enable: true, EnableHSTS: true, HSTSIncludeSubdomains: true}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "https://pay.example.com/payment/plugin/stripe/pay?queuedPaymentId=1", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	want := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"Cache-Control":             "no-store",
		"Referrer-Policy":           "no-referrer",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	}
	for name, value := range want {
		if got := rr.Header().Get(name); got != value {
			t.Fatalf("%s: expected %q, got %q", name, value, got)
		}
	}
}

func TestHeadersHSTSBehindProxy(t *testing.T) {
	handler := Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 600}.Middleware(okHandler())

	plain := httptest.NewRecorder()
	handler.ServeHTTP(plain, httptest.NewRequest(http.MethodGet, "http://pay.example.com/", nil))
	if got := plain.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("hsts must not be sent over plain http, got %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "http://pay.example.com/", nil)
	req.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	proxied := httptest.NewRecorder()
	handler.ServeHTTP(proxied, req)
	if got := proxied.Header().Get("Strict-Transport-Security"); got != "max-age=600" {
		t.Fatalf("expected hsts from forwarded proto, got %q", got)
	}
}

func TestHeadersMiddlewareDisabled(t *testing.T) {
	handler := Headers{Enable: false, EnableHSTS: true}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com", nil))
	if rr.Header().Get("X-Content-Type-Options") != "" {
		t.Fatal("expected no security headers when disabled")
	}
}
