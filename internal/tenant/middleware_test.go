package tenant_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

func TestResolverPrefersHeader(t *testing.T) {
	r := tenant.NewResolver("", "journals.example", "")
	req := httptest.NewRequest(http.MethodGet, "http://ijcs.journals.example/pay", nil)
	req.Header.Set("X-Tenant-ID", "override")
	require.Equal(t, "override", r.Resolve(req))
}

func TestResolverSubdomain(t *testing.T) {
	r := tenant.NewResolver("X-Tenant-ID", "journals.example", "")

	req := httptest.NewRequest(http.MethodGet, "http://ijcs.journals.example:8080/pay", nil)
	require.Equal(t, "ijcs", r.Resolve(req))

	req = httptest.NewRequest(http.MethodGet, "http://journals.example/pay", nil)
	require.Empty(t, r.Resolve(req))

	req = httptest.NewRequest(http.MethodGet, "http://elsewhere.test/pay", nil)
	require.Empty(t, r.Resolve(req))
}

func TestMiddlewareDefaultAndRequire(t *testing.T) {
	var seen string
	h := tenant.NewResolver("", "", "main").Middleware(tenant.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = tenant.From(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "main", seen)

	bare := tenant.NewResolver("", "", "").Middleware(tenant.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKey(t *testing.T) {
	require.Equal(t, "j1:fulfill:42", tenant.Key("j1", "fulfill", "42"))
	require.Equal(t, "fulfill:42", tenant.Key("", "fulfill", "", "42"))
}
