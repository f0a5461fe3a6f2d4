package tenant

import (
	"net"
	"net/http"
	"strings"

	"github.com/noah-isme/emspub-checkout/internal/common"
)

// Resolver resolves tenants from a header or the request subdomain.
type Resolver struct {
	HeaderName    string
	RootDomain    string
	DefaultTenant string
}

// NewResolver returns a resolver. An empty headerName means "X-Tenant-ID".
func NewResolver(headerName, rootDomain, defaultTenant string) *Resolver {
	if strings.TrimSpace(headerName) == "" {
		headerName = "X-Tenant-ID"
	}
	return &Resolver{
		HeaderName:    headerName,
		RootDomain:    strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultTenant: strings.TrimSpace(defaultTenant),
	}
}

// Middleware injects the resolved tenant into the request context. Requests
// without a tenant pass through untouched; handlers decide what that means.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tenantID := r.Resolve(req)
		if tenantID == "" {
			tenantID = r.DefaultTenant
		}
		if tenantID != "" {
			req = req.WithContext(With(req.Context(), tenantID))
		}
		next.ServeHTTP(w, req)
	})
}

// Require rejects requests that carry no tenant.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if _, ok := From(req.Context()); !ok {
			common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve returns the tenant from the configured header, falling back to the
// first label of the host below RootDomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if tenantID := strings.TrimSpace(req.Header.Get(r.HeaderName)); tenantID != "" {
		return tenantID
	}
	host := hostWithoutPort(req.Host)
	if host == "" {
		return ""
	}
	return strings.TrimSpace(r.subdomainFromHost(host))
}

func (r *Resolver) subdomainFromHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if r.RootDomain == "" {
		return ""
	}
	if host == r.RootDomain {
		return ""
	}
	suffix := "." + r.RootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	parts := strings.Split(strings.TrimSuffix(host, suffix), ".")
	return parts[len(parts)-1]
}

func hostWithoutPort(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(hostport, "[]")
}
