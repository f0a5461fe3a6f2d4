package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/noah-isme/emspub-checkout/internal/common"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

type claimsKey struct{}

// FromContext returns the operator claims attached by RequireOperator.
func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}

// Middleware guards admin routes.
type Middleware struct {
	Tokens *Tokens
}

// RequireOperator demands a bearer token whose tenant claim covers the
// request's resolved tenant.
func (m Middleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Tokens == nil {
			common.JSONError(w, http.StatusServiceUnavailable, "ADMIN_DISABLED", "admin api not configured", nil)
			return
		}
		claims, err := m.Tokens.Parse(bearer(r))
		if err != nil {
			common.WriteError(w, err)
			return
		}
		tenantID, _ := tenant.From(r.Context())
		if !claims.Allows(tenantID) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func bearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
