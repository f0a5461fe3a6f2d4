// Package tenant resolves the journal (tenant) a request belongs to.
package tenant

import (
	"context"
	"strings"
)

type contextKey struct{}

// With stores the tenant identifier on the context.
func With(ctx context.Context, tenantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, strings.TrimSpace(tenantID))
}

// From extracts the tenant identifier from the context if one was resolved.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tenantID, ok := ctx.Value(contextKey{}).(string)
	if !ok || tenantID == "" {
		return "", false
	}
	return tenantID, true
}

// Key namespaces a Redis key per tenant: Key("j1", "fulfill", "42") -> "j1:fulfill:42".
func Key(tenantID string, parts ...string) string {
	segments := make([]string, 0, len(parts)+1)
	if tenantID != "" {
		segments = append(segments, tenantID)
	}
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, ":")
}
