// Package audit records operator changes made through the admin API.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/emspub-checkout/internal/common"
	"github.com/noah-isme/emspub-checkout/internal/db"
	"github.com/noah-isme/emspub-checkout/internal/obs"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, arg db.InsertAuditLogParams) error
	ListAuditLogs(ctx context.Context, arg db.ListAuditLogsParams) ([]db.AuditLog, error)
}

// Entry describes one audited admin request.
type Entry struct {
	Actor    string
	Action   string
	Resource string
	Status   int
	Metadata map[string]any
}

// Service persists audit logs for operator actions.
type Service struct {
	Store   Store
	Enabled bool
}

// Record persists e for req when auditing is enabled.
func (s Service) Record(ctx context.Context, req *http.Request, e Entry) error {
	if !s.Enabled {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	tenantID, _ := tenant.From(ctx)
	status := e.Status
	if status == 0 {
		status = http.StatusOK
	}
	actor := strings.TrimSpace(e.Actor)
	if actor == "" {
		actor = "anonymous"
	}

	return s.Store.InsertAuditLog(ctx, db.InsertAuditLogParams{
		TenantID:  tenantID,
		Actor:     actor,
		Action:    buildAction(e.Action, req.Method, route),
		Resource:  buildResource(e.Resource, route),
		Method:    req.Method,
		Path:      req.URL.Path,
		Status:    int32(status),
		IP:        text(common.ClientIP(req)),
		UserAgent: text(req.Header.Get("User-Agent")),
		RequestID: text(req.Header.Get("X-Request-ID")),
		Metadata:  toJSONB(e.Metadata),
	})
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

func buildResource(resource, route string) string {
	if trimmed := strings.TrimSpace(resource); trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(route, "/")
	if segments[0] == "admin" && len(segments) > 1 {
		segments = segments[1:]
	}
	return strings.Join(segments, ".")
}

func text(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func toJSONB(metadata map[string]any) []byte {
	if len(metadata) == 0 {
		return nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return data
}
