package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/noah-isme/emspub-checkout/internal/common"
	"github.com/noah-isme/emspub-checkout/internal/db"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

// Handler exposes the tenant's audit trail to operators.
type Handler struct {
	Store Store
}

type logResp struct {
	db.AuditLog
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// List returns a page of the resolved tenant's audit logs, newest first.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := atoiDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	tenantID, _ := tenant.From(r.Context())

	rows, err := h.Store.ListAuditLogs(r.Context(), db.ListAuditLogsParams{TenantID: tenantID, Limit: int32(limit), Offset: int32(offset)})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	out := make([]logResp, 0, len(rows))
	for _, row := range rows {
		out = append(out, logResp{AuditLog: row, Metadata: row.Metadata})
	}
	common.JSON(w, http.StatusOK, out)
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
