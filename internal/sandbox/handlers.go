package sandbox

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/common"
)

// Handler lets operators read and flip the deployment-wide switch. Only
// tokens scoped to every tenant may change it.
type Handler struct {
	Flag   RedisFlag
	Logger zerolog.Logger
}

type sandboxBody struct {
	Sandbox *bool `json:"sandbox"`
}

// Get reports the current switch value.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	on, err := h.Flag.Sandbox(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("read sandbox flag")
		common.JSONError(w, http.StatusServiceUnavailable, "SANDBOX_UNAVAILABLE", "sandbox flag unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"sandbox": on})
}

// Put sets the switch.
func (h Handler) Put(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || claims.Tenant != auth.AnyTenant {
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
		return
	}
	var body sandboxBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Sandbox == nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "sandbox must be a boolean", nil)
		return
	}
	if err := h.Flag.Set(r.Context(), *body.Sandbox); err != nil {
		h.Logger.Error().Err(err).Msg("write sandbox flag")
		common.JSONError(w, http.StatusServiceUnavailable, "SANDBOX_UNAVAILABLE", "sandbox flag unavailable", nil)
		return
	}
	h.Logger.Warn().Str("operator", claims.Subject).Bool("sandbox", *body.Sandbox).Msg("sandbox switch changed")
	common.JSON(w, http.StatusOK, map[string]bool{"sandbox": *body.Sandbox})
}
