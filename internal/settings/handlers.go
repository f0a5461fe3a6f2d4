package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/common"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

// Handler exposes the admin settings endpoints.
type Handler struct {
	Provider  Provider
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type settingsResp struct {
	AccountName string `json:"accountName"`
	ClientID    string `json:"clientId"`
	Secret      string `json:"secret"`
	TestMode    bool   `json:"testMode"`
	Webhook     bool   `json:"webhookConfigured"`
	Configured  bool   `json:"configured"`
}

func toResp(s PaymentSettings) settingsResp {
	return settingsResp{
		AccountName: s.AccountName,
		ClientID:    s.ClientID,
		Secret:      s.MaskedSecret(),
		TestMode:    s.TestMode,
		Webhook:     s.WebhookSecret != "",
		Configured:  s.Configured(),
	}
}

// Get returns the tenant's settings with the secret masked.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.From(r.Context())
	s, err := h.Provider.Load(r.Context(), tenantID)
	if err != nil {
		h.fail(w, err)
		return
	}
	common.JSON(w, http.StatusOK, toResp(s))
}

// Put saves the submitted form. Unknown fields are ignored.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := tenant.From(r.Context())
	var form Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	v := h.Validator
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		details := map[string]string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "invalid settings", details)
		return
	}
	s, err := h.Provider.Save(r.Context(), tenantID, form)
	if err != nil {
		h.fail(w, err)
		return
	}
	operator, _ := auth.FromContext(r.Context())
	h.Logger.Info().
		Str("tenant_id", tenantID).
		Str("operator", operator.Subject).
		Bool("configured", s.Configured()).
		Bool("test_mode", s.TestMode).
		Msg("payment settings updated")
	common.JSON(w, http.StatusOK, toResp(s))
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNoTenant) {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant could not be resolved", nil)
		return
	}
	h.Logger.Error().Err(err).Msg("payment settings store")
	common.JSONError(w, http.StatusInternalServerError, "SETTINGS_UNAVAILABLE", "settings unavailable", nil)
}
