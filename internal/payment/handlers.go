package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/emspub-checkout/internal/common"
	"github.com/noah-isme/emspub-checkout/internal/sandbox"
	"github.com/noah-isme/emspub-checkout/internal/tenant"
)

// MaxWebhookBody caps gateway notification payloads.
const MaxWebhookBody = 256 << 10

// RouteMiddleware holds optional per-route middleware.
type RouteMiddleware struct {
	Pay      []func(http.Handler) http.Handler
	Sessions []func(http.Handler) http.Handler
	Return   []func(http.Handler) http.Handler
}

// Handler exposes the checkout flow over HTTP.
type Handler struct {
	Guard      sandbox.Guard
	Builder    *SessionBuilder
	Returns    *ReturnHandler
	Webhooks   *WebhookProcessor
	Links      Links
	Middleware RouteMiddleware
	Logger     zerolog.Logger
}

// Routes mounts the browser-facing checkout routes under
// /payment/plugin/{method}.
func (h *Handler) Routes(r chi.Router) {
	r.With(h.Middleware.Pay...).Get("/pay/{queuedPaymentId}", h.Pay)
	r.With(h.Middleware.Sessions...).Post("/sessions", h.CreateSession)
	r.With(h.Middleware.Return...).Get("/return", h.Return)
}

func (h *Handler) methodMatches(w http.ResponseWriter, r *http.Request) bool {
	if chi.URLParam(r, "method") != h.Links.Method {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "unknown payment method", nil)
		return false
	}
	return true
}

func (h *Handler) requestConfig(r *http.Request) RequestConfig {
	return RequestConfig{Sandbox: h.Guard.Engaged(r.Context())}
}

// Pay starts a session and redirects the browser to the provider.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	if !h.methodMatches(w, r) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "queuedPaymentId"), 10, 64)
	if err != nil || id <= 0 {
		h.renderError(w, r, ErrUnknownPayment)
		return
	}
	tenantID, _ := tenant.From(r.Context())
	redirect, err := h.Builder.Begin(r.Context(), h.requestConfig(r), tenantID, id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect.URL, http.StatusSeeOther)
}

type createSessionReq struct {
	QueuedPaymentID int64 `json:"queuedPaymentId"`
}

// CreateSession is the API form of Pay: it returns the redirect as JSON.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.methodMatches(w, r) {
		return
	}
	var req createSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if req.QueuedPaymentID <= 0 {
		h.renderError(w, r, ErrUnknownPayment)
		return
	}
	tenantID, _ := tenant.From(r.Context())
	redirect, err := h.Builder.Begin(r.Context(), h.requestConfig(r), tenantID, req.QueuedPaymentID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, redirect)
}

// Return handles the provider callback and renders the resulting view.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	if !h.methodMatches(w, r) {
		return
	}
	req, err := ParseReturn(r.URL.Query())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	tenantID, _ := tenant.From(r.Context())
	view, qp, err := h.Returns.Handle(r.Context(), h.requestConfig(r), tenantID, req)
	if err != nil {
		v, status := h.Links.ErrorView(err, qp)
		h.logFailure(r, err, status)
		common.JSON(w, status, v)
		return
	}
	common.JSON(w, http.StatusOK, view)
}

// Webhook receives asynchronous provider notifications.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if !h.methodMatches(w, r) {
		return
	}
	if h.Webhooks == nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "webhooks not enabled", nil)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read payload", nil)
		return
	}
	tenantID, _ := tenant.From(r.Context())
	res, err := h.Webhooks.Process(r.Context(), h.requestConfig(r), tenantID, body, r.Header.Get("Stripe-Signature"))
	if err == nil {
		common.JSON(w, http.StatusOK, map[string]string{"result": string(res)})
		return
	}
	c := Classify(err)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed", nil)
	case errors.Is(err, ErrNotConfigured):
		common.JSONError(w, http.StatusNotFound, c.Code, c.Message, nil)
	case errors.Is(err, ErrGatewayUnavailable):
		h.logFailure(r, err, http.StatusServiceUnavailable)
		common.JSONError(w, http.StatusServiceUnavailable, c.Code, c.Message, nil)
	case errors.Is(err, ErrUnknownPayment), errors.Is(err, ErrMissingCorrelation), errors.Is(err, ErrPaymentNotCompleted):
		h.logFailure(r, err, http.StatusOK)
		common.JSON(w, http.StatusOK, map[string]string{"result": "refused", "code": c.Code})
	default:
		h.logFailure(r, err, http.StatusInternalServerError)
		common.JSONError(w, http.StatusInternalServerError, c.Code, c.Message, nil)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	v, status := h.Links.ErrorView(err, nil)
	h.logFailure(r, err, status)
	common.JSON(w, status, v)
}

func (h *Handler) logFailure(r *http.Request, err error, status int) {
	evt := h.Logger.Info()
	if status >= http.StatusInternalServerError {
		evt = h.Logger.Error()
	} else if status >= http.StatusBadRequest {
		evt = h.Logger.Warn()
	}
	tenantID, _ := tenant.From(r.Context())
	evt.Err(err).
		Str("tenant_id", tenantID).
		Str("path", r.URL.Path).
		Str("result", strings.ToLower(Classify(err).Code)).
		Int("status", status).
		Msg("payment request finished without redirect")
}
