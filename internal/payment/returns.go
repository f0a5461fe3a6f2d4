package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/emspub-checkout/internal/billing"
	"github.com/noah-isme/emspub-checkout/internal/obs"
)

// ReturnRequest is the browser callback from the provider. Every field is an
// untrusted hint.
type ReturnRequest struct {
	QueuedPaymentID int64
	Cancel          bool
	// Correlation is the provider reference: the hosted session id or, for a
	// direct intent, the payment intent id.
	Correlation string
}

// ParseReturn reads a ReturnRequest from callback query parameters. Status
// hints such as payment_status or redirect_status are ignored.
func ParseReturn(q url.Values) (ReturnRequest, error) {
	raw := strings.TrimSpace(q.Get("queuedPaymentId"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return ReturnRequest{}, fmt.Errorf("%w: queuedPaymentId %q", ErrUnknownPayment, raw)
	}
	req := ReturnRequest{
		QueuedPaymentID: id,
		Cancel:          strings.EqualFold(strings.TrimSpace(q.Get("status")), "cancel"),
		Correlation:     strings.TrimSpace(q.Get("session_id")),
	}
	if req.Correlation == "" || req.Correlation == SessionPlaceholder {
		req.Correlation = strings.TrimSpace(q.Get("payment_intent"))
	}
	return req, nil
}

// ReturnHandler classifies provider callbacks and fulfills paid payments.
type ReturnHandler struct {
	Payments    PaymentReader
	Settings    SettingsLoader
	Gateways    GatewayFactory
	Coordinator *Coordinator
	Links       Links
	Logger      zerolog.Logger
	Diagnostics zerolog.Logger
}

// Handle classifies req for tenantID. On error the queued payment, when it
// could be loaded, is returned alongside for the error view.
func (h *ReturnHandler) Handle(ctx context.Context, rc RequestConfig, tenantID string, req ReturnRequest) (View, *billing.QueuedPayment, error) {
	ctx, span := otel.Tracer("payment.ReturnHandler").Start(ctx, "ReturnHandler.Handle")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.Int64("queued_payment.id", req.QueuedPaymentID))

	view, qp, err := h.handle(ctx, rc, tenantID, req)
	outcome := string(view.Kind)
	if err != nil {
		outcome = Label(err)
	}
	obs.Inc(obs.PaymentReturnTotal, outcome)
	span.SetAttributes(attribute.String("payment.return.outcome", outcome))
	return view, qp, err
}

func (h *ReturnHandler) handle(ctx context.Context, rc RequestConfig, tenantID string, req ReturnRequest) (View, *billing.QueuedPayment, error) {
	qp, err := h.Payments.GetQueuedPayment(ctx, req.QueuedPaymentID)
	if err != nil {
		if errors.Is(err, billing.ErrNotFound) {
			return View{}, nil, fmt.Errorf("%w: %d", ErrUnknownPayment, req.QueuedPaymentID)
		}
		return View{}, nil, fmt.Errorf("load queued payment: %w", err)
	}
	if tenantID == "" || qp.TenantID != tenantID {
		return View{}, nil, fmt.Errorf("%w: %d belongs to another tenant", ErrUnknownPayment, qp.ID)
	}

	if req.Cancel {
		h.Logger.Info().Str("tenant_id", tenantID).Int64("queued_payment_id", qp.ID).Msg("payment cancelled by payer")
		return h.Links.CancelledView(qp), &qp, nil
	}
	if rc.Sandbox {
		return View{}, &qp, ErrSandbox
	}
	if req.Correlation == "" {
		return View{}, &qp, ErrMissingCorrelation
	}

	cfg, err := h.Settings.Load(ctx, tenantID)
	if err != nil {
		return View{}, &qp, fmt.Errorf("load settings: %w", err)
	}
	if !cfg.Configured() {
		return View{}, &qp, ErrNotConfigured
	}
	gw, err := h.Gateways.ForTenant(cfg)
	if err != nil {
		return View{}, &qp, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	status, raw, err := fetchVerified(ctx, gw, req.Correlation)
	if err != nil {
		h.Diagnostics.Error().Err(err).Int64("queued_payment_id", qp.ID).Str("reference", req.Correlation).Msg("fetch session status failed")
		return View{}, &qp, err
	}
	if !status.Paid() {
		evt := h.Diagnostics.Warn().Int64("queued_payment_id", qp.ID).Str("reference", status.Reference()).Str("status", string(status.Status()))
		if len(raw) > 0 {
			evt = evt.RawJSON("payload", raw)
		}
		evt.Msg("session not paid")
		return View{}, &qp, fmt.Errorf("%w: provider status %s", ErrPaymentNotCompleted, status.Status())
	}

	if err := h.Coordinator.Fulfill(ctx, qp, status); err != nil {
		h.Diagnostics.Error().Err(err).Int64("queued_payment_id", qp.ID).Str("reference", status.Reference()).Msg("fulfillment failed")
		return View{}, &qp, err
	}
	return h.Links.SuccessView(qp), &qp, nil
}
