package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/emspub-checkout/internal/obs"
)

// VerifiedStatus is a session status read from the provider during the
// current request. Only fetchVerified can build one, so request parameters
// can never stand in for it.
type VerifiedStatus struct {
	status SessionStatus
}

// Paid reports whether the provider says the session is paid.
func (v VerifiedStatus) Paid() bool { return v.status.Status == StatusPaid }

// Status returns the provider status.
func (v VerifiedStatus) Status() ProviderStatus { return v.status.Status }

// Reference returns the provider session reference.
func (v VerifiedStatus) Reference() string { return v.status.Reference }

// ClientReference returns the queued payment id recorded on the session.
func (v VerifiedStatus) ClientReference() string { return v.status.ClientReference }

// fetchVerified asks the gateway for the authoritative status of reference.
func fetchVerified(ctx context.Context, gw Gateway, reference string) (VerifiedStatus, []byte, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return VerifiedStatus{}, nil, ErrMissingCorrelation
	}
	start := time.Now()
	st, err := gw.FetchSessionStatus(ctx, reference)
	result := "ok"
	if err != nil {
		result = "error"
	}
	if obs.GatewayRequestDuration != nil {
		obs.GatewayRequestDuration.WithLabelValues("fetch_session_status", result).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) {
			return VerifiedStatus{}, nil, err
		}
		return VerifiedStatus{}, nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	if st.Status == "" {
		st.Status = StatusUnknown
	}
	if st.Reference == "" {
		st.Reference = reference
	}
	return VerifiedStatus{status: st}, st.Raw, nil
}
