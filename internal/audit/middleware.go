package audit

import (
	"net/http"

	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/obs"
)

// HTTPRecorder records admin requests after they have been handled.
type HTTPRecorder struct {
	Service Service
	OnError func(error)
}

// HTTPConfig customises how the audit entry is produced for a route.
type HTTPConfig struct {
	Action   string
	Resource string
	// Metadata, when set, adds details derived from the request and the
	// final status.
	Metadata func(*http.Request, int) map[string]any
}

// Middleware returns a chi-compatible middleware that records one entry per
// request. Reads are not audited.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Service.Enabled || req.Method == http.MethodGet || req.Method == http.MethodHead {
				next.ServeHTTP(w, req)
				return
			}

			recorder := obs.NewStatusRecorder(w)
			next.ServeHTTP(recorder, req)

			entry := Entry{
				Actor:    actor(req),
				Action:   cfg.Action,
				Resource: cfg.Resource,
				Status:   recorder.Status(),
			}
			if cfg.Metadata != nil {
				entry.Metadata = cfg.Metadata(req, entry.Status)
			}
			if err := r.Service.Record(req.Context(), req, entry); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}

func actor(req *http.Request) string {
	if claims, ok := auth.FromContext(req.Context()); ok {
		return claims.Subject
	}
	return ""
}
