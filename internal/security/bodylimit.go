package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/noah-isme/emspub-checkout/internal/common"
)

// BodyLimit caps request payloads. The body is buffered so signature checks
// downstream see exactly the bytes that were sent. Overrides raises or lowers
// the cap for path prefixes; the longest matching prefix wins.
type BodyLimit struct {
	Max       int64
	Overrides map[string]int64
}

func (b BodyLimit) limitFor(path string) int64 {
	limit, matched := b.Max, ""
	for prefix, max := range b.Overrides {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(matched) {
			limit, matched = max, prefix
		}
	}
	return limit
}

// Middleware rejects oversized bodies with 413 PAYLOAD_TOO_LARGE.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := b.limitFor(r.URL.Path)
		if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			tooLarge(w)
			return
		}

		buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		_ = r.Body.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
			return
		}
		if int64(len(buf)) > limit {
			tooLarge(w)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func tooLarge(w http.ResponseWriter) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
}
