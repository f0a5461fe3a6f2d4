package common_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/emspub-checkout/internal/common"
)

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	cause := errors.New("stripe: card_declined payload")
	common.WriteError(rec, common.NewAppError("PAYMENT_FAILED", "payment could not be completed", http.StatusBadGateway, cause))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "payment could not be completed")
	require.NotContains(t, rec.Body.String(), "card_declined")

	rec = httptest.NewRecorder()
	common.WriteError(rec, cause)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "card_declined")
}

func TestIdempotencyRejectsReplayPerScope(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	idem := common.Idem{R: client, TTL: time.Minute, Scope: func(r *http.Request) string { return r.Header.Get("X-Tenant-ID") }}
	h := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(tenantID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/7/session", nil)
		req.Header.Set("Idempotency-Key", "abc")
		req.Header.Set("X-Tenant-ID", tenantID)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusCreated, send("j1"))
	require.Equal(t, http.StatusConflict, send("j1"))
	require.Equal(t, http.StatusCreated, send("j2"))
	require.Equal(t, 2, calls)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	require.Equal(t, "10.0.0.9", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "not-an-ip, 198.51.100.4")
	require.Equal(t, "198.51.100.4", common.ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "garbage")
	req.RemoteAddr = "[::ffff:192.0.2.1]:443"
	require.Equal(t, "192.0.2.1", common.ClientIP(req))
}
