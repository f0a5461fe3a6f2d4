package sandbox_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/emspub-checkout/internal/auth"
	"github.com/noah-isme/emspub-checkout/internal/sandbox"
)

func TestHandlerPutRequiresGlobalOperator(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := auth.NewTokens(auth.Config{Secret: "test-secret"})
	require.NoError(t, err)
	h := sandbox.Handler{Flag: sandbox.RedisFlag{Client: client, Key: "config:general:sandbox"}, Logger: zerolog.Nop()}
	put := auth.Middleware{Tokens: tokens}.RequireOperator(http.HandlerFunc(h.Put))

	send := func(tenantClaim string) *httptest.ResponseRecorder {
		token, _, err := tokens.Issue("ops", tenantClaim)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPut, "/admin/sandbox", strings.NewReader(`{"sandbox":true}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		put.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusForbidden, send("ijcs").Code)
	require.False(t, mr.Exists("config:general:sandbox"))

	require.Equal(t, http.StatusOK, send(auth.AnyTenant).Code)
	got, err := mr.Get("config:general:sandbox")
	require.NoError(t, err)
	require.Equal(t, "true", got)

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/admin/sandbox", nil))
	require.JSONEq(t, `{"sandbox":true}`, rec.Body.String())
}
