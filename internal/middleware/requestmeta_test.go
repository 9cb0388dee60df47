package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/serroba/admission-go/internal/middleware"
	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOutput struct {
	Body string `json:"body"`
}

// identityFor serves one request through RequestMeta and returns the identity the
// handler saw.
func identityFor(t *testing.T, trustProxy bool, req *http.Request) ratelimit.Identity {
	t.Helper()

	router := chi.NewMux()
	api := humachi.New(router, huma.DefaultConfig("Test", "1.0.0"))
	api.UseMiddleware(middleware.RequestMeta(api, trustProxy))

	ids := make(chan ratelimit.Identity, 1)

	huma.Get(api, "/test", func(ctx context.Context, _ *struct{}) (*testOutput, error) {
		ids <- ratelimit.IdentityFromContext(ctx)

		return &testOutput{Body: "ok"}, nil
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	return <-ids
}

func TestRequestMeta(t *testing.T) {
	t.Run("uses the principal header when present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(middleware.HeaderPrincipalID, "42")

		assert.Equal(t, "user:42", identityFor(t, false, req).String())
	})

	t.Run("falls back to the peer address without the port", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "203.0.113.7:51234"

		assert.Equal(t, "ip:203.0.113.7", identityFor(t, false, req).String())
	})

	t.Run("handles IPv6 peer addresses", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "[2001:db8::1]:443"

		assert.Equal(t, "ip:2001:db8::1", identityFor(t, false, req).String())
	})

	t.Run("ignores forwarding headers unless the proxy is trusted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "10.0.0.2:8080"
		req.Header.Set("X-Forwarded-For", "198.51.100.1")

		assert.Equal(t, "ip:10.0.0.2", identityFor(t, false, req).String())
	})

	t.Run("takes the first X-Forwarded-For address behind a trusted proxy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "10.0.0.2:8080"
		req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1, 172.16.0.1")

		assert.Equal(t, "ip:198.51.100.1", identityFor(t, true, req).String())
	})

	t.Run("uses X-Real-IP behind a trusted proxy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Real-IP", "198.51.100.9")

		assert.Equal(t, "ip:198.51.100.9", identityFor(t, true, req).String())
	})

	t.Run("keeps an address without a port as is", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "203.0.113.7"

		assert.Equal(t, "ip:203.0.113.7", identityFor(t, false, req).String())
	})

	t.Run("degrades to unknown", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = ""

		id := identityFor(t, false, req)

		assert.Equal(t, ratelimit.IdentityUnknown, id.Kind())
		assert.Equal(t, "ip:unknown", id.String())
	})
}
