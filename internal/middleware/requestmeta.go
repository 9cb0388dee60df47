package middleware

import (
	"net"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/ratelimit"
)

// HeaderPrincipalID carries the authenticated principal set by the auth layer in front
// of this service. It is trusted as is.
const HeaderPrincipalID = "X-Principal-ID"

// RequestMeta is a middleware that resolves the caller identity and adds it to the
// request context. Forwarding headers are only honoured when trustProxy is set.
func RequestMeta(_ huma.API, trustProxy bool) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		id := ratelimit.ResolveIdentity(ctx.Header(HeaderPrincipalID), clientIP(ctx, trustProxy))

		newCtx := ratelimit.ContextWithIdentity(ctx.Context(), id)
		ctx = huma.WithContext(ctx, newCtx)

		next(ctx)
	}
}

func clientIP(ctx huma.Context, trustProxy bool) string {
	if trustProxy {
		// Take the first IP (original client)
		if xff := ctx.Header("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")

			return strings.TrimSpace(first)
		}

		if xri := ctx.Header("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	addr := ctx.RemoteAddr()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}
