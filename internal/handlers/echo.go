package handlers

import (
	"context"
	"net/http"

	"github.com/serroba/admission-go/internal/ratelimit"
)

// Echo returns a demo handler that reports who called which route.
func Echo(method, path string) func(ctx context.Context, _ *struct{}) (*EchoResponse, error) {
	return func(ctx context.Context, _ *struct{}) (*EchoResponse, error) {
		return echoResponse(ctx, method, path), nil
	}
}

// GetUser is the demo handler for a single user.
func GetUser(ctx context.Context, req *UserRequest) (*EchoResponse, error) {
	return echoResponse(ctx, http.MethodGet, "/api/v1/users/"+req.ID), nil
}

func echoResponse(ctx context.Context, method, path string) *EchoResponse {
	resp := &EchoResponse{}
	resp.Body.Method = method
	resp.Body.Path = path
	resp.Body.Identity = ratelimit.IdentityFromContext(ctx).String()

	return resp
}
