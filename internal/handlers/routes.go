package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/admission-go/internal/ratelimit"
)

// RegisterRoutes registers the usage endpoint and the demo API.
// Admission middleware must already be installed on api.
func RegisterRoutes(api huma.API, usage *UsageHandler) {
	// GET /ratelimit/usage - Inspect the caller's window
	// Reading usage must not consume it
	huma.Register(api, huma.Operation{
		OperationID: "get-rate-limit-usage",
		Method:      http.MethodGet,
		Path:        "/ratelimit/usage",
		Summary:     "Inspect rate limit usage",
		Description: "Reports the policy and current window of the calling identity for a path.",
		Tags:        []string{"Rate limits"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
		},
	}, usage.GetUsage)

	registerDemo(api, http.MethodPost, "/api/v1/auth/login", "Log in")
	registerDemo(api, http.MethodPost, "/api/v1/auth/register", "Register")
	registerDemo(api, http.MethodPost, "/api/v1/qwen/chat", "Chat completion")
	registerDemo(api, http.MethodGet, "/api/v1/users/me", "Current user")

	// GET /api/v1/users/{id} - every id shares one window per client
	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}",
		Summary:     "Get user",
		Tags:        []string{"Demo"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Bucket: "/api/v1/users/{id}"},
		},
	}, GetUser)
}

func registerDemo(api huma.API, method, path, summary string) {
	huma.Register(api, huma.Operation{
		OperationID: huma.GenerateOperationID(method, path, nil),
		Method:      method,
		Path:        path,
		Summary:     summary,
		Tags:        []string{"Demo"},
	}, Echo(method, path))
}
