package ratelimit

import (
	"path"

	"github.com/danielgtaylor/huma/v2"
)

// MetadataKey is the key used to store rate limit config in operation metadata.
const MetadataKey = "rateLimit"

// EndpointConfig defines per-endpoint rate limit configuration.
// This can be attached to Huma operations via the Metadata field.
type EndpointConfig struct {
	// Bucket replaces the request path as the endpoint part of the rate limit key,
	// so that every path served by the operation shares one window per client.
	// The policy is still resolved from the request path.
	Bucket string

	// Disabled skips rate limiting entirely for this endpoint.
	Disabled bool
}

// GetEndpointConfig extracts the EndpointConfig from operation metadata, if present.
func GetEndpointConfig(ctx huma.Context) *EndpointConfig {
	op := ctx.Operation()
	if op == nil || op.Metadata == nil {
		return nil
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)
	if !ok {
		return nil
	}

	return &cfg
}

// NormalizePath cleans a request path so equivalent spellings share a window.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}

	if p[0] != '/' {
		p = "/" + p
	}

	return path.Clean(p)
}

// EndpointFor returns the normalized request path and the endpoint name used in the
// rate limit key for ctx.
func EndpointFor(ctx huma.Context) (requestPath, bucket string) {
	u := ctx.URL()
	requestPath = NormalizePath(u.Path)
	bucket = requestPath

	if cfg := GetEndpointConfig(ctx); cfg != nil && cfg.Bucket != "" {
		bucket = cfg.Bucket
	}

	return requestPath, bucket
}
